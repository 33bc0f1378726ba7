package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got: %v", err)
	}
	assert.Equal(t, 20*time.Second, cfg.ScreenShare.RequestViewTimeout)
	assert.Equal(t, 1, cfg.ScreenShare.MaxICERestarts)
	assert.Equal(t, "open", cfg.Membership.Backend)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "signal path must be absolute",
			mutate: func(c *Config) { c.Signal.Path = "ws" },
		},
		{
			name: "pong timeout must exceed ping interval",
			mutate: func(c *Config) {
				c.Signal.PingInterval = 10 * time.Second
				c.Signal.PongTimeout = 5 * time.Second
			},
		},
		{
			name:   "send buffer must be > 0",
			mutate: func(c *Config) { c.Signal.SendBufferSize = 0 },
		},
		{
			name:   "request view timeout must be > 0",
			mutate: func(c *Config) { c.ScreenShare.RequestViewTimeout = 0 },
		},
		{
			name:   "ice restarts must be >= 0",
			mutate: func(c *Config) { c.ScreenShare.MaxICERestarts = -1 },
		},
		{
			name:   "unknown membership backend",
			mutate: func(c *Config) { c.Membership.Backend = "ldap" },
		},
		{
			name:   "redis membership without redis",
			mutate: func(c *Config) { c.Membership.Backend = "redis" },
		},
		{
			name: "ice server without urls",
			mutate: func(c *Config) {
				c.WebRTC.ICEServers = append(c.WebRTC.ICEServers, ICEServer{})
			},
		},
		{
			name: "port range inverted",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 20000
				c.WebRTC.PortRange.Max = 10000
			},
		},
		{
			name: "ws messages per second must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.WebSocket.MessagesPerSecond = 0
			},
		},
		{
			name: "tracing sample rate out of range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 2
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "/ws", cfg.Signal.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
  read_timeout: 10s
  write_timeout: 15s

screenshare:
  request_view_timeout: 5s
  max_ice_restarts: 2

webrtc:
  ice_servers:
    - urls: ["stun:stun.example.org:3478"]

membership:
  backend: static
  static:
    ROOM1: ["alice", "bob"]

logging:
  level: debug
`)

	t.Setenv("STUDYROOM_SERVER_ADDRESS", ":9500")
	t.Setenv("STUDYROOM_TURN_URL", "turn:turn.example.org:3478")
	t.Setenv("STUDYROOM_TURN_USERNAME", "u")
	t.Setenv("STUDYROOM_TURN_CREDENTIAL", "p")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9500", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.ScreenShare.RequestViewTimeout)
	assert.Equal(t, 2, cfg.ScreenShare.MaxICERestarts)
	assert.Equal(t, "static", cfg.Membership.Backend)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Membership.Static["ROOM1"])
	assert.Equal(t, "debug", cfg.Logging.Level)

	require.Len(t, cfg.WebRTC.ICEServers, 2)
	assert.Equal(t, []string{"turn:turn.example.org:3478"}, cfg.WebRTC.ICEServers[1].URLs)
	assert.Equal(t, "u", cfg.WebRTC.ICEServers[1].Username)
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	path := writeTempConfig(t, `
screenshare:
  request_view_timeout: 0s
`)
	_, err := Load(path)
	assert.Error(t, err)
}
