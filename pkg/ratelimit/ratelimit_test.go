package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestStore_PerKeyBuckets(t *testing.T) {
	s := NewStore(rate.Limit(1), 2)

	assert.True(t, s.Allow("10.0.0.1"))
	assert.True(t, s.Allow("10.0.0.1"))
	assert.False(t, s.Allow("10.0.0.1"))

	assert.True(t, s.Allow("10.0.0.2"))
	assert.Equal(t, 2, s.Len())
}

func TestStore_Prune(t *testing.T) {
	s := NewStore(rate.Limit(1), 1)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.Allow("a")
	now = now.Add(5 * time.Minute)
	s.Allow("b")

	assert.Equal(t, 1, s.Prune(time.Minute))
	assert.Equal(t, 1, s.Len())
}

func TestPerMinute(t *testing.T) {
	assert.Equal(t, rate.Inf, PerMinute(0))
	assert.InDelta(t, 1.0, float64(PerMinute(60)), 1e-9)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"remote addr", "192.168.1.5:4321", "", "192.168.1.5"},
		{"forwarded chain", "10.0.0.1:80", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"garbage forwarded header", "10.0.0.1:80", "not-an-ip", "10.0.0.1"},
		{"no port", "10.0.0.9", "", "10.0.0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
