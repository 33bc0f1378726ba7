package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), fastConfig(2), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	bad := errors.New("NOAUTH")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	assert.Equal(t, bad, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(3), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoValue(t *testing.T) {
	v, err := DoValue(context.Background(), fastConfig(1), func(context.Context) (string, error) {
		return "PONG", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "PONG", v)
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, Backoff(cfg, 0))
	assert.Equal(t, 400*time.Millisecond, Backoff(cfg, 2))
	assert.Equal(t, time.Second, Backoff(cfg, 10))

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := Backoff(cfg, 1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}
