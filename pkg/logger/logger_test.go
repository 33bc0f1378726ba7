package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	l, err := New("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	l, err = New("WARN")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))

	_, err = New("loud")
	assert.Error(t, err)
}

func TestContextLogger_AddsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithRoom(context.Background(), "ROOM1")
	ctx = WithUser(ctx, "alice")
	ctx = WithSocket(ctx, "sock-1")

	cl.Sugar(ctx).Infow("joined")
	cl.LogError(ctx, errors.New("boom"), "relay failed")

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "ROOM1", fields["room_code"])
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, "sock-1", fields["socket_id"])
	assert.NotContains(t, fields, "trace_id")

	assert.Equal(t, "relay failed", entries[1].Message)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestContextLogger_EmptyContext(t *testing.T) {
	base := zap.NewNop()
	cl := NewContextLogger(base)
	assert.Same(t, base, cl.WithContext(context.Background()))
}
