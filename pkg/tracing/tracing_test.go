package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "studyroom-signal", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartSpan_NoProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.operation")
	require.NotNil(t, span)
	AddSpanAttributes(ctx, attribute.String("k", "v"))
	RecordError(ctx, errors.New("boom"))
	span.End()
}

func TestRoomSpans_Recorded(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(prev)

	ctx, span := TraceRelay(context.Background(), "offer", "ROOM1", "bob")
	RecordError(ctx, errors.New("recipient gone"))
	span.End()

	_, span = TraceRoomOperation(context.Background(), "start_presenting", "ROOM1", "alice")
	span.End()

	_, span = TraceSocketEvent(context.Background(), "screenshare:join", "sock-1")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "relay.offer", ended[0].Name())
	assert.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "room.start_presenting", ended[1].Name())
	assert.Equal(t, "socket.screenshare:join", ended[2].Name())

	var room string
	for _, kv := range ended[1].Attributes() {
		if kv.Key == RoomCodeKey {
			room = kv.Value.AsString()
		}
	}
	assert.Equal(t, "ROOM1", room)
}
