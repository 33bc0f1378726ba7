package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	traceIDKey  ctxKey = "trace_id"
	roomCodeKey ctxKey = "room_code"
	userIDKey   ctxKey = "user_id"
	socketIDKey ctxKey = "socket_id"
)

// WithTraceID stores a trace id for ContextLogger.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// WithRoom stores the room code for ContextLogger.
func WithRoom(ctx context.Context, roomCode string) context.Context {
	return context.WithValue(ctx, roomCodeKey, roomCode)
}

// WithUser stores the user id for ContextLogger.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// WithSocket stores the socket id for ContextLogger.
func WithSocket(ctx context.Context, socketID string) context.Context {
	return context.WithValue(ctx, socketIDKey, socketID)
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext returns a logger carrying whichever of trace, room, user and
// socket ids the context holds.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	for _, key := range []ctxKey{traceIDKey, roomCodeKey, userIDKey, socketIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// Sugar is WithContext for callers using the sugared API.
func (cl *ContextLogger) Sugar(ctx context.Context) *zap.SugaredLogger {
	return cl.WithContext(ctx).Sugar()
}

// LogRequest logs an HTTP request with context
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, duration int64) {
	cl.WithContext(ctx).Info("http_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", duration),
	)
}

// LogError logs an error with context
func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	l := cl.WithContext(ctx).With(zap.Error(err))
	l.Error(message, fields...)
}
