package middleware

import (
	"time"

	"studyroom/pkg/logger"
	"studyroom/pkg/tracing"
	"studyroom/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const RequestIDHeader = "X-Request-ID"

// TracingMiddleware spans each request and tags its context with a
// request id, reusing one supplied by a proxy. Every request is logged
// through cl once it completes.
func TracingMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = utils.NewTraceID()
		}
		c.Header(RequestIDHeader, requestID)

		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()
		span.SetAttributes(
			attribute.String("http.request_id", requestID),
			attribute.String("http.remote_addr", c.ClientIP()),
		)

		ctx = logger.WithTraceID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int64("http.duration_ms", duration.Milliseconds()),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, c.Errors.String())
		}
		cl.LogRequest(ctx, c.Request.Method, route, status, duration.Milliseconds())
	}
}
