package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"studyroom/internal/core/domain"
	"studyroom/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func errorRouter(err error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()), ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/fail", func(c *gin.Context) {
		_ = c.Error(err)
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return router
}

func TestErrorHandlerMiddleware_MapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: room-1", domain.ErrUnknownRoom), http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrPermissionDenied, http.StatusForbidden, "PERMISSION_DENIED"},
		{fmt.Errorf("bad payload: %w", domain.ErrMalformedEnvelope), http.StatusBadRequest, "INVALID_INPUT"},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/fail", nil)
			errorRouter(tc.err).ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body["error"])
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/panic", nil)
	errorRouter(nil).ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTracingMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TracingMiddleware(logger.NewContextLogger(zap.NewNop())))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ok", nil)
	router.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "abc123")
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Header().Get(RequestIDHeader))
}
