package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"studyroom/pkg/config"

	"github.com/gin-gonic/gin"
)

func rateLimitedRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func get(router http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w
}

// Test that when rate limiting is disabled, middleware lets all requests through.
func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := rateLimitedRouter(cfg)

	for i := 0; i < 5; i++ {
		if w := get(router, "10.0.0.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, w.Code)
		}
	}
}

// Test basic per-IP rate limiting behaviour.
func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	router := rateLimitedRouter(cfg)

	if w := get(router, "10.0.0.1:1234"); w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for first request, got %d", w.Code)
	}

	w := get(router, "10.0.0.1:1234")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for second request, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	// Another client has its own bucket.
	if w := get(router, "10.0.0.2:1234"); w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for a different client, got %d", w.Code)
	}
}
