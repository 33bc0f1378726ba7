package middleware

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"studyroom/pkg/config"
	apperrors "studyroom/pkg/errors"
	"studyroom/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	pruneEvery = 1024
	pruneIdle  = 10 * time.Minute
)

// NewHTTPRateLimitMiddleware applies per-IP token buckets to the HTTP API.
// Idle buckets are pruned every pruneEvery requests.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled || cfg.RateLimiting.HTTP.RequestsPerSecond <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := cfg.RateLimiting.HTTP.RequestsPerSecond
	store := ratelimit.NewStore(rate.Limit(rps), cfg.RateLimiting.HTTP.Burst)
	retryAfter := strconv.Itoa(int(1/rps) + 1)

	var seen atomic.Uint64
	return func(c *gin.Context) {
		if seen.Add(1)%pruneEvery == 0 {
			store.Prune(pruneIdle)
		}

		if !store.Allow(ratelimit.ClientIP(c.Request)) {
			appErr := apperrors.NewRateLimitError()
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			})
			return
		}
		c.Next()
	}
}
