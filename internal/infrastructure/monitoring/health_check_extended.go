package monitoring

import (
	"context"
	"fmt"
	"time"

	"studyroom/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck pings the event bus and membership store.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, critical bool, interval, timeout time.Duration) {
	h.AddCheck(HealthCheck{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		Critical: critical,
		Interval: interval,
		Timeout:  timeout,
	})
}

// AddBreakerCheck reports an open breaker as a failure. Half-open counts
// as healthy since trial calls are already flowing.
func (h *HealthChecker) AddBreakerCheck(name string, cb *circuitbreaker.CircuitBreaker, collector *PrometheusCollector, interval time.Duration) {
	h.AddCheck(HealthCheck{
		Name: name,
		Check: func(ctx context.Context) error {
			state := cb.State()
			if collector != nil {
				collector.SetBreakerState(name, state)
			}
			if state == circuitbreaker.StateOpen {
				return fmt.Errorf("%s circuit breaker is %s", name, state)
			}
			return nil
		},
		Critical: true,
		Interval: interval,
		Timeout:  time.Second,
	})
}
