package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex

	lastMu sync.Mutex
	last   map[string]bool

	logger *zap.SugaredLogger
}

type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
	// A failing non-critical check degrades the service without taking it
	// out of rotation.
	Critical bool
	Interval time.Duration
	Timeout  time.Duration
}

type CheckResult struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

func NewHealthChecker(logger *zap.SugaredLogger) *HealthChecker {
	return &HealthChecker{
		last:   make(map[string]bool),
		logger: logger,
	}
}

func (h *HealthChecker) AddCheck(check HealthCheck) {
	if check.Timeout <= 0 {
		check.Timeout = 2 * time.Second
	}
	if check.Interval <= 0 {
		check.Interval = 30 * time.Second
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

func (h *HealthChecker) snapshot() []HealthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HealthCheck(nil), h.checks...)
}

// CheckAll runs every check concurrently, each under its own timeout.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	checks := h.snapshot()
	results := make([]CheckResult, len(checks))

	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			results[i] = h.run(ctx, check)
		}(i, check)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		status.Checks[check.Name] = results[i]
		if results[i].Status == StatusHealthy {
			continue
		}
		if check.Critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}
	return status
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	start := time.Now()
	err := check.Check(ctx)
	res := CheckResult{
		Status:    StatusHealthy,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	}
	h.observe(check.Name, err)
	return res
}

// observe logs transitions only.
func (h *HealthChecker) observe(name string, err error) {
	h.lastMu.Lock()
	prev, seen := h.last[name]
	h.last[name] = err == nil
	h.lastMu.Unlock()

	switch {
	case err != nil && (!seen || prev):
		h.logger.Warnw("Health check failing", "check", name, "error", err)
	case err == nil && seen && !prev:
		h.logger.Infow("Health check recovered", "check", name)
	}
}

// IsReady reports whether the service should receive traffic.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status != StatusUnhealthy
}

// StartBackgroundChecks runs every check on its interval until ctx ends,
// so failures are logged even when nobody polls the endpoints.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	for _, check := range h.snapshot() {
		go h.runCheckPeriodically(ctx, check)
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.run(ctx, check)
		}
	}
}
