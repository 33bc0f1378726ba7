package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the
// breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold int
	OpenTimeout      time.Duration
	// HalfOpenProbes is how many trial calls may run before the breaker
	// decides to close again.
	HalfOpenProbes int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenProbes:   1,
	}
}

type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	probes    int
	successes int
	openedAt  time.Time

	onStateChange func(from, to State)
}

func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// OnStateChange registers a callback run synchronously on every
// transition. It must not call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// Execute runs fn unless the breaker is open. Context cancellation is not
// counted as a failure of the guarded dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := Do(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is Execute for functions that return a value.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.acquire(); err != nil {
		return zero, err
	}

	v, err := fn(ctx)
	switch {
	case err == nil:
		cb.record(true)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		cb.release()
	default:
		cb.record(false)
	}
	return v, err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenProbes {
			return ErrOpen
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState()
	if ok {
		cb.failures = 0
		if state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.HalfOpenProbes {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.failures++
	if state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.transition(StateOpen)
	}
}

// currentState promotes an expired open breaker to half-open. Callers
// hold mu.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failures = 0
	cb.probes = 0
	cb.successes = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
