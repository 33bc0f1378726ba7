// Package ratelimit keeps one token bucket per key (usually a client IP).
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store hands out per-key limiters sharing one rate and burst.
type Store struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

func NewStore(limit rate.Limit, burst int) *Store {
	if burst <= 0 {
		burst = 1
	}
	return &Store{
		limiters: make(map[string]*entry),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// PerMinute converts a per-minute allowance into a rate.Limit.
func PerMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(n))
}

func (s *Store) Limiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = e
	}
	e.lastSeen = s.now()
	return e.limiter
}

func (s *Store) Allow(key string) bool {
	return s.Limiter(key).Allow()
}

// Prune forgets keys idle for longer than idle and returns how many.
func (s *Store) Prune(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	n := 0
	for key, e := range s.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(s.limiters, key)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// ClientIP returns the first X-Forwarded-For hop when present, otherwise
// the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
