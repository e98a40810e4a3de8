package statestore

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterRegistry hands out one token-bucket limiter per identifier,
// refilled continuously at limit/window and capped at a burst of
// limit, so CheckRateLimit behaves like a sliding rate limiter rather
// than a bursty fixed window.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterRegistry() *limiterRegistry {
	return &limiterRegistry{limiters: make(map[string]*rate.Limiter)}
}

func (r *limiterRegistry) get(id string, limit int, window time.Duration) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[id]
	if !ok {
		perSecond := float64(limit) / window.Seconds()
		l = rate.NewLimiter(rate.Limit(perSecond), limit)
		r.limiters[id] = l
	}
	return l
}
