package signal

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

// RateLimiter keeps one token bucket per endpoint.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.EndpointKey]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perSecond messages with the given burst. A
// non-positive rate allows everything.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[domain.EndpointKey]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (rl *RateLimiter) Allow(key domain.EndpointKey) bool {
	if rl.limit == rate.Inf {
		return true
	}
	rl.mu.Lock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

func (rl *RateLimiter) Forget(key domain.EndpointKey) {
	rl.mu.Lock()
	delete(rl.limiters, key)
	rl.mu.Unlock()
}
