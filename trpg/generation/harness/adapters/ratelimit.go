package adapters

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

// RateLimiter keeps one token bucket per key. Acquire blocks until a token
// is available or ctx is done.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter refilling perSecond tokens per second up
// to burst. Non-positive values fall back to 1.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Acquire waits for a token for key. Tokens are consumed, so release is a no-op.
func (r *RateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := r.limiter(key).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateLimitExceeded, err)
	}
	return func() {}, nil
}

func (r *RateLimiter) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	return l
}

// ErrRateLimitExceeded is returned when no token arrives before ctx is done.
var ErrRateLimitExceeded = &RateLimitError{Message: "rate limit exceeded"}

type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// Ensure RateLimiter implements the RateLimiter interface.
var _ ports.RateLimiter = (*RateLimiter)(nil)
