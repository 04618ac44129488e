package harnessports

import "context"

// RateLimiter throttles orchestration turns.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
