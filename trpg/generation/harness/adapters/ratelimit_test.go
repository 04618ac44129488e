package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstThenWait(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		release, err := limiter.Acquire(ctx, "turn")
		require.NoError(t, err)
		release()
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := limiter.Acquire(short, "turn")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// buckets are per key
	release, err := limiter.Acquire(ctx, "other")
	require.NoError(t, err)
	release()
}

func TestRateLimiter_Refills(t *testing.T) {
	limiter := NewRateLimiter(100, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := limiter.Acquire(ctx, "turn")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(0, -1)

	assert.Equal(t, 1, limiter.burst)
	assert.InDelta(t, 1.0, float64(limiter.limit), 0)
}
