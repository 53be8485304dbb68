package loadctrl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketLimiter_BasicOperation(t *testing.T) {
	limiter := NewTokenBucketLimiter(100, 10)

	require.NoError(t, limiter.Acquire(context.Background()))

	stats := limiter.Stats()
	assert.Equal(t, int64(1), stats.TotalAcquired)
	assert.Equal(t, 100.0, stats.QPS)
	assert.Equal(t, 10, stats.Burst)
}

func TestTokenBucketLimiter_Defaults(t *testing.T) {
	stats := NewTokenBucketLimiter(0, 0).Stats()
	assert.Equal(t, 1.0, stats.QPS)
	assert.Equal(t, 1, stats.Burst)

	assert.Equal(t, 25, NewTokenBucketLimiter(25.7, 0).Stats().Burst)
}

func TestTokenBucketLimiter_AcquireCanceled(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, 1)
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, limiter.Acquire(ctx), context.Canceled)
	assert.Equal(t, int64(1), limiter.Stats().TotalAcquired)
}

func TestTokenBucketLimiter_AcquirePastDeadline(t *testing.T) {
	// The next slot is a second away, well past the deadline.
	limiter := NewTokenBucketLimiter(1, 1)
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Acquire(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Error(t, ctx.Err(), "the error is only returned once the context is done")
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, int64(1), limiter.Stats().TotalAcquired)
}

func TestTokenBucketLimiter_AvgWaitTime(t *testing.T) {
	limiter := NewLeakyBucketLimiter(20)

	for range 3 {
		require.NoError(t, limiter.Acquire(context.Background()))
	}

	stats := limiter.Stats()
	assert.Equal(t, int64(3), stats.TotalAcquired)
	// Waits are roughly 0, 50ms and 50ms.
	assert.Greater(t, stats.AvgWaitTime, 10*time.Millisecond)
	assert.Less(t, stats.AvgWaitTime, time.Second)
}

func TestLeakyBucketLimiter_NoBurst(t *testing.T) {
	limiter := NewLeakyBucketLimiter(1000)
	assert.Equal(t, 1, limiter.Stats().Burst)
}

func TestRateLimiterConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RateLimiterConfig
		wantErr bool
	}{
		{name: "disabled", config: RateLimiterConfig{}},
		{name: "token bucket", config: RateLimiterConfig{Type: RateLimiterTokenBucket, QPS: 10, BurstSize: 5}},
		{name: "leaky bucket", config: RateLimiterConfig{Type: RateLimiterLeakyBucket, QPS: 10}},
		{name: "unknown type", config: RateLimiterConfig{Type: "sliding_window", QPS: 10}, wantErr: true},
		{name: "negative qps", config: RateLimiterConfig{QPS: -1}, wantErr: true},
		{name: "negative burst", config: RateLimiterConfig{QPS: 1, BurstSize: -2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRateLimiter_Factory(t *testing.T) {
	t.Run("disabled returns nil", func(t *testing.T) {
		limiter, err := NewRateLimiter(RateLimiterConfig{})
		require.NoError(t, err)
		assert.Nil(t, limiter)
	})

	t.Run("token bucket", func(t *testing.T) {
		limiter, err := NewRateLimiter(RateLimiterConfig{QPS: 100, BurstSize: 10})
		require.NoError(t, err)
		_, ok := limiter.(*TokenBucketLimiter)
		require.True(t, ok)
		assert.Equal(t, 10, limiter.Stats().Burst)
	})

	t.Run("leaky bucket", func(t *testing.T) {
		limiter, err := NewRateLimiter(RateLimiterConfig{Type: RateLimiterLeakyBucket, QPS: 100, BurstSize: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, limiter.Stats().Burst)
		assert.Equal(t, 100.0, limiter.Stats().QPS)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NewRateLimiter(RateLimiterConfig{QPS: -5})
		assert.ErrorIs(t, err, ErrInvalidRate)
	})
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewTokenBucketLimiter(100000, 1000)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = limiter.Acquire(context.Background())
				limiter.Stats()
			}
		}()
	}
	wg.Wait()

	stats := limiter.Stats()
	assert.Equal(t, int64(1000), stats.TotalAcquired)
}

func TestRateLimiter_RateAccuracy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping rate accuracy test in short mode")
	}

	const targetQPS = 50.0
	limiter := NewLeakyBucketLimiter(targetQPS)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var count int64
	start := time.Now()
	for limiter.Acquire(ctx) == nil {
		count++
	}

	actual := float64(count) / time.Since(start).Seconds()
	assert.InDelta(t, targetQPS, actual, targetQPS*0.3)
}
