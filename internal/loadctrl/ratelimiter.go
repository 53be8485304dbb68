// Package loadctrl paces the load generator: how fast users are spawned and,
// optionally, how many requests per second all users may send together.
package loadctrl

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrInvalidRate is returned for a non-positive rate.
var ErrInvalidRate = errors.New("loadctrl: rate must be positive")

// RateLimiterType names a pacing algorithm.
type RateLimiterType string

const (
	// RateLimiterTokenBucket allows bursts up to the configured size.
	RateLimiterTokenBucket RateLimiterType = "token_bucket"
	// RateLimiterLeakyBucket spaces acquisitions evenly (burst of one).
	RateLimiterLeakyBucket RateLimiterType = "leaky_bucket"
)

// RateLimiter controls the rate at which work may start.
//
// Thread Safety: Implementations must be safe for concurrent use.
type RateLimiter interface {
	// Acquire blocks until a slot is available or ctx is done. It only
	// fails with ctx.Err().
	Acquire(ctx context.Context) error

	// Stats returns usage statistics.
	Stats() RateLimiterStats
}

// RateLimiterStats contains statistics about rate limiter usage.
type RateLimiterStats struct {
	TotalAcquired int64
	QPS           float64
	Burst         int
	AvgWaitTime   time.Duration
}

// RateLimiterConfig holds configuration for creating a rate limiter.
type RateLimiterConfig struct {
	// Type selects the algorithm. Default: token_bucket
	Type RateLimiterType `yaml:"type" json:"type"`
	// QPS is the permitted rate. Zero disables the limiter.
	QPS float64 `yaml:"qps" json:"qps"`
	// BurstSize is the token bucket depth. Default: max(1, QPS)
	BurstSize int `yaml:"burstSize,omitempty" json:"burstSize,omitempty"`
}

// Enabled reports whether the configuration asks for a limiter.
func (c RateLimiterConfig) Enabled() bool {
	return c.QPS > 0
}

// Validate checks the limiter type and bounds.
func (c RateLimiterConfig) Validate() error {
	switch c.Type {
	case "", RateLimiterTokenBucket, RateLimiterLeakyBucket:
	default:
		return fmt.Errorf("loadctrl: unknown rate limiter type %q", c.Type)
	}
	if c.QPS < 0 {
		return fmt.Errorf("%w: qps %v", ErrInvalidRate, c.QPS)
	}
	if c.BurstSize < 0 {
		return fmt.Errorf("loadctrl: burstSize must be non-negative, got %d", c.BurstSize)
	}
	return nil
}

// TokenBucketLimiter implements RateLimiter with golang.org/x/time/rate.
//
// Thread Safety: Safe for concurrent use.
type TokenBucketLimiter struct {
	limiter *rate.Limiter
	burst   int
	qps     float64

	totalAcquired atomic.Int64
	totalWaitTime atomic.Int64 // nanoseconds
}

// NewTokenBucketLimiter creates a token bucket limiter.
// A non-positive burst defaults to max(1, int(qps)).
func NewTokenBucketLimiter(qps float64, burst int) *TokenBucketLimiter {
	if qps <= 0 {
		qps = 1
	}
	if burst <= 0 {
		burst = max(1, int(qps))
	}
	return &TokenBucketLimiter{
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
		burst:   burst,
		qps:     qps,
	}
}

// NewLeakyBucketLimiter creates a limiter that admits one acquisition every
// 1/qps seconds with no bursting.
func NewLeakyBucketLimiter(qps float64) *TokenBucketLimiter {
	return NewTokenBucketLimiter(qps, 1)
}

// Acquire blocks until a slot is available or ctx is done. Wait fails early
// when the next slot lies past the deadline; that case waits the deadline
// out so the only error returned is ctx.Err().
func (l *TokenBucketLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		<-ctx.Done()
		return ctx.Err()
	}
	l.totalAcquired.Add(1)
	l.totalWaitTime.Add(int64(time.Since(start)))
	return nil
}

// Stats returns usage statistics.
func (l *TokenBucketLimiter) Stats() RateLimiterStats {
	acquired := l.totalAcquired.Load()

	var avgWait time.Duration
	if acquired > 0 {
		avgWait = time.Duration(l.totalWaitTime.Load() / acquired)
	}

	return RateLimiterStats{
		TotalAcquired: acquired,
		QPS:           l.qps,
		Burst:         l.burst,
		AvgWaitTime:   avgWait,
	}
}

// NewRateLimiter builds a limiter from configuration. It returns nil, nil
// when the configuration disables limiting.
func NewRateLimiter(config RateLimiterConfig) (RateLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Enabled() {
		return nil, nil
	}
	if config.Type == RateLimiterLeakyBucket {
		return NewLeakyBucketLimiter(config.QPS), nil
	}
	return NewTokenBucketLimiter(config.QPS, config.BurstSize), nil
}
