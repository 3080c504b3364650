// Package ratelimit paces outbound requests against external services.
//
// Public market-data endpoints throttle aggressively, and a bot that
// polls candles and product catalogs from several components at once can
// trip those limits quickly. This package provides a small abstraction
// over Uber's token bucket limiter with a consistent interface so that
// the pacing strategy can be swapped or faked in tests.
//
// The HTTP client in pkg/common waits on a RateLimiter before every
// request, including retries, so backoff and pacing compose instead of
// competing.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/ratelimit"
)

// Rate expresses a limit as a number of operations per time interval,
// e.g. {Limit: 100, Interval: time.Minute}.
type Rate struct {
	// Limit is the maximum number of operations allowed within Interval.
	Limit int

	// Interval is the window over which Limit applies. The limiter
	// converts this to operations per second internally.
	Interval time.Duration
}

// RateLimiter controls the pace of operations by blocking callers until
// the next operation is permitted.
type RateLimiter interface {
	// Wait blocks until an operation is permitted or the context is
	// cancelled. It should be called before each rate-limited operation.
	Wait(ctx context.Context) error

	// SetLimit replaces the rate configuration at runtime. Returns an
	// error for non-positive limits or intervals.
	SetLimit(limit Rate) error
}

// uberLimiter implements RateLimiter on top of Uber's token bucket.
type uberLimiter struct {
	limiter ratelimit.Limiter
	rate    Rate
}

// NewTokenBucketLimiter creates a token bucket limiter for the given rate.
// The rate is converted to operations per second, so {120, time.Minute}
// becomes 2 ops/sec.
func NewTokenBucketLimiter(rate Rate) RateLimiter {
	return &uberLimiter{
		limiter: ratelimit.New(perSecond(rate)),
		rate:    rate,
	}
}

// perSecond converts a Rate to whole operations per second, flooring at
// one so the underlying limiter always gets a valid rate.
func perSecond(rate Rate) int {
	rps := int(float64(rate.Limit) / rate.Interval.Seconds())
	if rps < 1 {
		rps = 1
	}
	return rps
}

// Wait implements the RateLimiter interface. If the context is already
// cancelled it returns immediately; otherwise it takes a token from the
// underlying limiter, blocking as needed.
func (l *uberLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	default:
		l.limiter.Take()
		return nil
	}
}

// SetLimit implements the RateLimiter interface. The new rate replaces
// the underlying limiter, so tokens accumulated under the old rate are
// discarded.
func (l *uberLimiter) SetLimit(rate Rate) error {
	if rate.Limit <= 0 || rate.Interval <= 0 {
		return fmt.Errorf("invalid rate limit: %+v", rate)
	}
	l.limiter = ratelimit.New(perSecond(rate))
	l.rate = rate
	return nil
}
