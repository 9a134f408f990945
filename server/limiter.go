package server

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/jathurchan/ridecore/logger"
)

// RateLimiter gates request lines before they reach the handler.
type RateLimiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// TokenBucketRateLimiter admits maxRequests per window with the given burst.
type TokenBucketRateLimiter struct {
	limiter *rate.Limiter
	logger  logger.Logger
}

// NewTokenBucketRateLimiter creates a token bucket limiter. A non-positive
// window disables limiting; a non-positive burst is raised to 1.
func NewTokenBucketRateLimiter(maxRequests, burst int, window time.Duration, log logger.Logger) *TokenBucketRateLimiter {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithComponent("rate-limiter")

	limit := rate.Inf
	if window > 0 {
		limit = rate.Limit(float64(maxRequests) / window.Seconds())
	} else {
		log.Warnw("Rate limit window is not positive; limiting disabled", "window", window)
	}
	if burst <= 0 {
		if limit != rate.Inf {
			log.Warnw("Rate limit burst is not positive; using 1", "burst", burst)
		}
		burst = 1
	}

	return &TokenBucketRateLimiter{
		limiter: rate.NewLimiter(limit, burst),
		logger:  log,
	}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (rl *TokenBucketRateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (rl *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Limit returns the configured rate in requests per second.
func (rl *TokenBucketRateLimiter) Limit() rate.Limit {
	return rl.limiter.Limit()
}
