// Package guard implements the two counters that protect the key
// store from abuse: a sliding-window rate limiter and a failure guard
// that blocks keys after repeated failed attempts.
package guard

import (
	"context"
	"time"

	"github.com/apisentinel/sentinel/internal/guard/store"
	"github.com/apisentinel/sentinel/internal/ledger"
	"github.com/apisentinel/sentinel/internal/observability"
)

const ratePrefix = "rate:"

// RateLimiter answers whether a key has exhausted its request budget
// for the configured window. It is a read-only check over prior ledger
// events; it never appends one itself.
type RateLimiter struct {
	limit    int64
	window   time.Duration
	cacheTTL time.Duration
	counters store.Store
	events   ledger.Ledger
	logger   observability.Logger
	now      func() time.Time
}

// RateLimiterOption is a functional option for configuring the limiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterLogger sets the logger for the limiter.
func WithRateLimiterLogger(logger observability.Logger) RateLimiterOption {
	return func(r *RateLimiter) {
		r.logger = logger
	}
}

// WithRateLimiterClock overrides the time source, for tests.
func WithRateLimiterClock(now func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) {
		r.now = now
	}
}

// WithRateCacheTTL sets how long a computed count is reused before the
// ledger is consulted again. Zero or negative disables caching.
func WithRateCacheTTL(ttl time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		r.cacheTTL = ttl
	}
}

// NewRateLimiter creates a limiter allowing limit requests per window.
// A limit of 0 disables the check.
func NewRateLimiter(
	limit int64,
	window time.Duration,
	counters store.Store,
	events ledger.Ledger,
	opts ...RateLimiterOption,
) *RateLimiter {
	r := &RateLimiter{
		limit:    limit,
		window:   window,
		cacheTTL: 60 * time.Second,
		counters: counters,
		events:   events,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Exceeded reports whether the key's request count within the window
// has reached the limit. The count is read through a short-TTL cache
// to bound ledger pressure under load; cache entries simply lapse and
// are recomputed, independent of the window length.
func (r *RateLimiter) Exceeded(ctx context.Context, keyID string) (bool, error) {
	if r.limit <= 0 {
		return false, nil
	}

	cacheKey := ratePrefix + keyID

	if r.cacheTTL > 0 {
		cached, err := r.counters.Get(ctx, cacheKey)
		switch {
		case err == nil:
			return cached >= r.limit, nil
		case !store.IsKeyNotFound(err):
			return false, err
		}
	}

	count, err := r.events.CountSince(ctx, keyID, ledger.OutcomeAny, r.now().Add(-r.window))
	if err != nil {
		return false, err
	}

	if r.cacheTTL > 0 {
		// The decision is already made from the authoritative count; a
		// failed cache write only costs the next caller a ledger read.
		if err := r.counters.Set(ctx, cacheKey, count, r.cacheTTL); err != nil {
			r.logger.Warn("rate count cache write failed",
				observability.String("key_id", keyID),
				observability.Error(err),
			)
		}
	}

	return count >= r.limit, nil
}
