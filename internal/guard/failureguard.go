package guard

import (
	"context"
	"time"

	"github.com/apisentinel/sentinel/internal/guard/store"
	"github.com/apisentinel/sentinel/internal/ledger"
	"github.com/apisentinel/sentinel/internal/observability"
)

const failPrefix = "fail:"

// Blocker flips the blocked flag on a key record.
type Blocker interface {
	SetBlocked(ctx context.Context, keyID string, blocked bool) error
}

// FailureGuard records failed authentication attempts and blocks a key
// once its failures within the configured window reach the limit.
type FailureGuard struct {
	limit    int64
	window   time.Duration
	counters store.Store
	events   ledger.Ledger
	keys     Blocker
	logger   observability.Logger
	now      func() time.Time
}

// FailureGuardOption is a functional option for configuring the guard.
type FailureGuardOption func(*FailureGuard)

// WithFailureGuardLogger sets the logger for the guard.
func WithFailureGuardLogger(logger observability.Logger) FailureGuardOption {
	return func(g *FailureGuard) {
		g.logger = logger
	}
}

// WithFailureGuardClock overrides the time source, for tests.
func WithFailureGuardClock(now func() time.Time) FailureGuardOption {
	return func(g *FailureGuard) {
		g.now = now
	}
}

// NewFailureGuard creates a guard blocking a key after limit failures
// per window. A limit of 0 disables blocking; failures are still
// recorded in the ledger.
func NewFailureGuard(
	limit int64,
	window time.Duration,
	counters store.Store,
	events ledger.Ledger,
	keys Blocker,
	opts ...FailureGuardOption,
) *FailureGuard {
	g := &FailureGuard{
		limit:    limit,
		window:   window,
		counters: counters,
		events:   events,
		keys:     keys,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RecordFailureAndCheck appends a failure event for the key and
// reports whether this failure newly blocked it. The failure counter
// is a shared atomic counter with the window as its TTL; a counter
// created by this call is seeded from the ledger so eviction or a
// restart cannot forget earlier failures in the window.
func (g *FailureGuard) RecordFailureAndCheck(ctx context.Context, keyID string) (bool, error) {
	if err := g.events.Record(ctx, keyID, ledger.OutcomeFailure); err != nil {
		return false, err
	}

	if g.limit <= 0 {
		return false, nil
	}

	count, err := g.counters.IncrementWithExpiry(ctx, failPrefix+keyID, 1, g.window)
	if err != nil {
		return false, err
	}

	if count == 1 {
		// Fresh counter. The ledger count includes the event recorded
		// above, so it is authoritative for the whole window.
		recorded, err := g.events.CountSince(ctx, keyID, ledger.OutcomeFailure, g.now().Add(-g.window))
		if err != nil {
			return false, err
		}
		if recorded > count {
			if err := g.counters.Set(ctx, failPrefix+keyID, recorded, g.window); err != nil {
				return false, err
			}
			count = recorded
		}
	}

	if count < g.limit {
		return false, nil
	}

	// Blocking twice is a no-op, so concurrent callers crossing the
	// threshold together stay consistent.
	if err := g.keys.SetBlocked(ctx, keyID, true); err != nil {
		return false, err
	}

	// Clear the counter; it stops ticking past the threshold while the
	// key stays blocked. Failures still in the window remain in the
	// ledger and count again if the key is unblocked before they age
	// out.
	if err := g.counters.Delete(ctx, failPrefix+keyID); err != nil {
		g.logger.Warn("failure counter delete failed",
			observability.String("key_id", keyID),
			observability.Error(err),
		)
	}

	g.logger.Warn("key blocked after repeated failures",
		observability.String("key_id", keyID),
		observability.Int64("failures", count),
	)

	return true, nil
}
