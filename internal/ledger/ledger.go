// Package ledger records API key usage as an append-only event log
// and answers the windowed counts derived from it.
package ledger

import (
	"context"
	"time"
)

// Outcome classifies a usage event.
type Outcome string

// Usage event outcomes. OutcomeAny is accepted by queries only.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeAny     Outcome = ""
)

// Event is one recorded authentication attempt.
type Event struct {
	KeyID      string    `db:"key_id"`
	OccurredAt time.Time `db:"occurred_at"`
	Outcome    Outcome   `db:"outcome"`
}

// Summary aggregates a key's usage over a window.
type Summary struct {
	SuccessCount int64
	FailureCount int64
	LastUsed     *time.Time
}

// Ledger is the usage event log. Request-time callers only append and
// count; deletion happens through retention sweeps.
type Ledger interface {
	// Record appends one event for the key.
	Record(ctx context.Context, keyID string, outcome Outcome) error

	// CountSince counts the key's events with the given outcome, or
	// all events for OutcomeAny, at or after since.
	CountSince(ctx context.Context, keyID string, outcome Outcome, since time.Time) (int64, error)

	// UsageSince summarizes the key's events at or after since.
	UsageSince(ctx context.Context, keyID string, since time.Time) (Summary, error)

	// PurgeBefore deletes events older than cutoff and returns how
	// many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the ledger's resources.
	Close() error
}
