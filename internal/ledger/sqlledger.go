package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	key_id      TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	outcome     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_key_time ON usage_events(key_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_usage_events_time ON usage_events(occurred_at);
`

// SQLLedger implements Ledger over a SQL database via sqlx.
type SQLLedger struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ Ledger = (*SQLLedger)(nil)

// SQLLedgerOption is a functional option for configuring the ledger.
type SQLLedgerOption func(*SQLLedger)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) SQLLedgerOption {
	return func(l *SQLLedger) {
		l.now = now
	}
}

// NewSQLLedger creates a SQLLedger and ensures its schema exists.
func NewSQLLedger(ctx context.Context, db *sqlx.DB, opts ...SQLLedgerOption) (*SQLLedger, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("ledger: migrate schema: %w", err)
	}

	l := &SQLLedger{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record appends one event for the key.
func (l *SQLLedger) Record(ctx context.Context, keyID string, outcome Outcome) error {
	if outcome != OutcomeSuccess && outcome != OutcomeFailure {
		return fmt.Errorf("ledger: invalid outcome %q", outcome)
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO usage_events (key_id, occurred_at, outcome) VALUES (?, ?, ?)`,
		keyID, l.now().UTC(), string(outcome))
	if err != nil {
		return fmt.Errorf("ledger: record event: %w", err)
	}
	return nil
}

// CountSince counts the key's events with the given outcome, or all
// events for OutcomeAny, at or after since.
func (l *SQLLedger) CountSince(ctx context.Context, keyID string, outcome Outcome, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM usage_events WHERE key_id = ? AND occurred_at >= ?`
	args := []interface{}{keyID, since.UTC()}
	if outcome != OutcomeAny {
		query += ` AND outcome = ?`
		args = append(args, string(outcome))
	}

	var count int64
	if err := l.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("ledger: count events: %w", err)
	}
	return count, nil
}

// UsageSince summarizes the key's events at or after since.
func (l *SQLLedger) UsageSince(ctx context.Context, keyID string, since time.Time) (Summary, error) {
	var summary Summary

	successes, err := l.CountSince(ctx, keyID, OutcomeSuccess, since)
	if err != nil {
		return summary, err
	}
	failures, err := l.CountSince(ctx, keyID, OutcomeFailure, since)
	if err != nil {
		return summary, err
	}
	summary.SuccessCount = successes
	summary.FailureCount = failures

	var last time.Time
	err = l.db.GetContext(ctx, &last,
		`SELECT occurred_at FROM usage_events WHERE key_id = ? AND occurred_at >= ? ORDER BY occurred_at DESC LIMIT 1`,
		keyID, since.UTC())
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return summary, fmt.Errorf("ledger: last used: %w", err)
	default:
		summary.LastUsed = &last
	}

	return summary, nil
}

// PurgeBefore deletes events older than cutoff.
func (l *SQLLedger) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM usage_events WHERE occurred_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("ledger: purge events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: purge events: %w", err)
	}
	return n, nil
}

// Close releases the ledger's resources. The underlying DB handle is
// shared and closed by the owner.
func (l *SQLLedger) Close() error {
	return nil
}
