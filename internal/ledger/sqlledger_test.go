package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// fakeClock lets tests append events at chosen instants.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time { return c.current }

func newTestLedger(t *testing.T) (*SQLLedger, *fakeClock) {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fakeClock{current: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	l, err := NewSQLLedger(context.Background(), db, WithClock(clock.Now))
	require.NoError(t, err)
	return l, clock
}

func TestRecordAndCountSince(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	start := clock.current

	require.NoError(t, l.Record(ctx, "key-1", OutcomeSuccess))
	clock.current = clock.current.Add(time.Minute)
	require.NoError(t, l.Record(ctx, "key-1", OutcomeFailure))
	clock.current = clock.current.Add(time.Minute)
	require.NoError(t, l.Record(ctx, "key-1", OutcomeFailure))
	require.NoError(t, l.Record(ctx, "key-2", OutcomeSuccess))

	count, err := l.CountSince(ctx, "key-1", OutcomeAny, start)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = l.CountSince(ctx, "key-1", OutcomeFailure, start)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = l.CountSince(ctx, "key-1", OutcomeSuccess, start)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = l.CountSince(ctx, "key-2", OutcomeAny, start)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCountSinceWindowExcludesOldEvents(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "key-1", OutcomeFailure))
	clock.current = clock.current.Add(2 * time.Hour)
	require.NoError(t, l.Record(ctx, "key-1", OutcomeFailure))

	count, err := l.CountSince(ctx, "key-1", OutcomeFailure, clock.current.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecordInvalidOutcome(t *testing.T) {
	l, _ := newTestLedger(t)
	assert.Error(t, l.Record(context.Background(), "key-1", OutcomeAny))
	assert.Error(t, l.Record(context.Background(), "key-1", Outcome("maybe")))
}

func TestUsageSince(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	start := clock.current

	summary, err := l.UsageSince(ctx, "key-1", start)
	require.NoError(t, err)
	assert.Zero(t, summary.SuccessCount)
	assert.Zero(t, summary.FailureCount)
	assert.Nil(t, summary.LastUsed)

	require.NoError(t, l.Record(ctx, "key-1", OutcomeSuccess))
	clock.current = clock.current.Add(10 * time.Minute)
	require.NoError(t, l.Record(ctx, "key-1", OutcomeFailure))
	last := clock.current

	summary, err = l.UsageSince(ctx, "key-1", start)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.SuccessCount)
	assert.Equal(t, int64(1), summary.FailureCount)
	require.NotNil(t, summary.LastUsed)
	assert.True(t, last.Equal(*summary.LastUsed))
}

func TestPurgeBefore(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "key-1", OutcomeSuccess))
	clock.current = clock.current.Add(200 * 24 * time.Hour)
	require.NoError(t, l.Record(ctx, "key-1", OutcomeSuccess))

	n, err := l.PurgeBefore(ctx, clock.current.Add(-180*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := l.CountSince(ctx, "key-1", OutcomeAny, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
