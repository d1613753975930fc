package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails every call while broken is set.
type flakyStore struct {
	inner  Store
	broken bool
}

var errBackendDown = errors.New("backend down")

func (f *flakyStore) Get(ctx context.Context, key string) (int64, error) {
	if f.broken {
		return 0, errBackendDown
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	if f.broken {
		return errBackendDown
	}
	return f.inner.Set(ctx, key, value, expiration)
}

func (f *flakyStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	if f.broken {
		return 0, errBackendDown
	}
	return f.inner.IncrementWithExpiry(ctx, key, delta, expiration)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.broken {
		return errBackendDown
	}
	return f.inner.Delete(ctx, key)
}

func (f *flakyStore) Close() error { return f.inner.Close() }

func newBreakerFixture(t *testing.T) (*BreakerStore, *flakyStore) {
	t.Helper()

	mem := NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })

	flaky := &flakyStore{inner: mem}
	return NewBreakerStore(flaky, 50*time.Millisecond), flaky
}

func TestBreakerPassesThrough(t *testing.T) {
	b, _ := newBreakerFixture(t)
	ctx := context.Background()

	v, err := b.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	require.NoError(t, b.Set(ctx, "k", 9, time.Minute))
	require.NoError(t, b.Delete(ctx, "k"))
}

func TestBreakerNotFoundIsNotAFailure(t *testing.T) {
	b, _ := newBreakerFixture(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := b.Get(ctx, "missing")
		assert.True(t, IsKeyNotFound(err))
	}

	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	b, flaky := newBreakerFixture(t)
	ctx := context.Background()

	flaky.broken = true

	for i := 0; i < 10; i++ {
		_, _ = b.Get(ctx, "k")
	}

	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	b, flaky := newBreakerFixture(t)
	ctx := context.Background()

	flaky.broken = true
	for i := 0; i < 10; i++ {
		_, _ = b.Get(ctx, "k")
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	flaky.broken = false
	time.Sleep(80 * time.Millisecond)

	v, err := b.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
