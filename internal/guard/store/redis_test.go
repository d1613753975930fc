package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreGetSet(t *testing.T) {
	s, _ := newMiniredisStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.True(t, IsKeyNotFound(err))

	require.NoError(t, s.Set(ctx, "k", 42, time.Minute))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestRedisStoreKeysArePrefixed(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", 1, time.Minute))
	assert.True(t, mr.Exists("test:k"))
}

func TestRedisStoreIncrementWithExpiry(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()

	v, err := s.IncrementWithExpiry(ctx, "k", 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Expiration is set on creation only.
	ttl := mr.TTL("test:k")
	assert.Equal(t, time.Hour, ttl)

	v, err = s.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, time.Hour, mr.TTL("test:k"))
}

func TestRedisStoreIncrementAfterExpiry(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	v, err := s.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestRedisStoreDelete(t *testing.T) {
	s, _ := newMiniredisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", 1, time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.True(t, IsKeyNotFound(err))
}

func TestRedisStoreBackendGone(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()

	mr.Close()

	_, err := s.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, IsKeyNotFound(err))

	_, err = s.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	assert.Error(t, err)
}

func TestRedisStoreCloseIdempotent(t *testing.T) {
	s, _ := newMiniredisStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
