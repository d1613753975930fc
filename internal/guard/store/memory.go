package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// maxCASRetries bounds CAS retry attempts so a hot key cannot spin the
// caller forever.
const maxCASRetries = 100

type entry struct {
	value      int64
	expiration time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// MemoryStore implements Store with an in-process map. Suitable for a
// single instance; multi-instance deployments need the Redis backend.
type MemoryStore struct {
	data    sync.Map
	cleanup *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates a new in-memory store with
// a custom expired-entry sweep interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	value, ok := s.data.Load(key)
	if !ok {
		return 0, &ErrKeyNotFound{Key: key}
	}

	e := value.(*entry)
	if e.expired(time.Now()) {
		s.data.Delete(key)
		return 0, &ErrKeyNotFound{Key: key}
	}

	return e.value, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	s.data.Store(key, &entry{value: value, expiration: exp})
	return nil
}

// IncrementWithExpiry implements Store. The expiration applies only
// when this call creates the counter; later increments keep the
// original deadline.
func (s *MemoryStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	for retries := 0; retries < maxCASRetries; retries++ {
		value, ok := s.data.Load(key)
		if !ok {
			fresh := &entry{value: delta, expiration: exp}
			if actual, loaded := s.data.LoadOrStore(key, fresh); loaded {
				value = actual
			} else {
				return delta, nil
			}
		}

		e := value.(*entry)

		if e.expired(time.Now()) {
			// Restart the counter under a new deadline.
			fresh := &entry{value: delta, expiration: exp}
			if s.data.CompareAndSwap(key, e, fresh) {
				return delta, nil
			}
			continue
		}

		next := &entry{value: e.value + delta, expiration: e.expiration}
		if s.data.CompareAndSwap(key, e, next) {
			return next.value, nil
		}
	}

	return 0, fmt.Errorf("increment with expiry failed: max retries (%d) exceeded", maxCASRetries)
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.data.Delete(key)
	return nil
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.cleanup.Stop()
	close(s.done)

	return nil
}

func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.cleanup.C:
			s.cleanupExpired()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.data.Range(func(key, value interface{}) bool {
		if value.(*entry).expired(now) {
			s.data.Delete(key)
		}
		return true
	})
}

// Size returns the number of entries in the store.
func (s *MemoryStore) Size() int {
	count := 0
	s.data.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}
