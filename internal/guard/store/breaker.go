package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/apisentinel/sentinel/internal/observability"
)

// BreakerStore wraps a Store with a circuit breaker so a struggling
// backend is cut off instead of stacking up timeouts. Callers see an
// error while the circuit is open; the gate treats any store error as
// a deny.
type BreakerStore struct {
	inner  Store
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

var _ Store = (*BreakerStore)(nil)

// BreakerOption is a functional option for configuring the breaker.
type BreakerOption func(*BreakerStore)

// WithBreakerLogger sets the logger for the breaker.
func WithBreakerLogger(logger observability.Logger) BreakerOption {
	return func(b *BreakerStore) {
		b.logger = logger
	}
}

// NewBreakerStore wraps inner with a circuit breaker. The circuit
// opens when at least five requests in the rolling interval have a
// failure ratio of 0.5 or more.
func NewBreakerStore(inner Store, timeout time.Duration, opts ...BreakerOption) *BreakerStore {
	b := &BreakerStore{
		inner:  inner,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(b)
	}

	settings := gobreaker.Settings{
		Name:    "counter-store",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("counter store circuit breaker state change",
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			counterStoreBreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// IsKeyNotFound results pass through the breaker without counting as
// backend failures; a missing counter is a normal outcome.
func (b *BreakerStore) execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(func() (interface{}, error) {
		result, err := fn()
		if IsKeyNotFound(err) {
			return &notFoundResult{err: err}, nil
		}
		return result, err
	})
}

type notFoundResult struct {
	err error
}

// Get implements Store.
func (b *BreakerStore) Get(ctx context.Context, key string) (int64, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.inner.Get(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	if nf, ok := result.(*notFoundResult); ok {
		return 0, nf.err
	}
	return result.(int64), nil
}

// Set implements Store.
func (b *BreakerStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.inner.Set(ctx, key, value, expiration)
	})
	return err
}

// IncrementWithExpiry implements Store.
func (b *BreakerStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.inner.IncrementWithExpiry(ctx, key, delta, expiration)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Delete implements Store.
func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.inner.Delete(ctx, key)
	})
	return err
}

// Close implements Store.
func (b *BreakerStore) Close() error {
	return b.inner.Close()
}

// State returns the current circuit breaker state.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}
