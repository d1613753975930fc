package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// storeTracer is the OTEL tracer used for counter store operations.
var storeTracer = otel.Tracer("sentinel/counterstore")

// incrementWithExpiryScript atomically increments a counter and sets
// its expiration only on creation.
// KEYS[1] = key
// ARGV[1] = delta
// ARGV[2] = expiration in seconds
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisConfig holds configuration for the Redis counter store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Prefix:       "sentinel:",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	closed bool
	mu     sync.Mutex
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis store and verifies connectivity.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, prefix: config.Prefix}, nil
}

// NewRedisStoreWithClient creates a Redis store around an existing
// client, used by tests with miniredis.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return storeTracer.Start(ctx, "counterstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("counterstore.key", key),
		),
	)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	ctx, span := s.startSpan(ctx, "get", key)
	defer span.End()

	start := time.Now()
	val, err := s.client.Get(ctx, s.prefixKey(key)).Result()
	counterStoreOperationDuration.WithLabelValues("redis", "get").Observe(time.Since(start).Seconds())

	if err == redis.Nil {
		counterStoreOperationsTotal.WithLabelValues("redis", "get", "not_found").Inc()
		return 0, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		span.RecordError(err)
		counterStoreOperationsTotal.WithLabelValues("redis", "get", "error").Inc()
		return 0, fmt.Errorf("redis get: %w", err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		counterStoreOperationsTotal.WithLabelValues("redis", "get", "error").Inc()
		return 0, fmt.Errorf("redis get: parse value: %w", err)
	}

	counterStoreOperationsTotal.WithLabelValues("redis", "get", "success").Inc()
	return n, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	ctx, span := s.startSpan(ctx, "set", key)
	defer span.End()

	start := time.Now()
	err := s.client.Set(ctx, s.prefixKey(key), value, expiration).Err()
	counterStoreOperationDuration.WithLabelValues("redis", "set").Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		counterStoreOperationsTotal.WithLabelValues("redis", "set", "error").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	counterStoreOperationsTotal.WithLabelValues("redis", "set", "success").Inc()
	return nil
}

// IncrementWithExpiry implements Store using a Lua script so the
// increment and the conditional expire are one round trip.
func (s *RedisStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	ctx, span := s.startSpan(ctx, "increment_with_expiry", key)
	defer span.End()

	expirationSecs := int64(expiration.Seconds())
	if expirationSecs < 1 {
		expirationSecs = 1
	}

	start := time.Now()
	result, err := incrementWithExpiryScript.Run(ctx, s.client, []string{s.prefixKey(key)}, delta, expirationSecs).Result()
	counterStoreOperationDuration.WithLabelValues("redis", "increment_with_expiry").Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		counterStoreOperationsTotal.WithLabelValues("redis", "increment_with_expiry", "error").Inc()
		return 0, fmt.Errorf("redis increment script: %w", err)
	}

	val, ok := result.(int64)
	if !ok {
		counterStoreOperationsTotal.WithLabelValues("redis", "increment_with_expiry", "error").Inc()
		return 0, fmt.Errorf("redis increment script returned unexpected type: %T", result)
	}

	counterStoreOperationsTotal.WithLabelValues("redis", "increment_with_expiry", "success").Inc()
	return val, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "delete", key)
	defer span.End()

	start := time.Now()
	err := s.client.Del(ctx, s.prefixKey(key)).Err()
	counterStoreOperationDuration.WithLabelValues("redis", "delete").Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		counterStoreOperationsTotal.WithLabelValues("redis", "delete", "error").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	counterStoreOperationsTotal.WithLabelValues("redis", "delete", "success").Inc()
	return nil
}

// Close implements Store. Close is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
