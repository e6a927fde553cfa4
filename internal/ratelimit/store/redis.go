package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apexgw/apexgw/internal/observability"
)

// incrementWithExpiryScript atomically increments a counter and sets its
// expiration on first increment.
// KEYS[1] = key, ARGV[1] = delta, ARGV[2] = expiration in seconds.
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger observability.Logger
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		Prefix:       "ratelimit:",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisStoreOption is a functional option for the Redis store.
type RedisStoreOption func(*RedisStore)

// WithRedisLogger sets the logger for the store.
func WithRedisLogger(logger observability.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore creates a new Redis-backed counter store.
func NewRedisStore(cfg *RedisConfig, opts ...RedisStoreOption) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	s := &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return s, nil
}

// NewRedisStoreFromClient wraps an existing client; used by tests.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: observability.NopLogger(),
	}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	value, err := s.client.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}

	return value, nil
}

// IncrementWithExpiry implements Store.
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	seconds := int64(expiration / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	value, err := incrementWithExpiryScript.Run(ctx, s.client,
		[]string{s.prefix + key}, delta, seconds).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment failed: %w", err)
	}

	return value, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
