package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps the Redis client used for idempotency markers and rate-limit
// counters. All operations take short per-call timeouts; callers decide
// whether a Redis failure is fatal (idempotency) or ignorable (rate limits
// fail open).
type Store struct {
	client  *redis.Client
	timeout time.Duration
}

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     string
	DB       int
	Password string
}

// New creates a Store from config. The connection is lazy; use Ping to
// verify reachability at startup.
func New(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &Store{client: client, timeout: 2 * time.Second}
}

// NewWithClient wraps an existing client (used by tests with miniredis).
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, timeout: 2 * time.Second}
}

// Client exposes the underlying Redis client for components that need
// script execution (rate limiter, distributed locks).
func (s *Store) Client() *redis.Client { return s.client }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// SetNX sets key to value with a TTL only if it does not exist.
// Returns true if the key was set.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// Set writes key with a TTL unconditionally.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

// Get returns the value at key, or "" if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// Delete removes a key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Del(ctx, key).Err()
}

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }
