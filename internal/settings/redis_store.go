package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces settings responses in a shared Redis.
const DefaultRedisPrefix = "docflow:settings:"

// DefaultRedisTimeout bounds each Redis round trip made by the HTTP cache.
const DefaultRedisTimeout = 2 * time.Second

// RedisStore is a ResponseStore shared by every worker replica. Redis errors
// degrade to cache misses so the settings service is consulted instead.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger

	hits   int64
	misses int64
}

// RedisStoreOption customizes a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix overrides DefaultRedisPrefix.
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisTTL sets how long Redis keeps a response. Default: DefaultMaxAge.
func WithRedisTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRedisTimeout overrides DefaultRedisTimeout.
func WithRedisTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRedisLogger sets the logger used for degraded lookups.
func WithRedisLogger(logger *slog.Logger) RedisStoreOption {
	return func(s *RedisStore) { s.logger = logger }
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		prefix:  DefaultRedisPrefix,
		ttl:     DefaultMaxAge,
		timeout: DefaultRedisTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisStoreFromURL parses a redis:// URL and verifies connectivity.
func NewRedisStoreFromURL(ctx context.Context, rawURL string, opts ...RedisStoreOption) (*RedisStore, error) {
	o, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, opts...), nil
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Get returns a stored response.
func (s *RedisStore) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("redis settings lookup failed", "error", err)
		}
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&s.hits, 1)
	return val, true
}

// Set stores a response for the configured ttl.
func (s *RedisStore) Set(key string, resp []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), resp, s.ttl).Err(); err != nil {
		s.logger.Warn("store settings response in redis failed", "error", err)
	}
}

// Delete drops a response.
func (s *RedisStore) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		s.logger.Warn("delete settings response from redis failed", "error", err)
	}
}

// Ping checks the connection, for health monitoring.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Stats returns hit and miss counters.
func (s *RedisStore) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&s.hits), atomic.LoadInt64(&s.misses)
}
