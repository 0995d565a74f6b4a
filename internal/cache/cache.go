// Package cache provides the namespaced third-party API cache backed
// by Redis. Harvesters store raw upstream responses so that repeated
// retrievals for the same person do not hammer slow authorities.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crisref/harvest-core/internal/config"
)

// Cache stores upstream responses keyed by namespace and key. Get
// returns (nil, nil) on a miss.
type Cache interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Close() error
}

// GetJSON reads a cached value into target. The boolean reports
// whether the key was present.
func GetJSON(ctx context.Context, c Cache, namespace, key string, target any) (bool, error) {
	raw, err := c.Get(ctx, namespace, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("decode cached value %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// SetJSON stores value as JSON.
func SetJSON(ctx context.Context, c Cache, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %s/%s: %w", namespace, key, err)
	}
	return c.Set(ctx, namespace, key, raw)
}

// =============================================================================
// REDIS CACHE
// =============================================================================

// RedisCache implements Cache backed by Redis. Entries expire after
// the namespace TTL, or the default TTL when the namespace has no
// override.
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	ttls       map[string]time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache connects to Redis with the configured TTLs. A TTL of
// zero keeps entries forever.
func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{client: client, defaultTTL: cfg.DefaultTTL, ttls: cfg.NamespaceTTLs}
}

// NewRedisCacheWithClient reuses an existing client (for tests).
func NewRedisCacheWithClient(client *redis.Client, defaultTTL time.Duration, ttls map[string]time.Duration) *RedisCache {
	return &RedisCache{client: client, defaultTTL: defaultTTL, ttls: ttls}
}

func (c *RedisCache) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	raw, err := c.client.Get(ctx, namespace+":"+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

func (c *RedisCache) Set(ctx context.Context, namespace, key string, value []byte) error {
	return c.client.Set(ctx, namespace+":"+key, value, c.ttlFor(namespace)).Err()
}

func (c *RedisCache) ttlFor(namespace string) time.Duration {
	if ttl, ok := c.ttls[namespace]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Ping verifies connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// =============================================================================
// NOOP CACHE
// =============================================================================

// NoopCache always misses. Used when third-party caching is disabled.
type NoopCache struct{}

var _ Cache = NoopCache{}

func (NoopCache) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	return nil, nil
}

func (NoopCache) Set(ctx context.Context, namespace, key string, value []byte) error {
	return nil
}

func (NoopCache) Close() error { return nil }
