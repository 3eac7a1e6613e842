// Package rediscache provides a Redis-backed cache for resilix, letting
// multiple client instances share one response cache. Entries are stored as
// JSON under a namespaced key and expire server-side via the Redis TTL.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quotelab/resilix"
)

const (
	// DefaultPrefix namespaces resilix entries inside a shared Redis.
	DefaultPrefix = "resilix"
	// DefaultOpTimeout bounds each Redis round trip.
	DefaultOpTimeout = 2 * time.Second
)

// Options configures a Redis-backed cache.
type Options struct {
	// Addr is the host:port of the Redis server.
	Addr string
	// Password is optional.
	Password string
	// DB selects the Redis database number.
	DB int
	// Prefix namespaces keys; DefaultPrefix when empty.
	Prefix string
	// OpTimeout bounds each operation; DefaultOpTimeout when zero.
	OpTimeout time.Duration
}

// Cache implements resilix.Cache on top of Redis.
type Cache struct {
	client    redis.Cmdable
	prefix    string
	opTimeout time.Duration
}

var _ resilix.Cache = (*Cache)(nil)

// New dials Redis and verifies the connection with a ping.
func New(opts Options) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, opts.Prefix, opts.OpTimeout), nil
}

// NewWithClient wraps an existing Redis client. Useful for cluster clients
// and for tests.
func NewWithClient(client redis.Cmdable, prefix string, opTimeout time.Duration) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Cache{client: client, prefix: prefix, opTimeout: opTimeout}
}

func (c *Cache) namespaced(key string) string {
	return c.prefix + ":" + key
}

func (c *Cache) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opTimeout)
}

// Get implements resilix.Cache.Get.
func (c *Cache) Get(key string) (*resilix.CacheEntry, bool, error) {
	ctx, cancel := c.opContext()
	defer cancel()

	val, err := c.client.Get(ctx, c.namespaced(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry resilix.CacheEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, false, fmt.Errorf("decode entry: %w", err)
	}
	// Redis evicts at TTL, but guard against clock skew between writers.
	if entry.Expired(time.Now()) {
		_ = c.client.Del(ctx, c.namespaced(key)).Err()
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set implements resilix.Cache.Set. The Redis TTL mirrors the entry TTL so
// expired entries disappear without a sweeper.
func (c *Cache) Set(key string, entry *resilix.CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %v", ttl)
	}

	now := time.Now()
	entry.CachedAt = now
	entry.ExpiresAt = now.Add(ttl)

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	ctx, cancel := c.opContext()
	defer cancel()
	return c.client.Set(ctx, c.namespaced(key), payload, ttl).Err()
}

// Delete implements resilix.Cache.Delete.
func (c *Cache) Delete(key string) error {
	ctx, cancel := c.opContext()
	defer cancel()
	return c.client.Del(ctx, c.namespaced(key)).Err()
}

// Stats implements resilix.Cache.Stats. Every key still present in Redis is
// valid because Redis removes entries at their TTL.
func (c *Cache) Stats() (resilix.CacheStats, error) {
	ctx, cancel := c.opContext()
	defer cancel()

	var stats resilix.CacheStats
	err := c.scanKeys(ctx, func(keys []string) error {
		stats.Entries += len(keys)
		stats.ValidItems += len(keys)
		return nil
	})
	if err != nil {
		return resilix.CacheStats{}, err
	}
	return stats, nil
}

// Clear implements resilix.Cache.Clear. With force it deletes every
// namespaced key; without force there is nothing to do since Redis already
// evicted the expired ones.
func (c *Cache) Clear(force bool) (int, error) {
	if !force {
		return 0, nil
	}

	ctx, cancel := c.opContext()
	defer cancel()

	removed := 0
	err := c.scanKeys(ctx, func(keys []string) error {
		if len(keys) == 0 {
			return nil
		}
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
		removed += len(keys)
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}

// scanKeys walks all namespaced keys in batches using SCAN, never KEYS.
func (c *Cache) scanKeys(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	pattern := c.prefix + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if err := fn(keys); err != nil {
			return err
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
