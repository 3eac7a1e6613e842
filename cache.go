package resilix

import (
	"context"
	"hash/fnv"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Cache stores responses by key until they expire. Implementations must be
// safe for concurrent use. Backends with real I/O report failures through
// the error returns; the client treats a failed read as a miss and a failed
// write as a skipped store, never as a request failure.
type Cache interface {
	// Get returns the entry for key. Expired entries are treated as absent
	// and may be removed lazily.
	Get(key string) (*CacheEntry, bool, error)
	// Set stores an entry under key for ttl.
	Set(key string, entry *CacheEntry, ttl time.Duration) error
	// Delete removes the entry for key, if any.
	Delete(key string) error
	// Stats counts entries by expiry without evicting anything.
	Stats() (CacheStats, error)
	// Clear removes all entries when force is true, otherwise only expired
	// ones. Returns the number of entries removed.
	Clear(force bool) (int, error)
}

// CacheEntry is a stored response snapshot.
type CacheEntry struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	CachedAt   time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the entry's lifetime is over at the given instant.
// An entry expires the moment now reaches ExpiresAt.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStats summarizes cache contents at a point in time.
type CacheStats struct {
	Entries      int
	ValidItems   int
	ExpiredItems int
}

// CacheKeyFunc derives the cache key for a request.
type CacheKeyFunc func(req *http.Request) string

// DefaultCacheKeyFunc keys entries by method and URL with the query string
// re-encoded in canonical order, so URLs that differ only in parameter order
// share an entry.
func DefaultCacheKeyFunc(req *http.Request) string {
	if req.URL == nil {
		return req.Method + ":"
	}
	u := *req.URL
	if u.RawQuery != "" {
		if q, err := url.ParseQuery(u.RawQuery); err == nil {
			u.RawQuery = q.Encode()
		}
	}
	return req.Method + ":" + u.String()
}

// CacheCondition decides whether a request is cacheable at all.
type CacheCondition func(req *http.Request) bool

// DefaultCacheCondition caches GET requests only.
func DefaultCacheCondition(req *http.Request) bool {
	return req.Method == http.MethodGet
}

// Responses larger than this are never cached.
const maxCacheableBodySize = 10 * 1024 * 1024

const numCacheShards = 16

// InMemoryCache is the default Cache: a sharded map guarded by one RWMutex
// per shard. It never returns a non-nil error.
type InMemoryCache struct {
	shards [numCacheShards]*cacheShard
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{}
	for i := range c.shards {
		c.shards[i] = &cacheShard{store: make(map[string]*CacheEntry)}
	}
	return c
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%numCacheShards]
}

// Get implements Cache. Expired entries are removed lazily.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool, error) {
	shard := c.getShard(key)
	now := time.Now()

	shard.mu.RLock()
	entry, exists := shard.store[key]
	shard.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if entry.Expired(now) {
		shard.mu.Lock()
		if current, ok := shard.store[key]; ok && current == entry {
			delete(shard.store, key)
		}
		shard.mu.Unlock()
		return nil, false, nil
	}
	return entry, true, nil
}

// Set implements Cache. The entry's expiry is stamped from ttl.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) error {
	now := time.Now()
	entry.CachedAt = now
	entry.ExpiresAt = now.Add(ttl)

	shard := c.getShard(key)
	shard.mu.Lock()
	shard.store[key] = entry
	shard.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (c *InMemoryCache) Delete(key string) error {
	shard := c.getShard(key)
	shard.mu.Lock()
	delete(shard.store, key)
	shard.mu.Unlock()
	return nil
}

// Stats implements Cache. Classification is by timestamp only; nothing is
// evicted.
func (c *InMemoryCache) Stats() (CacheStats, error) {
	now := time.Now()
	var stats CacheStats
	for _, shard := range c.shards {
		shard.mu.RLock()
		for _, entry := range shard.store {
			stats.Entries++
			if entry.Expired(now) {
				stats.ExpiredItems++
			} else {
				stats.ValidItems++
			}
		}
		shard.mu.RUnlock()
	}
	return stats, nil
}

// Clear implements Cache.
func (c *InMemoryCache) Clear(force bool) (int, error) {
	now := time.Now()
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		if force {
			removed += len(shard.store)
			shard.store = make(map[string]*CacheEntry)
		} else {
			for key, entry := range shard.store {
				if entry.Expired(now) {
					delete(shard.store, key)
					removed++
				}
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// Context keys for per-request cache control.
type contextKey string

const cacheControlKey contextKey = "resilix_cache_control"

// CacheControl holds the per-request cache override carried in the context.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

// WithContextCacheEnabled marks the request context as cacheable regardless
// of the client's cache condition.
func WithContextCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true})
}

// WithContextCacheDisabled suppresses caching for this request.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: false})
}

// WithContextCacheTTL enables caching for this request with an explicit TTL
// overriding the client default.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true, TTL: ttl})
}

func cacheControlFrom(ctx context.Context) (*CacheControl, bool) {
	cc, ok := ctx.Value(cacheControlKey).(*CacheControl)
	return cc, ok
}
