// Package sqlitecache provides a SQLite-backed cache for resilix. It keeps
// cached responses across process restarts using a single-file database and
// the pure-Go sqlite driver, so no cgo is required.
package sqlitecache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quotelab/resilix"
)

// Cache implements resilix.Cache on top of a SQLite database.
type Cache struct {
	db *sql.DB
}

var _ resilix.Cache = (*Cache)(nil)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS response_cache (
	cache_key TEXT NOT NULL PRIMARY KEY,
	status_code INTEGER NOT NULL,
	header TEXT NOT NULL,
	body BLOB,
	cached_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_expires_at ON response_cache (expires_at);
`

// New opens (or creates) the database at dbPath and migrates the schema.
func New(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db}, nil
}

// Get implements resilix.Cache.Get. Expired rows are removed lazily.
func (c *Cache) Get(key string) (*resilix.CacheEntry, bool, error) {
	var (
		statusCode int
		headerJSON []byte
		body       []byte
		cachedAt   time.Time
		expiresAt  time.Time
	)

	err := c.db.QueryRow(
		`SELECT status_code, header, body, cached_at, expires_at FROM response_cache WHERE cache_key = ?`,
		key,
	).Scan(&statusCode, &headerJSON, &body, &cachedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	entry := &resilix.CacheEntry{
		StatusCode: statusCode,
		Body:       body,
		CachedAt:   cachedAt,
		ExpiresAt:  expiresAt,
	}
	if entry.Expired(time.Now()) {
		_, _ = c.db.Exec(`DELETE FROM response_cache WHERE cache_key = ?`, key)
		return nil, false, nil
	}

	var header http.Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, false, fmt.Errorf("cache get: decode header: %w", err)
	}
	entry.Header = header
	return entry, true, nil
}

// Set implements resilix.Cache.Set.
func (c *Cache) Set(key string, entry *resilix.CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %v", ttl)
	}

	now := time.Now().UTC()
	entry.CachedAt = now
	entry.ExpiresAt = now.Add(ttl)

	headerJSON, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("cache set: encode header: %w", err)
	}

	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO response_cache (cache_key, status_code, header, body, cached_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, entry.StatusCode, headerJSON, entry.Body, entry.CachedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete implements resilix.Cache.Delete.
func (c *Cache) Delete(key string) error {
	if _, err := c.db.Exec(`DELETE FROM response_cache WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Stats implements resilix.Cache.Stats. Counting never evicts rows.
func (c *Cache) Stats() (resilix.CacheStats, error) {
	now := time.Now().UTC()

	var total, expired int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM response_cache`).Scan(&total); err != nil {
		return resilix.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM response_cache WHERE expires_at <= ?`, now).Scan(&expired); err != nil {
		return resilix.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}

	return resilix.CacheStats{
		Entries:      total,
		ValidItems:   total - expired,
		ExpiredItems: expired,
	}, nil
}

// Clear implements resilix.Cache.Clear.
func (c *Cache) Clear(force bool) (int, error) {
	var (
		res sql.Result
		err error
	)
	if force {
		res, err = c.db.Exec(`DELETE FROM response_cache`)
	} else {
		res, err = c.db.Exec(`DELETE FROM response_cache WHERE expires_at <= ?`, time.Now().UTC())
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return int(removed), nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
