package resolution

import (
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/scout/internal/domain"
	"github.com/aristath/scout/internal/utils"
)

// DefaultCacheMaxAge is how long a stored resolution stays valid. Broker
// contract identifiers rarely change, so this is a "good for a long time"
// cache.
const DefaultCacheMaxAge = 365 * 24 * time.Hour

// CacheStatistics is a read-only snapshot of cache effectiveness.
type CacheStatistics struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	TotalEntries int     `json:"total_entries"`
}

// Cache stores resolution results keyed by (isin, ticker, currency), backed
// by SQLite so results survive restarts. Negative results are cached too: a
// confirmed "not found" avoids repeating a slow multi-strategy search.
//
// Get and Put are safe under concurrent callers; counters are atomics and
// the database serializes its own writes.
type Cache struct {
	db     *sql.DB
	maxAge time.Duration
	log    zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache over the given database connection.
// maxAge <= 0 selects DefaultCacheMaxAge.
func NewCache(db *sql.DB, maxAge time.Duration, log zerolog.Logger) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAge
	}
	return &Cache{
		db:     db,
		maxAge: maxAge,
		log:    log.With().Str("repo", "resolution_cache").Logger(),
	}
}

// EnsureSchema creates the cache table if it does not exist.
func (c *Cache) EnsureSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS resolution_cache (
			key TEXT PRIMARY KEY,
			isin TEXT NOT NULL DEFAULT '',
			ticker TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT '',
			result BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create resolution_cache table: %w", err)
	}
	return nil
}

func cacheKey(isin, ticker, currency string) string {
	normalize := func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
	return normalize(isin) + "|" + normalize(ticker) + "|" + normalize(currency)
}

// Get returns the stored result for the key, or (nil, nil) on a miss.
// Entries older than the max age count as misses and are left for the sweep
// job to delete.
func (c *Cache) Get(isin, ticker, currency string) (*domain.ResolutionResult, error) {
	key := cacheKey(isin, ticker, currency)

	var blob []byte
	var createdAt int64
	err := c.db.QueryRow(
		"SELECT result, created_at FROM resolution_cache WHERE key = ?", key,
	).Scan(&blob, &createdAt)
	if err == sql.ErrNoRows {
		c.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		c.misses.Add(1)
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}

	if time.Since(time.Unix(createdAt, 0)) > c.maxAge {
		c.misses.Add(1)
		return nil, nil
	}

	var result domain.ResolutionResult
	if err := msgpack.Unmarshal(blob, &result); err != nil {
		c.misses.Add(1)
		return nil, fmt.Errorf("failed to decode cached result: %w", err)
	}

	c.hits.Add(1)
	return &result, nil
}

// Put upserts the result for the key, overwriting any prior entry and
// timestamping the write.
func (c *Cache) Put(isin, ticker, currency string, result *domain.ResolutionResult) error {
	blob, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT INTO resolution_cache (key, isin, ticker, currency, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			result = excluded.result,
			created_at = excluded.created_at
	`, cacheKey(isin, ticker, currency), strings.ToUpper(strings.TrimSpace(isin)),
		strings.ToUpper(strings.TrimSpace(ticker)), strings.ToUpper(strings.TrimSpace(currency)),
		blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Stats returns a snapshot of counters and entry count.
func (c *Cache) Stats() CacheStatistics {
	stats := CacheStatistics{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM resolution_cache").Scan(&count); err != nil {
		c.log.Warn().Err(err).Msg("Failed to count cache entries")
	}
	stats.TotalEntries = count

	return stats
}

// Clear removes every entry and resets the counters.
func (c *Cache) Clear() (int, error) {
	result, err := c.db.Exec("DELETE FROM resolution_cache")
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}

	removed, _ := result.RowsAffected()
	c.hits.Store(0)
	c.misses.Store(0)

	c.log.Info().Int64("removed", removed).Msg("Resolution cache cleared")
	return int(removed), nil
}

// SweepExpired deletes entries older than the max age. Run periodically by
// the scheduler; Get never returns them either way.
func (c *Cache) SweepExpired() (int, error) {
	cutoff := time.Now().Add(-c.maxAge).Unix()
	done := utils.MeasureDBQuery("cache_sweep_expired", c.log)
	result, err := c.db.Exec("DELETE FROM resolution_cache WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired cache entries: %w", err)
	}

	removed, _ := result.RowsAffected()
	done(removed)
	if removed > 0 {
		c.log.Info().Int64("removed", removed).Msg("Swept expired cache entries")
	}
	return int(removed), nil
}
