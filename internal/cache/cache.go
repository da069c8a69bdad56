// Package cache provides caching for rendered strips and API query results.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	StripCacheSizeMB int
	StripTTL         time.Duration
	QueryCacheSize   int
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{StripCacheSizeMB: 64, StripTTL: time.Hour, QueryCacheSize: 512}
}

// Manager manages strip and query caches.
type Manager struct {
	stripCache *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	def := DefaultConfig()
	if cfg.StripTTL <= 0 {
		cfg.StripTTL = def.StripTTL
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = def.QueryCacheSize
	}

	stripCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.StripTTL,
		CleanWindow:        cfg.StripTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       32 * 1024,
		HardMaxCacheSize:   cfg.StripCacheSizeMB,
		Verbose:            false,
	}

	stripCache, err := bigcache.New(context.Background(), stripCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create strip cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		stripCache.Close()
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		stripCache: stripCache,
		queryCache: queryCache,
	}, nil
}

// GetStrip retrieves a rendered strip from cache.
func (m *Manager) GetStrip(key string) ([]byte, bool) {
	data, err := m.stripCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetStrip stores a rendered strip in cache.
func (m *Manager) SetStrip(key string, data []byte) error {
	return m.stripCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// PurgeRun drops every query result of a run. Strips of a deleted run are
// left to expire; callers check the run before serving one.
func (m *Manager) PurgeRun(runID string) int {
	prefix := runPrefix(runID)
	n := 0
	for _, k := range m.queryCache.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.queryCache.Remove(k)
			n++
		}
	}
	return n
}

func runPrefix(runID string) string { return "run:" + runID + ":" }

// StripKey generates a cache key for a rendered vector strip.
func StripKey(runID, element, colormap string) string {
	return fmt.Sprintf("%sstrip:%s:%s", runPrefix(runID), element, colormap)
}

// QueryKey generates a cache key for a query result of a run.
func QueryKey(runID, query string) string {
	return runPrefix(runID) + "query:" + query
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"strip_cache_len": m.stripCache.Len(),
		"strip_cache_cap": m.stripCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.stripCache.Close()
}
