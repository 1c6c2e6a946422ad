package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/Naeem401/sport-server/internal/metrics"
	"github.com/Naeem401/sport-server/internal/model"
)

// timeNow is swappable in tests for deterministic freshness checks.
var timeNow = time.Now

// Entry is one cached dataset. Entries are replaced wholesale on refresh,
// never mutated in place.
type Entry struct {
	Payload   []model.Record
	FetchedAt time.Time
}

// Config contains cache configuration
type Config struct {
	// Maximum number of (topic, parameter-set) entries kept in memory
	Capacity int
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() Config {
	return Config{
		Capacity: 10000,
	}
}

// Cache stores fetched datasets by cache key. Staleness is decided by
// callers via IsFresh; a stale entry stays readable so the fetch pipeline
// can fall back to it when the upstream is unavailable.
type Cache struct {
	entries *lru.TwoQueueCache
	mu      sync.RWMutex
	metrics *metrics.Metrics
}

// New creates a cache with the given configuration.
func New(config Config) (*Cache, error) {
	if config.Capacity == 0 {
		config.Capacity = DefaultConfig().Capacity
	}

	entries, err := lru.New2Q(config.Capacity)
	if err != nil {
		return nil, err
	}

	return &Cache{
		entries: entries,
		metrics: metrics.GetMetrics(),
	}, nil
}

// Get retrieves an entry. Expired entries are returned too; use IsFresh to
// decide whether the payload is current.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, found := c.entries.Get(key)
	if !found {
		c.metrics.CacheOperations.WithLabelValues("miss").Inc()
		return Entry{}, false
	}

	c.metrics.CacheOperations.WithLabelValues("hit").Inc()
	return value.(Entry), true
}

// Put replaces the entry at key with the given payload, stamped with the
// current time.
func (c *Cache) Put(key string, payload []model.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(key, Entry{
		Payload:   payload,
		FetchedAt: timeNow(),
	})
	c.metrics.CacheOperations.WithLabelValues("set").Inc()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.metrics.CacheOperations.WithLabelValues("clear").Inc()
}

// IsFresh reports whether the entry's age is strictly below ttl. An entry
// exactly ttl old counts as stale.
func IsFresh(entry Entry, ttl time.Duration) bool {
	return timeNow().Sub(entry.FetchedAt) < ttl
}
