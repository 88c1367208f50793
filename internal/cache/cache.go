// Package cache stores recent moderation decisions keyed by content
// fingerprint, so repeated checks of the same utterance skip the rule and
// provider stages entirely. Entries expire after a TTL and the cache is
// capacity-bounded: under pressure it first purges expired entries, then
// evicts the oldest survivors in batches.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/kidsafe/guardian/internal/moderation"
)

// Config bounds the cache.
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultConfig returns the standard decision-cache bounds.
func DefaultConfig() Config {
	return Config{
		TTL:        time.Hour,
		MaxEntries: 1000,
	}
}

type entry struct {
	result    moderation.Result
	createdAt time.Time
}

// Counters reports cache effectiveness since start or the last Clear.
type Counters struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
	Entries   int    `json:"entries"`
}

// Cache is safe for concurrent use; one mutex guards the map and counters.
type Cache struct {
	mu  sync.Mutex
	cfg Config

	entries   map[string]entry
	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64
}

// New creates a Cache. Non-positive config fields fall back to defaults.
func New(cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]entry),
	}
}

// Get returns the cached decision for key. An entry past its TTL counts as
// a miss and is removed on the spot.
func (c *Cache) Get(key string) (moderation.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return moderation.Result{}, false
	}
	if time.Since(e.createdAt) > c.cfg.TTL {
		delete(c.entries, key)
		c.expired++
		c.misses++
		return moderation.Result{}, false
	}
	c.hits++
	return e.result, true
}

// Set stores a decision under key. At capacity it purges expired entries
// first; if the cache is still full it evicts the oldest entries in one
// batch, which keeps eviction cost amortized instead of per-call.
func (c *Cache) Set(key string, result moderation.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.purgeExpiredLocked()
		if len(c.entries) >= c.cfg.MaxEntries {
			c.evictOldestLocked()
		}
	}

	c.entries[key] = entry{result: result, createdAt: time.Now()}
}

func (c *Cache) purgeExpiredLocked() {
	for k, e := range c.entries {
		if time.Since(e.createdAt) > c.cfg.TTL {
			delete(c.entries, k)
			c.expired++
		}
	}
}

// evictOldestLocked removes the oldest-created entries until the cache has
// room for one more, in batches of a tenth of capacity.
func (c *Cache) evictOldestLocked() {
	batch := c.cfg.MaxEntries / 10
	if batch < 1 {
		batch = 1
	}
	need := len(c.entries) - c.cfg.MaxEntries + 1
	if need > batch {
		batch = need
	}
	if batch > len(c.entries) {
		batch = len(c.entries)
	}

	type aged struct {
		key       string
		createdAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, createdAt: e.createdAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].createdAt.Before(all[j].createdAt) })

	for i := 0; i < batch; i++ {
		delete(c.entries, all[i].key)
		c.evictions++
	}
}

// Clear drops every entry. Counters survive so operators can still read
// lifetime effectiveness after a flush.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	return n
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Counters returns a snapshot of the cache counters.
func (c *Cache) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		Entries:   len(c.entries),
	}
}
