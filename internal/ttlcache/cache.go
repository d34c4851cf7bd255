// Package ttlcache provides a small in-memory string cache with lazy expiry.
//
// Entries are only expired when they are read; there is no background sweep.
// Callers that want to bound memory can call Sweep explicitly.
package ttlcache

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// DefaultTTL is how long a cached value stays valid.
const DefaultTTL = 24 * time.Hour

// Entry is a cached value with the time it was captured.
type Entry struct {
	CapturedAt time.Time
	Value      string
	OwnerKey   string
}

// Stats counts lookups since the cache was created.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Expired uint64
}

// Cache is a TTL key/value cache safe for concurrent use.
type Cache struct {
	clock   quartz.Clock
	entries map[string]Entry
	stats   Stats
	ttl     time.Duration
	mu      sync.Mutex
}

// New creates a cache. A zero ttl uses DefaultTTL and a nil clock uses the real clock.
func New(ttl time.Duration, clock quartz.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Cache{
		clock:   clock,
		entries: make(map[string]Entry),
		ttl:     ttl,
	}
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached value for key. A stale entry is deleted and reported as absent.
func (c *Cache) Get(key string) (string, bool) {
	if key == "" {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return "", false
	}
	if c.clock.Since(e.CapturedAt) > c.ttl {
		delete(c.entries, key)
		c.stats.Expired++
		c.stats.Misses++
		return "", false
	}
	c.stats.Hits++
	return e.Value, true
}

// Peek returns the raw entry without applying expiry.
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Set stores value under key, replacing any existing entry.
func (c *Cache) Set(key, value string) {
	c.SetOwned(key, value, key)
}

// SetOwned stores value under key and records the account that owns it.
func (c *Cache) SetOwned(key, value, owner string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{
		Value:      value,
		CapturedAt: c.clock.Now(),
		OwnerKey:   owner,
	}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeleteOwner removes every entry owned by owner and returns how many were removed.
func (c *Cache) DeleteOwner(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if e.OwnerKey == owner {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes all stale entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if c.clock.Since(e.CapturedAt) > c.ttl {
			delete(c.entries, k)
			n++
		}
	}
	c.stats.Expired += uint64(n)
	return n
}

// Stats returns a copy of the lookup counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
