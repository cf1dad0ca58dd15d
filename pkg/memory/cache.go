package memory

import (
	"sync"
	"time"
)

// resultCache holds recent search results per user with a fixed freshness
// window. The cache is bounded: beyond cap entries, the oldest entry is
// evicted. Stale entries are discarded on read.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	cap     int
	entries map[string]cacheEntry

	// now is extracted for test injection.
	now func() time.Time
}

type cacheEntry struct {
	records   []Record
	fetchedAt time.Time
}

func newResultCache(ttl time.Duration, cap int) *resultCache {
	return &resultCache{
		ttl:     ttl,
		cap:     cap,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *resultCache) get(userID string) ([]Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) > c.ttl {
		delete(c.entries, userID)
		return nil, false
	}
	return e.records, true
}

func (c *resultCache) put(userID string, records []Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[userID]; !ok && len(c.entries) >= c.cap {
		c.evictOldestLocked()
	}
	c.entries[userID] = cacheEntry{records: records, fetchedAt: c.now()}
}

func (c *resultCache) invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// evictOldestLocked removes the entry with the oldest fetch time.
// Caller holds c.mu.
func (c *resultCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.fetchedAt.Before(oldest) {
			oldestKey, oldest = k, e.fetchedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
