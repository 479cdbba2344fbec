// Package cache implements the bounded, approximate-LRU collection cache
// and the query-pattern counters that back auto-indexing (spec §4.D).
// Generalized from the teacher's buffermgr/buffer_manager.go BufferPool
// (fixed-size page buffers with hit/miss/eviction counters) to
// collection-keyed record slices evicted by last-access time instead of
// clock-sweep.
package cache

import (
	"sync"
	"time"

	"tdbx/src/record"
)

// AutoIndexThreshold is the per-field filter-condition count above which
// the engine opportunistically builds an index (spec §4.D, §4.H).
const AutoIndexThreshold = 5

// Entry is one cached collection: its records, the file mtime observed
// when loaded, and LRU bookkeeping (spec §3 "Cache entry").
type Entry struct {
	Records    []record.Record
	Mtime      time.Time
	AccessCnt  uint64
	LastAccess time.Time
}

// Cache is a bounded map from collection name to cache entry, plus
// per-(collection, field) query-pattern counters.
type Cache struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[string]*Entry
	counters map[string]map[string]int // collection -> field -> count
}

// New builds a Cache bounded to maxSize entries (spec §6.2 maxCacheSize,
// default 100).
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Cache{
		maxSize:  maxSize,
		entries:  make(map[string]*Entry),
		counters: make(map[string]map[string]int),
	}
}

// Get returns a defensive copy of the cached records for collection if
// the entry exists and is not stale relative to fileMtime (spec §4.D).
func (c *Cache) Get(collection string, fileMtime time.Time) ([]record.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[collection]
	if !ok {
		return nil, false
	}
	if e.Mtime.Before(fileMtime) {
		// Stale: caller must refresh from storage.
		return nil, false
	}

	e.AccessCnt++
	e.LastAccess = time.Now()

	return record.CloneAll(e.Records), true
}

// Put replaces the cache entry for collection with freshly loaded/saved
// records and mtime, evicting the least-recently-used entry first if the
// cache is at capacity (spec §4.D "On eviction").
func (c *Cache) Put(collection string, records []record.Record, mtime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[collection]; !exists && len(c.entries) >= c.maxSize {
		c.evictLocked()
	}

	c.entries[collection] = &Entry{
		Records:    record.CloneAll(records),
		Mtime:      mtime,
		AccessCnt:  1,
		LastAccess: time.Now(),
	}
}

// evictLocked drops the entry with the oldest LastAccess timestamp.
// Caller must hold c.mu.
func (c *Cache) evictLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true

	for k, e := range c.entries {
		if first || e.LastAccess.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.LastAccess
			first = false
		}
	}

	if !first {
		delete(c.entries, oldestKey)
		delete(c.counters, oldestKey)
	}
}

// Invalidate drops the cache entry and query-pattern counters for
// collection, used on drop. A file changed on disk is caught by Get's
// mtime check instead.
func (c *Cache) Invalidate(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, collection)
	delete(c.counters, collection)
}

// MaxSize returns the cache's configured entry ceiling.
func (c *Cache) MaxSize() int {
	return c.maxSize
}

// Has reports whether collection currently has a cache entry (used by
// tests and by drop's "no cached entry remains" invariant).
func (c *Cache) Has(collection string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[collection]
	return ok
}

// RecordFilterFields increments the query-pattern counter for each field
// named at the top level of a filter, and returns every one of those
// fields whose counter is now above AutoIndexThreshold, on this call and
// on every later call (spec §4.D, §4.H).
func (c *Cache) RecordFilterFields(collection string, fields []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	byField, ok := c.counters[collection]
	if !ok {
		byField = make(map[string]int)
		c.counters[collection] = byField
	}

	var crossed []string
	for _, f := range fields {
		byField[f]++
		if byField[f] > AutoIndexThreshold {
			crossed = append(crossed, f)
		}
	}
	return crossed
}
