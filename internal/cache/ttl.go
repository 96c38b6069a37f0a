// Package cache provides the bounded in-memory TTL cache used by every
// provider service. Entries past their TTL are invisible to Get but stay
// reachable through GetWithStale until the sweep drops them, which is what
// makes stale-if-error possible.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Entry is the raw cached triple. ExpiresAt is never before StoredAt.
type Entry struct {
	Value     interface{}
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Options configures a TTLCache. Zero values fall back to defaults.
type Options struct {
	MaxEntries    int           // 0 = unbounded
	SweepInterval time.Duration // default 60s
	Grace         time.Duration // kept past expiry for stale reads, default 60s
}

// TTLCache is a concurrency-safe key/value cache with per-entry TTL,
// deadline-based eviction when bounded, and a background sweep.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	opts    Options

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a cache and starts its sweep goroutine. Call Stop when done.
func New(opts Options) *TTLCache {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Grace <= 0 {
		opts.Grace = time.Minute
	}
	c := &TTLCache{
		entries: make(map[string]*Entry),
		opts:    opts,
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the value when the entry exists and is fresh.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.ExpiresAt) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.Value, true
}

// GetEntry returns the raw triple regardless of expiry.
func (c *TTLCache) GetEntry(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// GetWithStale returns the value when fresh or within maxStale past expiry.
// The second return reports staleness.
func (c *TTLCache) GetWithStale(key string, maxStale time.Duration) (interface{}, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false, false
	}
	now := time.Now()
	if !now.After(entry.ExpiresAt) {
		c.hits.Add(1)
		return entry.Value, false, true
	}
	if now.Sub(entry.ExpiresAt) <= maxStale {
		c.hits.Add(1)
		return entry.Value, true, true
	}
	c.misses.Add(1)
	return nil, false, false
}

// Set stores a value with a positive TTL. When the cache is at capacity the
// entry with the earliest deadline is evicted first.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.MaxEntries > 0 && len(c.entries) >= c.opts.MaxEntries {
		if _, exists := c.entries[key]; !exists {
			c.evictEarliestDeadline()
		}
	}

	now := time.Now()
	c.entries[key] = &Entry{
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Delete removes a single entry.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Len counts entries, expired or not.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats reports hit/miss/eviction counters.
func (c *TTLCache) Stats() (hits, misses, evictions int64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

// Stop halts the sweep goroutine. Safe to call more than once.
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// evictEarliestDeadline drops the entry closest to expiry. Caller holds the
// write lock.
func (c *TTLCache) evictEarliestDeadline() {
	var victim string
	var earliest time.Time
	for key, entry := range c.entries {
		if victim == "" || entry.ExpiresAt.Before(earliest) {
			victim = key
			earliest = entry.ExpiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		c.evictions.Add(1)
	}
}

func (c *TTLCache) sweepLoop() {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes entries past expiry plus the grace window. Fresh and
// stale-but-graced entries are never touched.
func (c *TTLCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.opts.Grace)
	for key, entry := range c.entries {
		if entry.ExpiresAt.Before(cutoff) {
			delete(c.entries, key)
		}
	}
}
