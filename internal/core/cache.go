// Package core contains the moving parts of the SDK: the flag store, the
// polling loop, the streaming connection, and the analytics event queue.
package core

import (
	"sync"
	"time"

	"github.com/teracrafts/flagkit-go/types"
)

// CachedFlag is a flag state plus cache bookkeeping.
type CachedFlag struct {
	Flag           *types.FlagState
	FetchedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
}

// Cache is the in-memory flag store. Entries carry a TTL; expired entries
// stay resident and remain readable through GetStale until overwritten or
// evicted. When the store is full, inserting a new key evicts the entry
// with the oldest fetch time.
type Cache struct {
	entries    map[string]*CachedFlag
	defaultTTL time.Duration
	maxSize    int
	hits       int64
	misses     int64
	mu         sync.RWMutex
}

// NewCache creates a flag store with the given default TTL and capacity.
func NewCache(defaultTTL time.Duration, maxSize int) *Cache {
	return &Cache{
		entries:    make(map[string]*CachedFlag),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
	}
}

// Get returns the flag if present and fresh, recording a hit; a miss is
// recorded when the key is absent or expired.
func (c *Cache) Get(key string) (*types.FlagState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.ExpiresAt) {
		c.misses++
		return nil, false
	}

	c.hits++
	entry.LastAccessedAt = time.Now()
	return entry.Flag, true
}

// GetStale returns the flag whether fresh or expired. It does not touch
// the hit/miss counters; those describe the fresh path only.
func (c *Cache) GetStale(key string) (*types.FlagState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry.LastAccessedAt = time.Now()
	return entry.Flag, true
}

// Set stores a flag with the default TTL, or an explicit override.
// Overwriting an existing key never triggers eviction.
func (c *Cache) Set(key string, flag *types.FlagState, ttl ...time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, flag, ttl...)
}

// SetMany stores a batch of flags under one lock acquisition.
func (c *Cache) SetMany(flags []*types.FlagState, ttl ...time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, flag := range flags {
		c.setLocked(flag.Key, flag, ttl...)
	}
}

func (c *Cache) setLocked(key string, flag *types.FlagState, ttl ...time.Duration) {
	effectiveTTL := c.defaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		effectiveTTL = ttl[0]
	}

	if _, exists := c.entries[key]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	now := time.Now()
	c.entries[key] = &CachedFlag{
		Flag:           flag,
		FetchedAt:      now,
		ExpiresAt:      now.Add(effectiveTTL),
		LastAccessedAt: now,
	}
}

// evictOldestLocked removes the entry with the oldest fetch time.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.FetchedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.FetchedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Has reports whether a fresh entry exists for the key.
func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	return ok && !time.Now().After(entry.ExpiresAt)
}

// IsStale reports whether the key is resident but expired.
func (c *Cache) IsStale(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	return ok && time.Now().After(entry.ExpiresAt)
}

// Delete removes a key. Removing an absent key is a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries. The hit/miss counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CachedFlag)
}

// GetAllKeys returns all resident keys, fresh or stale.
func (c *Cache) GetAllKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// GetAll returns all resident flags keyed by flag key, fresh or stale.
func (c *Cache) GetAll() map[string]*types.FlagState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	flags := make(map[string]*types.FlagState, len(c.entries))
	for key, entry := range c.entries {
		flags[key] = entry.Flag
	}
	return flags
}

// GetAllValid returns only the fresh flags.
func (c *Cache) GetAllValid() map[string]*types.FlagState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	flags := make(map[string]*types.FlagState)
	for key, entry := range c.entries {
		if !now.After(entry.ExpiresAt) {
			flags[key] = entry.Flag
		}
	}
	return flags
}

// Size returns the number of resident entries, fresh or stale.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	valid := 0
	for _, entry := range c.entries {
		if !now.After(entry.ExpiresAt) {
			valid++
		}
	}

	return map[string]any{
		"size":        len(c.entries),
		"valid_count": valid,
		"stale_count": len(c.entries) - valid,
		"max_size":    c.maxSize,
		"hits":        c.hits,
		"misses":      c.misses,
	}
}
