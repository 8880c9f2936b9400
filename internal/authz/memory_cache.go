package authz

import (
	"context"
	"sync"
	"time"
)

const memoryCacheShards = 16

// MemoryCache is a process-wide TTL cache sharded by subject hash so that
// invalidation for one subject never contends with reads for another.
// Expiry is checked lazily on read; Purge may be called to reclaim memory
// but is not required for correctness.
type MemoryCache struct {
	ttl    time.Duration
	now    func() time.Time
	shards [memoryCacheShards]memoryCacheShard
}

type memoryCacheShard struct {
	mu      sync.RWMutex
	entries map[CacheKey]memoryCacheEntry
}

type memoryCacheEntry struct {
	snap      Snapshot
	expiresAt time.Time
}

// NewMemoryCache returns a cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	c := &MemoryCache{ttl: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i].entries = make(map[CacheKey]memoryCacheEntry)
	}
	return c
}

func (c *MemoryCache) shard(subjectID int64) *memoryCacheShard {
	// Subjects are dense sequential IDs; a modulo spreads them evenly.
	idx := subjectID % memoryCacheShards
	if idx < 0 {
		idx = -idx
	}
	return &c.shards[idx]
}

// Get returns the snapshot for the key, or (nil, nil) when absent or expired.
func (c *MemoryCache) Get(_ context.Context, key CacheKey) (*Snapshot, error) {
	shard := c.shard(key.SubjectID)
	shard.mu.RLock()
	entry, ok := shard.entries[key]
	shard.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return nil, nil
	}
	snap := entry.snap
	return &snap, nil
}

// Set stores the snapshot under the cache TTL.
func (c *MemoryCache) Set(_ context.Context, key CacheKey, snap Snapshot) error {
	shard := c.shard(key.SubjectID)
	shard.mu.Lock()
	shard.entries[key] = memoryCacheEntry{snap: snap, expiresAt: c.now().Add(c.ttl)}
	shard.mu.Unlock()
	return nil
}

// InvalidateSubject drops every entry for the subject.
func (c *MemoryCache) InvalidateSubject(_ context.Context, subjectID int64) error {
	shard := c.shard(subjectID)
	shard.mu.Lock()
	for key := range shard.entries {
		if key.SubjectID == subjectID {
			delete(shard.entries, key)
		}
	}
	shard.mu.Unlock()
	return nil
}

// InvalidateAll drops everything.
func (c *MemoryCache) InvalidateAll(context.Context) error {
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		shard.entries = make(map[CacheKey]memoryCacheEntry)
		shard.mu.Unlock()
	}
	return nil
}

// Purge evicts expired entries. Optional housekeeping for long-lived
// processes with many distinct subjects.
func (c *MemoryCache) Purge() {
	now := c.now()
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if now.After(entry.expiresAt) {
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}
