package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Clock returns the current time; tests inject a fixed clock.
type Clock func() time.Time

// ShardedCache is a read-mostly TTL cache split across fnv-hashed shards.
// Readers of different keys never contend; writers lock a single shard.
type ShardedCache[V any] struct {
	shards [numShards]*shard[V]
	ttl    time.Duration
	now    Clock
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

// New creates a cache whose entries expire after ttl. A nil clock uses time.Now.
func New[V any](ttl time.Duration, clock Clock) *ShardedCache[V] {
	if clock == nil {
		clock = time.Now
	}
	c := &ShardedCache[V]{ttl: ttl, now: clock}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return c
}

func (c *ShardedCache[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores value under key with the default TTL.
func (c *ShardedCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *ShardedCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	now := c.now()
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, storedAt: now, expiresAt: now.Add(ttl)}
	s.mu.Unlock()
}

// Get returns the value if present and not expired.
func (c *ShardedCache[V]) Get(key string) (V, bool) {
	v, _, ok := c.GetWithAge(key)
	return v, ok
}

// GetWithAge returns the value and how long ago it was stored.
func (c *ShardedCache[V]) GetWithAge(key string) (V, time.Duration, bool) {
	var zero V
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return zero, 0, false
	}
	now := c.now()
	if !now.Before(e.expiresAt) {
		return zero, 0, false
	}
	return e.value, now.Sub(e.storedAt), true
}

// Delete removes key from the cache.
func (c *ShardedCache[V]) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards, expired ones included.
func (c *ShardedCache[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes expired entries and reports how many were dropped.
func (c *ShardedCache[V]) Cleanup() int {
	removed := 0
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if !now.Before(e.expiresAt) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Stats provides cache statistics.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns cache statistics.
func (c *ShardedCache[V]) Stats() Stats {
	stats := Stats{}
	var oldest time.Time

	for i, s := range c.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		for _, e := range s.items {
			if oldest.IsZero() || e.storedAt.Before(oldest) {
				oldest = e.storedAt
			}
		}
		s.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = c.now().Sub(oldest)
	}
	return stats
}
