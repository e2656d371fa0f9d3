// Package cache provides a sharded, generic TTL cache keyed by symbol.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Sharded is a concurrency-friendly cache with per-shard locking, used for
// hot-path market quote lookups.
type Sharded[T any] struct {
	shards [numShards]*shard[T]
}

type shard[T any] struct {
	mu    sync.RWMutex
	items map[string]entry[T]
}

type entry[T any] struct {
	value     T
	updatedAt time.Time
}

// NewSharded creates a new sharded cache.
func NewSharded[T any]() *Sharded[T] {
	c := &Sharded[T]{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[T]{items: make(map[string]entry[T])}
	}
	return c
}

func (c *Sharded[T]) getShard(key string) *shard[T] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a value for a key.
func (c *Sharded[T]) Set(key string, value T) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[T]{value: value, updatedAt: time.Now()}
	s.mu.Unlock()
}

// Get retrieves a value for a key.
func (c *Sharded[T]) Get(key string) (T, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	return e.value, ok
}

// GetWithAge retrieves a value and its age.
func (c *Sharded[T]) GetWithAge(key string) (T, time.Duration, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		var zero T
		return zero, 0, false
	}
	return e.value, time.Since(e.updatedAt), true
}

// Delete removes a key from the cache.
func (c *Sharded[T]) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards.
func (c *Sharded[T]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup drops entries older than maxAge and returns how many were removed.
func (c *Sharded[T]) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if e.updatedAt.Before(cutoff) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
