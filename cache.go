package main

import (
	"sync"
	"time"
)

type cacheEntry[T any] struct {
	value    T
	storedAt time.Time
	ttl      time.Duration
}

// TTLCache is an in-memory cache of scan snapshots. The mutex only protects
// the map: concurrent misses on one key each fetch upstream and the last Set
// wins.
type TTLCache[T any] struct {
	mu      sync.Mutex
	entries map[string]cacheEntry[T]
	now     func() time.Time
}

// NewTTLCache creates an empty cache.
func NewTTLCache[T any]() *TTLCache[T] {
	return &TTLCache[T]{
		entries: make(map[string]cacheEntry[T]),
		now:     time.Now,
	}
}

// Get returns the value for key if it is younger than its TTL.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) >= e.ttl {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Stale returns the value for key regardless of age.
func (c *TTLCache[T]) Stale(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return e.value, ok
}

// Set stores value under key for ttl.
func (c *TTLCache[T]) Set(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry[T]{value: value, storedAt: c.now(), ttl: ttl}
}

// Delete removes key.
func (c *TTLCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// DeleteFunc removes every key for which match returns true and reports how
// many were removed.
func (c *TTLCache[T]) DeleteFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if match(k) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, fresh or stale.
func (c *TTLCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
