package cache

import (
	"sync"
	"time"
)

// Observer is notified of cache hits and misses.
type Observer interface {
	CacheHit(name string)
	CacheMiss(name string)
}

type entry[T any] struct {
	val T
	exp time.Time
}

// Cache is a concurrency-safe map whose entries expire after a fixed TTL.
// Expired entries are swept by Set at most once per TTL, so the map holds no
// more than the keys written within the last two TTLs.
type Cache[T any] struct {
	name      string
	mu        sync.RWMutex
	m         map[string]entry[T]
	ttl       time.Duration
	obs       Observer
	now       func() time.Time
	lastSweep time.Time
}

func New[T any](name string, ttl time.Duration, obs Observer) *Cache[T] {
	return &Cache[T]{name: name, m: make(map[string]entry[T]), ttl: ttl, obs: obs, now: time.Now}
}

func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.exp) {
		if c.obs != nil {
			c.obs.CacheMiss(c.name)
		}
		return zero, false
	}
	if c.obs != nil {
		c.obs.CacheHit(c.name)
	}
	return e.val, true
}

func (c *Cache[T]) Set(key string, v T) {
	if c.ttl <= 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) >= c.ttl {
		c.sweep(now)
	}
	c.m[key] = entry[T]{val: v, exp: now.Add(c.ttl)}
}

// Purge drops expired entries and returns how many were removed.
func (c *Cache[T]) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweep(now)
}

// Len reports the number of stored entries, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// sweep must be called with mu held.
func (c *Cache[T]) sweep(now time.Time) int {
	c.lastSweep = now
	n := 0
	for k, e := range c.m {
		if now.After(e.exp) {
			delete(c.m, k)
			n++
		}
	}
	return n
}
