// ABOUTME: Thread-safe TTL cache for resolved access results.
// ABOUTME: Injected into the access resolver and purged explicitly on catalog writes.

package cache

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the value, its timestamp and list element for a cached key.
type cacheEntry struct {
	key       string
	value     any
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited key/value cache.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
//
// A zero or negative TTL disables caching: Set is a no-op and Get always misses.
// A zero or negative maxSize means no size bound.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	gen     uint64 // bumped by every invalidation
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanup(cleanupInterval(ttl))
	}
	return c
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key. If the cache is at capacity,
// the oldest entry is evicted to make room.
func (c *Cache) Set(key string, value any) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

// Generation returns the current invalidation generation. Read it before
// loading a value from the source of truth and pass it to SetIfGeneration.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// SetIfGeneration stores value only if no invalidation happened since gen
// was read. It returns false when an invalidation intervened.
func (c *Cache) SetIfGeneration(key string, value any, gen uint64) bool {
	if c.ttl <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.setLocked(key, value)
	return true
}

// setLocked stores value under key. Must be called with mu held.
func (c *Cache) setLocked(key string, value any) {
	now := time.Now()

	if entry, exists := c.entries[key]; exists {
		entry.value = value
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{key: key, value: value, timestamp: now}
	entry.element = c.order.PushBack(entry)
	c.entries[key] = entry
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.removeLocked(key)
}

// Purge removes every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.entries = make(map[string]*cacheEntry)
	c.order.Init()
}

// Len returns the number of entries, including expired ones not yet cleaned up.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// removeLocked deletes key. Must be called with mu held.
func (c *Cache) removeLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	c.order.Remove(entry.element)
	delete(c.entries, key)
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	entry, _ := front.Value.(*cacheEntry)
	c.order.Remove(front)
	if entry != nil {
		delete(c.entries, entry.key)
	}
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
