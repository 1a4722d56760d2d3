// ABOUTME: Bounded set of processed webhook event keys with deterministic FIFO eviction.
// ABOUTME: Optional TTL lets keys age out; without it keys leave only when evicted by size.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Key derives the dedup token for a webhook event from the resource kind,
// resource gid and the event's created_at timestamp as delivered.
func Key(resourceType, gid, createdAt string) string {
	return resourceType + "-" + gid + "-" + createdAt
}

type cacheEntry struct {
	markedAt time.Time
	element  *list.Element
}

// Cache is a thread-safe, size-limited set of seen keys. When full, the
// oldest inserted key is evicted first. The set never exceeds maxSize.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache holding at most maxSize keys. A ttl of zero keeps keys
// until they are evicted by size; a positive ttl also starts a background
// sweep of expired keys, stopped by Close.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanup()
	}
	return c
}

func (c *Cache) expired(e *cacheEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.markedAt) >= c.ttl
}

// Check reports whether key is present and unexpired.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	return ok && !c.expired(entry, time.Now())
}

// CheckAndMark reports whether key was already seen and, if it was not,
// records it. The check and insert happen under one lock, so concurrent
// deliveries of the same event see exactly one false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && !c.expired(entry, time.Now()) {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key, evicting the oldest key if the cache is full.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Len returns the number of keys held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := time.Now()

	// Re-marking an expired key refreshes it and makes it the newest.
	if entry, exists := c.seen[key]; exists {
		entry.markedAt = now
		c.order.MoveToBack(entry.element)
		return
	}

	for len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	c.seen[key] = &cacheEntry{
		markedAt: now,
		element:  c.order.PushBack(key),
	}
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) cleanup() {
	interval := c.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired walks from the oldest key and stops at the first live one;
// insertion order is also expiry order.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		entry := c.seen[key]
		if entry == nil || !c.expired(entry, now) {
			return
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.seen, key)
		e = next
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
