// ABOUTME: Thread-safe TTL cache for deduplicating frame event reports.
// ABOUTME: Size-bounded with O(1) oldest-entry eviction via a linked list.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the timestamp and list element for a cached key.
type cacheEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited set of recently seen
// event keys. Keys are of the form "console|event|session"; a key seen
// again within the TTL is a duplicate report.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the given TTL and maximum size. A
// background goroutine periodically sweeps expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen atomically checks whether key was reported within the TTL, marking
// it if not. Returns true for a duplicate, false for a first report. The
// check and mark are one critical section so concurrent reports of the
// same event cannot both pass.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && time.Since(entry.seenAt) < c.ttl {
		return true
	}

	if ok {
		// Expired entry; refresh in place.
		entry.seenAt = time.Now()
		c.order.MoveToBack(entry.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}
	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{seenAt: time.Now(), element: elem}
	return false
}

// Forget drops a key so the next report of it is treated as fresh. Used
// when a console is reset: its next load is a new attempt, not a repeat.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of tracked keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Close stops the background sweeper.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// evictOldestLocked removes the oldest entry. Caller holds the mutex.
func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// sweep periodically removes expired entries so memory does not grow with
// time on a mostly idle portal.
func (c *Cache) sweep() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			for elem := c.order.Front(); elem != nil; {
				next := elem.Next()
				key := elem.Value.(string)
				entry := c.seen[key]
				if entry == nil || time.Since(entry.seenAt) >= c.ttl {
					c.order.Remove(elem)
					delete(c.seen, key)
				}
				elem = next
			}
			c.mu.Unlock()
		}
	}
}
