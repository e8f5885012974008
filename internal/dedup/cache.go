package dedup

import (
	"container/list"
	"sync"
)

// DefaultCacheSize is the default number of overflowed keys remembered.
const DefaultCacheSize = 20000

// OverflowCache remembers blocking keys whose candidate scans exceeded the
// candidate limit, so later subjects sharing the key skip the scan.
// Oldest keys are evicted first once the capacity is exceeded.
// It is safe for concurrent use.
type OverflowCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	keys     map[string]*list.Element
}

// NewOverflowCache creates a cache holding at most capacity keys.
// A non-positive capacity selects DefaultCacheSize.
func NewOverflowCache(capacity int) *OverflowCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &OverflowCache{
		capacity: capacity,
		order:    list.New(),
		keys:     make(map[string]*list.Element),
	}
}

// ShouldSkip reports whether key previously overflowed.
func (c *OverflowCache) ShouldSkip(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[key]
	return ok
}

// RecordOverflow remembers key. Recording a key already present does not
// change its position in the eviction order.
func (c *OverflowCache) RecordOverflow(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.keys[key]; ok {
		return
	}
	c.keys[key] = c.order.PushBack(key)

	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.keys, oldest.Value.(string))
	}
}

// Len returns the number of remembered keys.
func (c *OverflowCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the maximum number of remembered keys.
func (c *OverflowCache) Capacity() int {
	return c.capacity
}

// Reset forgets every key.
func (c *OverflowCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.keys)
}
