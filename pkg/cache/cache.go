// Package cache provides an explicit keyed cache with pluggable eviction.
// A cache instance is created per run and handed to the components that
// need it; nothing in the engine caches through hidden package state.
package cache

import (
	"container/list"
	"sync"
)

// Policy selects which entry to evict when the cache is full
type Policy string

const (
	// PolicyFIFO evicts the oldest inserted entry
	PolicyFIFO Policy = "fifo"
	// PolicyLRU evicts the least recently used entry
	PolicyLRU Policy = "lru"
)

// Cache is a bounded key/value store
type Cache struct {
	capacity int
	policy   Policy

	entries map[string]*list.Element
	order   *list.List

	hits   int
	misses int

	mu sync.Mutex
}

type entry struct {
	key   string
	value interface{}
}

// New creates a cache with the given capacity and eviction policy.
// Capacity below 1 is treated as 1.
func New(capacity int, policy Policy) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	if policy != PolicyLRU {
		policy = PolicyFIFO
	}
	return &Cache{
		capacity: capacity,
		policy:   policy,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached value for key, if present
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if c.policy == PolicyLRU {
		c.order.MoveToBack(elem)
	}
	c.hits++
	return elem.Value.(*entry).value, true
}

// Set stores a value, evicting per policy when the cache is full
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*entry).value = value
		if c.policy == PolicyLRU {
			c.order.MoveToBack(elem)
		}
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictLocked()
	}

	c.entries[key] = c.order.PushBack(&entry{key: key, value: value})
}

// Evict removes a single entry by key
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// Clear removes every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counts since creation
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// evictLocked removes the entry at the front of the order list; both
// policies keep their eviction candidate there.
func (c *Cache) evictLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.entries, front.Value.(*entry).key)
}
