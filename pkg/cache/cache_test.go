package cache

import "testing"

func TestCacheGetSet(t *testing.T) {
	c := New(2, PolicyFIFO)

	if _, ok := c.Get("a"); ok {
		t.Error("empty cache returned a hit")
	}

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v.(int) != 1 {
		t.Errorf("Get(a) = %v, %v; want 1, true", v, ok)
	}

	c.Set("a", 2)
	if v, _ := c.Get("a"); v.(int) != 2 {
		t.Errorf("overwrite lost: got %v, want 2", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d after overwrite, want 1", c.Len())
	}
}

func TestCacheFIFOEviction(t *testing.T) {
	c := New(2, PolicyFIFO)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touching "a" must not save it under FIFO
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("FIFO kept the oldest entry")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("FIFO evicted the wrong entry")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("newest entry missing")
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := New(2, PolicyLRU)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touching "a" makes "b" the eviction candidate
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("a"); !ok {
		t.Error("LRU evicted the recently used entry")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("LRU kept the least recently used entry")
	}
}

func TestCacheEvictAndClear(t *testing.T) {
	c := New(4, PolicyLRU)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Evict("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Evict left the entry behind")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", c.Len())
	}
}

func TestCacheStats(t *testing.T) {
	c := New(2, PolicyFIFO)
	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats = %d hits, %d misses; want 1, 1", hits, misses)
	}
}
