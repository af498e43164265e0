// Package cache provides the in-memory cluster cache used by the filesystem.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
)

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Entries   atomic.Int64
	SizeBytes atomic.Int64
}

// Snapshot is a point-in-time copy of cache metrics.
type Snapshot struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int64
	SizeBytes int64
}

// Page is one cached cluster. Data holds the valid bytes of the cluster.
// A dirty page is never evicted; it must be flushed and marked clean first.
type Page struct {
	Key   string
	Data  []byte
	Dirty bool

	elem *list.Element
}

// PageCache bounds cached clusters by a byte budget. Each page is charged
// its full capacity. Clean pages are evicted least recently used first once
// the budget is exceeded, down to 90% of the budget.
type PageCache struct {
	mu       sync.Mutex
	maxBytes int64
	pageSize int64
	pages    map[string]*Page
	lru      *list.List // front = most recently used
	metrics  Metrics
}

// NewPageCache creates a cache holding at most maxBytes of pages of pageSize bytes.
func NewPageCache(maxBytes, pageSize int64) (*PageCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("maxBytes must be positive, got %d", maxBytes)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("pageSize must be positive, got %d", pageSize)
	}

	return &PageCache{
		maxBytes: maxBytes,
		pageSize: pageSize,
		pages:    make(map[string]*Page),
		lru:      list.New(),
	}, nil
}

// Get returns a cached page and marks it recently used.
func (c *PageCache) Get(key string) (*Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pages[key]
	if !ok {
		c.metrics.Misses.Add(1)
		return nil, false
	}
	c.metrics.Hits.Add(1)
	c.lru.MoveToFront(p.elem)
	return p, true
}

// Peek returns a cached page without touching recency or metrics.
func (c *PageCache) Peek(key string) (*Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[key]
	return p, ok
}

// Put inserts a page holding data, replacing any page with the same key.
// data must not be retained by the caller.
func (c *PageCache) Put(key string, data []byte, dirty bool) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.pages[key]; ok {
		old.Data = data
		old.Dirty = old.Dirty || dirty
		c.lru.MoveToFront(old.elem)
		return old
	}

	p := &Page{Key: key, Data: data, Dirty: dirty}
	p.elem = c.lru.PushFront(p)
	c.pages[key] = p
	c.metrics.Entries.Add(1)
	c.metrics.SizeBytes.Add(c.pageSize)

	if c.metrics.SizeBytes.Load() > c.maxBytes {
		c.evictLocked()
	}
	return p
}

// MarkClean clears the dirty flag of a page after it has been flushed.
func (c *PageCache) MarkClean(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pages[key]; ok {
		p.Dirty = false
	}
	if c.metrics.SizeBytes.Load() > c.maxBytes {
		c.evictLocked()
	}
}

// Remove drops a page regardless of its state.
func (c *PageCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(key)
}

// RemovePrefix drops every page whose key starts with prefix.
func (c *PageCache) RemovePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.pages {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries from the cache.
func (c *PageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.pages {
		c.removeLocked(key)
	}
}

func (c *PageCache) removeLocked(key string) bool {
	p, ok := c.pages[key]
	if !ok {
		return false
	}
	c.lru.Remove(p.elem)
	delete(c.pages, key)
	c.metrics.Entries.Add(-1)
	c.metrics.SizeBytes.Add(-c.pageSize)
	return true
}

// evictLocked drops clean pages from the cold end until the cache is under
// 90% of its budget or only dirty pages remain.
func (c *PageCache) evictLocked() {
	target := int64(float64(c.maxBytes) * 0.9)

	for e := c.lru.Back(); e != nil && c.metrics.SizeBytes.Load() > target; {
		prev := e.Prev()
		p := e.Value.(*Page)
		if !p.Dirty {
			c.removeLocked(p.Key)
			c.metrics.Evictions.Add(1)
		}
		e = prev
	}
}

// Metrics returns current cache metrics.
func (c *PageCache) Metrics() Snapshot {
	return Snapshot{
		Hits:      c.metrics.Hits.Load(),
		Misses:    c.metrics.Misses.Load(),
		Evictions: c.metrics.Evictions.Load(),
		Entries:   c.metrics.Entries.Load(),
		SizeBytes: c.metrics.SizeBytes.Load(),
	}
}

// HitRate returns the cache hit rate as a percentage.
func (c *PageCache) HitRate() float64 {
	hits := c.metrics.Hits.Load()
	misses := c.metrics.Misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Size returns the current cache size in bytes.
func (c *PageCache) Size() int64 {
	return c.metrics.SizeBytes.Load()
}

// Count returns the number of entries in the cache.
func (c *PageCache) Count() int64 {
	return c.metrics.Entries.Load()
}

// Capacity returns the maximum cache size in bytes.
func (c *PageCache) Capacity() int64 {
	return c.maxBytes
}

// Usage returns the cache usage as a percentage.
func (c *PageCache) Usage() float64 {
	return float64(c.metrics.SizeBytes.Load()) / float64(c.maxBytes) * 100
}
