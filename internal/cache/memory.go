package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process LRU cache with per-entry TTL.
type MemoryCache struct {
	maxEntries int

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
}

type memoryItem struct {
	key       string
	entry     *Entry
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache holding at most maxEntries
// entries; the least recently used entry is evicted at capacity.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}

	item := elem.Value.(*memoryItem)
	if time.Now().After(item.expiresAt) {
		c.removeLocked(elem)
		return nil, ErrCacheMiss
	}

	c.order.MoveToFront(elem)
	return item.entry, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*memoryItem)
		item.entry = entry
		item.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(elem)
		return nil
	}

	if c.order.Len() >= c.maxEntries {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}

	item := &memoryItem{key: key, entry: entry, expiresAt: time.Now().Add(ttl)}
	c.items[key] = c.order.PushFront(item)
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem)
	}
	return nil
}

// Close implements Cache.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Len returns the number of entries, counting expired ones not yet
// evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) removeLocked(elem *list.Element) {
	item := elem.Value.(*memoryItem)
	delete(c.items, item.key)
	c.order.Remove(elem)
}
