package cache

import (
	"container/list"
	"context"
	"sync"
)

// DefaultCapacity bounds the memory backend when no capacity is configured.
const DefaultCapacity = 10000

// Memory is an in-process LRU cache.
type Memory struct {
	capacity int
	items    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type memoryEntry struct {
	key   string
	value []float32
}

// NewMemory creates an LRU cache holding at most capacity embeddings.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns a copy of the cached embedding for key.
func (c *Memory) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	c.lru.MoveToFront(elem)
	return append([]float32(nil), elem.Value.(*memoryEntry).value...), true, nil
}

// Set stores a copy of value, evicting the least recently used entry at capacity.
func (c *Memory) Set(_ context.Context, key string, value []float32) error {
	value = append([]float32(nil), value...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*memoryEntry).value = value
		return nil
	}

	c.items[key] = c.lru.PushFront(&memoryEntry{key: key, value: value})
	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*memoryEntry).key)
		}
	}
	return nil
}

// Len returns the number of cached entries.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close drops every entry.
func (c *Memory) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	return nil
}
