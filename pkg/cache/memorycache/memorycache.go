package memorycache

import (
	"container/list"
	"sync"

	"github.com/asakaida/chronicle/pkg/cache"
)

// DefaultEntrySize is the accounted size of an entry when no Sizer is configured
const DefaultEntrySize = 100

type entry[V any] struct {
	key   string
	value V
	size  int64
}

// Cache is a size bounded LRU cache safe for concurrent use.
// Get promotes the entry, so reads take the write lock.
type Cache[V any] struct {
	mu sync.Mutex

	items     map[string]*list.Element // key -> list element
	evictList *list.List               // front = most recent, back = least recent

	maxSize     int64
	currentSize int64
	sizer       func(key string, value V) int64

	metrics cache.Metrics
}

// Config holds configuration for the memory cache.
type Config[V any] struct {
	// MaxSizeBytes is the maximum total accounted size of cached items.
	// Zero or less disables the bound.
	MaxSizeBytes int64

	// Sizer estimates the size of one entry. Defaults to DefaultEntrySize plus the key length.
	Sizer func(key string, value V) int64
}

var _ cache.Cache[int] = (*Cache[int])(nil)

// New creates a new memory cache with the given configuration.
func New[V any](config Config[V]) *Cache[V] {
	sizer := config.Sizer
	if sizer == nil {
		sizer = func(key string, _ V) int64 { return int64(DefaultEntrySize + len(key)) }
	}
	return &Cache[V]{
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		maxSize:   config.MaxSizeBytes,
		sizer:     sizer,
	}
}

// Get retrieves a value from cache and marks it most recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		c.metrics.Misses++
		var zero V
		return zero, false
	}

	c.metrics.Hits++
	c.evictList.MoveToFront(elem)
	return elem.Value.(*entry[V]).value, true
}

// Set stores a value in cache, evicting least recently used entries over the bound.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.sizer(key, value)

	if elem, exists := c.items[key]; exists {
		ent := elem.Value.(*entry[V])
		c.currentSize += size - ent.size
		ent.value = value
		ent.size = size
		c.evictList.MoveToFront(elem)
	} else {
		elem := c.evictList.PushFront(&entry[V]{key: key, value: value, size: size})
		c.items[key] = elem
		c.currentSize += size
		c.metrics.KeysAdded++
	}

	// The newest entry is kept even when it alone exceeds the bound
	for c.maxSize > 0 && c.currentSize > c.maxSize && c.evictList.Len() > 1 {
		c.removeElement(c.evictList.Back())
		c.metrics.KeysEvicted++
	}
}

// Delete removes a value from cache.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
}

// Clear removes all entries from cache.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.currentSize = 0
}

// Metrics returns cache statistics.
func (c *Cache[V]) Metrics() cache.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// removeElement removes an element from cache (must be called with lock held).
func (c *Cache[V]) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	ent := elem.Value.(*entry[V])
	delete(c.items, ent.key)
	c.currentSize -= ent.size
}

// Len returns the current number of items in cache.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the current total accounted size.
func (c *Cache[V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}
