package cache

// Cache is the interface for keyed in-process caches.
// Entries stay until evicted by the size bound or removed explicitly.
type Cache[V any] interface {
	// Get retrieves a value from cache.
	// Returns the value and true if found, or the zero value and false if not found.
	Get(key string) (V, bool)

	// Set stores a value in cache, replacing any previous value of the key.
	Set(key string, value V)

	// Delete removes a value from cache.
	Delete(key string)

	// Clear removes all entries from cache.
	Clear()

	// Metrics returns cache statistics.
	Metrics() Metrics
}

// Metrics holds cache performance statistics.
type Metrics struct {
	Hits        uint64
	Misses      uint64
	KeysAdded   uint64
	KeysEvicted uint64
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0.0
	}
	return float64(m.Hits) / float64(total)
}
