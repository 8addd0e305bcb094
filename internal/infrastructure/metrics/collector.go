package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/chronicle/pkg/cache"
)

// CacheStats is the read side of a size bounded cache
type CacheStats interface {
	Metrics() cache.Metrics
	Len() int
	Size() int64
}

// Collector collects and aggregates metrics for the application.
type Collector struct {
	// API metrics
	apiRequests sync.Map // map[string]*uint64 - method -> count
	apiErrors   sync.Map // map[string]*uint64 - method -> error count
	apiDuration sync.Map // map[string]*durationValue - method -> total duration in seconds

	// Versioning metrics
	versionsCommitted sync.Map // map[string]*uint64 - entity type -> persisted rows
	commitFailures    sync.Map // map[string]*uint64 - "entity_type/kind" -> count

	// Relationship plan cache (optional)
	cache CacheStats
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// APIMetrics holds API request metrics.
type APIMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// VersionMetrics holds commit outcome metrics.
type VersionMetrics struct {
	Committed map[string]uint64 // entity type -> persisted rows
	Failures  map[string]uint64 // "entity_type/kind" -> failed commits
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache CacheStats) {
	c.cache = cache
}

// RecordRequest records an API request.
func (c *Collector) RecordRequest(method string) {
	counter := c.getOrCreateCounter(&c.apiRequests, method)
	atomic.AddUint64(counter, 1)
}

// RecordError records an API error.
func (c *Collector) RecordError(method string) {
	counter := c.getOrCreateCounter(&c.apiErrors, method)
	atomic.AddUint64(counter, 1)
}

// RecordDuration records the duration of an API call in seconds.
func (c *Collector) RecordDuration(method string, durationSeconds float64) {
	val, _ := c.apiDuration.LoadOrStore(method, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// RecordCommit records rows persisted by one successful commit.
func (c *Collector) RecordCommit(entityType string, rows int) {
	counter := c.getOrCreateCounter(&c.versionsCommitted, entityType)
	atomic.AddUint64(counter, uint64(rows))
}

// RecordCommitFailure records a rejected or failed commit by failure kind.
func (c *Collector) RecordCommitFailure(entityType, kind string) {
	counter := c.getOrCreateCounter(&c.commitFailures, entityType+"/"+kind)
	atomic.AddUint64(counter, 1)
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	return &CacheMetrics{
		Hits:        metrics.Hits,
		Misses:      metrics.Misses,
		HitRate:     metrics.HitRate(),
		Evictions:   metrics.KeysEvicted,
		KeysCurrent: int64(c.cache.Len()),
		MemoryBytes: c.cache.Size(),
	}
}

// GetAPIMetrics returns current API metrics.
func (c *Collector) GetAPIMetrics() *APIMetrics {
	result := &APIMetrics{
		RequestCounts:        loadCounters(&c.apiRequests),
		ErrorCounts:          loadCounters(&c.apiErrors),
		TotalDurationSeconds: make(map[string]float64),
	}

	// Collect duration totals
	c.apiDuration.Range(func(key, value interface{}) bool {
		method := key.(string)
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[method] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	return result
}

// GetVersionMetrics returns current commit metrics.
func (c *Collector) GetVersionMetrics() *VersionMetrics {
	return &VersionMetrics{
		Committed: loadCounters(&c.versionsCommitted),
		Failures:  loadCounters(&c.commitFailures),
	}
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}

func loadCounters(m *sync.Map) map[string]uint64 {
	result := make(map[string]uint64)
	m.Range(func(key, value interface{}) bool {
		result[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})
	return result
}
