// Package cache implements the bounded, namespace-aware relevance cache
// sitting in front of the retrieval orchestrator. It combines an LRU with
// TTL expiration and single-flight request deduplication so that a burst of
// identical concurrent queries computes the fused result exactly once.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// Config configures a RelevanceCache.
type Config struct {
	// Capacity bounds the number of cached entries; the least recently
	// used entry is evicted once exceeded.
	Capacity int

	// TTL is how long an entry remains valid after being written. A
	// non-positive TTL falls back to DefaultTTL; expiration cannot be
	// disabled.
	TTL time.Duration
}

// DefaultCapacity and DefaultTTL match the configuration surface's
// cache_capacity and cache_ttl_seconds defaults.
const (
	DefaultCapacity = 10000
	DefaultTTL      = 300 * time.Second
)

type entry struct {
	key       string
	namespace string
	value     types.FusedResult
	expiresAt time.Time
}

// RelevanceCache is a thread-safe, namespace-scoped LRU cache of fused
// retrieval results, keyed by the hash.CacheKey of a query's normalized
// shape (namespace, intent, text, topK, channel mask, weight profile).
type RelevanceCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration

	list  *list.List
	items map[string]*list.Element

	// byNamespace tracks which keys belong to a namespace so
	// InvalidateNamespace can evict without scanning every entry.
	byNamespace map[string]map[string]struct{}

	group singleflight.Group

	hits   uint64
	misses uint64
}

// New creates a RelevanceCache. A non-positive Capacity or TTL falls back
// to the package defaults.
func New(cfg Config) *RelevanceCache {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RelevanceCache{
		capacity:    capacity,
		ttl:         ttl,
		list:        list.New(),
		items:       make(map[string]*list.Element, capacity),
		byNamespace: make(map[string]map[string]struct{}),
	}
}

// Get returns the cached result for key if present and unexpired, moving
// it to the front of the LRU list.
func (c *RelevanceCache) Get(key string) (types.FusedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return types.FusedResult{}, false
	}

	e := elem.Value.(*entry)
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.removeElementLocked(elem)
		atomic.AddUint64(&c.misses, 1)
		return types.FusedResult{}, false
	}

	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return e.value, true
}

// Put writes a fused result under key, attributed to namespace for later
// InvalidateNamespace calls. A full cache evicts its least recently used
// entry first.
func (c *RelevanceCache) Put(namespace, key string, value types.FusedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		if c.ttl > 0 {
			e.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.capacity {
		c.evictOldestLocked()
	}

	e := &entry{key: key, namespace: namespace, value: value}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	elem := c.list.PushFront(e)
	c.items[key] = elem

	keys, ok := c.byNamespace[namespace]
	if !ok {
		keys = make(map[string]struct{})
		c.byNamespace[namespace] = keys
	}
	keys[key] = struct{}{}
}

// GetOrCompute returns the cached value for key, or invokes compute exactly
// once across all concurrent callers racing on the same key and caches its
// result. compute's error is not cached: a failed compute leaves the key
// absent so the next caller retries.
func (c *RelevanceCache) GetOrCompute(ctx context.Context, namespace, key string, compute func(ctx context.Context) (types.FusedResult, error)) (types.FusedResult, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under single-flight: another goroutine may have
		// populated the cache between our Get above and acquiring
		// the flight.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		result, err := compute(ctx)
		if err != nil {
			return types.FusedResult{}, err
		}
		c.Put(namespace, key, result)
		return result, nil
	})
	if err != nil {
		return types.FusedResult{}, err
	}
	return v.(types.FusedResult), nil
}

// InvalidateNamespace evicts every entry attributed to namespace.
func (c *RelevanceCache) InvalidateNamespace(namespace string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.byNamespace[namespace]
	if !ok {
		return 0
	}
	count := 0
	for key := range keys {
		if elem, ok := c.items[key]; ok {
			c.removeElementLocked(elem)
			count++
		}
	}
	delete(c.byNamespace, namespace)
	return count
}

// Len returns the number of entries currently cached.
func (c *RelevanceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats reports hit/miss counters for telemetry export.
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns a snapshot of cache hit/miss statistics.
func (c *RelevanceCache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{Size: c.Len(), Hits: hits, Misses: misses, HitRate: hitRate}
}

func (c *RelevanceCache) evictOldestLocked() {
	elem := c.list.Back()
	if elem != nil {
		c.removeElementLocked(elem)
	}
}

// removeElementLocked removes an element from the list, the key index, and
// the namespace index. Caller must hold c.mu.
func (c *RelevanceCache) removeElementLocked(elem *list.Element) {
	c.list.Remove(elem)
	e := elem.Value.(*entry)
	delete(c.items, e.key)
	if keys, ok := c.byNamespace[e.namespace]; ok {
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(c.byNamespace, e.namespace)
		}
	}
}
