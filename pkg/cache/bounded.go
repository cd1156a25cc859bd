package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/editorai/copilot-core/pkg/config"
	"github.com/editorai/copilot-core/pkg/logging"
)

// accessHistoryCap bounds the per-key access timestamps kept for
// preload prediction.
const accessHistoryCap = 10

// minAccessesForPrediction is the number of recorded accesses required
// before a key's next access can be predicted.
const minAccessesForPrediction = 3

// BoundedCache is an in-memory response cache bounded by entry count,
// total bytes, and TTL, with LRU eviction. It additionally tracks
// per-key access history for preload prediction and a symmetric
// relation graph for group invalidation.
//
// All operations are safe for concurrent use. Get mutates recency, so
// reads and writes share one mutex.
type BoundedCache struct {
	mu sync.Mutex

	cfg     config.CacheConfig
	entries map[string]*entry
	lru     *lruList // front = most recently used

	totalBytes int64
	hits       int64
	misses     int64
	evictions  int64

	accessHistory map[string][]time.Time
	relatedKeys   map[string]map[string]struct{}

	now func() time.Time
}

// LRU list implementation.
type lruElement struct {
	key  string
	prev *lruElement
	next *lruElement
}

type lruList struct {
	head *lruElement
	tail *lruElement
	size int
}

func newLRUList() *lruList {
	head := &lruElement{}
	tail := &lruElement{}
	head.next = tail
	tail.prev = head
	return &lruList{head: head, tail: tail}
}

func (l *lruList) moveToFront(elem *lruElement) {
	if elem.prev == l.head {
		return // Already at front
	}
	elem.prev.next = elem.next
	elem.next.prev = elem.prev
	elem.prev = l.head
	elem.next = l.head.next
	l.head.next.prev = elem
	l.head.next = elem
}

func (l *lruList) pushFront(key string) *lruElement {
	elem := &lruElement{key: key}
	elem.prev = l.head
	elem.next = l.head.next
	l.head.next.prev = elem
	l.head.next = elem
	l.size++
	return elem
}

func (l *lruList) removeElement(elem *lruElement) {
	elem.prev.next = elem.next
	elem.next.prev = elem.prev
	l.size--
}

func (l *lruList) back() *lruElement {
	if l.tail.prev == l.head {
		return nil
	}
	return l.tail.prev
}

// NewBoundedCache creates a cache with the given limits.
func NewBoundedCache(cfg config.CacheConfig) *BoundedCache {
	return &BoundedCache{
		cfg:           cfg,
		entries:       make(map[string]*entry),
		lru:           newLRUList(),
		accessHistory: make(map[string][]time.Time),
		relatedKeys:   make(map[string]map[string]struct{}),
		now:           time.Now,
	}
}

// Get retrieves a cached value. Expired entries are evicted lazily here
// rather than by a background sweep. A hit refreshes recency and records
// the access timestamp for preload prediction.
func (c *BoundedCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false
	}

	now := c.now()
	if e.expired(now) {
		c.removeEntryLocked(key, e)
		c.misses++
		return nil, false
	}

	c.lru.moveToFront(e.element)
	e.accessCount++
	e.lastAccess = now
	c.recordAccessLocked(key, now)

	c.hits++
	return e.value, true
}

// Put stores a value under key. It reports false when the value alone
// exceeds the byte budget or eviction cannot create enough room; caching
// is best effort and a rejected put is not an error.
func (c *BoundedCache) Put(key string, value interface{}) bool {
	return c.PutTTL(key, value, c.cfg.DefaultTTL)
}

// PutTTL stores a value with an explicit TTL.
func (c *BoundedCache) PutTTL(key string, value interface{}, ttl time.Duration) bool {
	size := EstimateSize(value)
	if size > c.cfg.MaxBytes {
		logging.GetLogger().Warn(context.Background(),
			"cache entry too large: %d bytes (budget %d)", size, c.cfg.MaxBytes)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	// Replacing a key removes the old entry first so byte accounting
	// stays exact.
	if old, exists := c.entries[key]; exists {
		c.removeEntryLocked(key, old)
	}

	for c.lru.size >= c.cfg.MaxEntries || c.totalBytes+size > c.cfg.MaxBytes {
		if !c.evictLRULocked() {
			return false
		}
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	elem := c.lru.pushFront(key)
	c.entries[key] = &entry{
		value:      value,
		createdAt:  now,
		expiresAt:  expiresAt,
		lastAccess: now,
		sizeBytes:  size,
		element:    elem,
	}
	c.totalBytes += size

	return true
}

// AddRelatedKey establishes a symmetric relation between two keys so
// that invalidating either one also invalidates the other.
func (c *BoundedCache) AddRelatedKey(a, b string) {
	if a == b {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.linkLocked(a, b)
	c.linkLocked(b, a)
}

func (c *BoundedCache) linkLocked(from, to string) {
	set, ok := c.relatedKeys[from]
	if !ok {
		set = make(map[string]struct{})
		c.relatedKeys[from] = set
	}
	set[to] = struct{}{}
}

// InvalidateRelated removes key and, one hop out, every key related to
// it. Reverse links are removed as well. Returns the keys that were
// actually dropped from the cache.
func (c *BoundedCache) InvalidateRelated(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	targets := []string{key}
	for related := range c.relatedKeys[key] {
		targets = append(targets, related)
	}

	var removed []string
	for _, k := range targets {
		if e, exists := c.entries[k]; exists {
			c.removeEntryLocked(k, e)
			removed = append(removed, k)
		}
		c.dropRelationsLocked(k)
		delete(c.accessHistory, k)
	}

	return removed
}

func (c *BoundedCache) dropRelationsLocked(key string) {
	for related := range c.relatedKeys[key] {
		if set, ok := c.relatedKeys[related]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(c.relatedKeys, related)
			}
		}
	}
	delete(c.relatedKeys, key)
}

// PreloadCandidates predicts which uncached keys are about to be
// requested, based on their recorded access cadence. A key qualifies
// once it has at least three recorded accesses and its predicted next
// access falls within 20% of one mean interval from now. Results are
// ordered soonest first. This is a best-effort hint; callers decide
// whether to act on it.
func (c *BoundedCache) PreloadCandidates(limit int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	type candidate struct {
		key       string
		predicted time.Time
	}
	var candidates []candidate

	for key, accesses := range c.accessHistory {
		if len(accesses) < minAccessesForPrediction {
			continue
		}
		if _, cached := c.entries[key]; cached {
			continue
		}

		var total time.Duration
		for i := 1; i < len(accesses); i++ {
			total += accesses[i].Sub(accesses[i-1])
		}
		mean := total / time.Duration(len(accesses)-1)
		if mean <= 0 {
			continue
		}

		predicted := accesses[len(accesses)-1].Add(mean)
		window := time.Duration(float64(mean) * 0.2)
		diff := predicted.Sub(now)
		if diff < 0 {
			diff = -diff
		}
		if diff <= window {
			candidates = append(candidates, candidate{key: key, predicted: predicted})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].predicted.Before(candidates[j].predicted)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	keys := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		keys = append(keys, cand.key)
	}
	return keys
}

// Optimize purges entries untouched for longer than the staleness
// threshold, regardless of TTL, and prunes their access history and
// relations. Bounds dead weight during long idle periods. Returns the
// number of entries removed.
func (c *BoundedCache) Optimize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.cfg.StaleAfter)

	var stale []string
	for key, e := range c.entries {
		if e.lastAccess.Before(cutoff) {
			stale = append(stale, key)
		}
	}

	for _, key := range stale {
		c.removeEntryLocked(key, c.entries[key])
		c.dropRelationsLocked(key)
		delete(c.accessHistory, key)
	}

	// History for keys long since evicted is dead weight too.
	for key, accesses := range c.accessHistory {
		if accesses[len(accesses)-1].Before(cutoff) {
			delete(c.accessHistory, key)
		}
	}

	return len(stale)
}

// GetStats returns a snapshot of cache statistics.
func (c *BoundedCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Size:       len(c.entries),
		MaxEntries: c.cfg.MaxEntries,
		Bytes:      c.totalBytes,
		MaxBytes:   c.cfg.MaxBytes,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		HitRate:    hitRate,
	}
}

// Clear drops every entry, relation, and access record.
func (c *BoundedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.lru = newLRUList()
	c.totalBytes = 0
	c.accessHistory = make(map[string][]time.Time)
	c.relatedKeys = make(map[string]map[string]struct{})
}

func (c *BoundedCache) recordAccessLocked(key string, at time.Time) {
	history := append(c.accessHistory[key], at)
	if len(history) > accessHistoryCap {
		history = history[len(history)-accessHistoryCap:]
	}
	c.accessHistory[key] = history
}

func (c *BoundedCache) removeEntryLocked(key string, e *entry) {
	delete(c.entries, key)
	c.lru.removeElement(e.element)
	c.totalBytes -= e.sizeBytes
}

func (c *BoundedCache) evictLRULocked() bool {
	elem := c.lru.back()
	if elem == nil {
		return false
	}

	if e, exists := c.entries[elem.key]; exists {
		c.removeEntryLocked(elem.key, e)
	} else {
		c.lru.removeElement(elem)
	}
	c.evictions++
	return true
}
