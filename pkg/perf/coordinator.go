// Package perf coordinates the caching, coalescing, and recovery layers
// behind one facade so agents tune performance through a single object.
package perf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/editorai/copilot-core/pkg/cache"
	"github.com/editorai/copilot-core/pkg/config"
	"github.com/editorai/copilot-core/pkg/debounce"
	"github.com/editorai/copilot-core/pkg/logging"
	"github.com/editorai/copilot-core/pkg/recovery"
)

// defaultOptimizeInterval gates auto-optimization when the config leaves
// the interval unset.
const defaultOptimizeInterval = 5 * time.Minute

// Coordinator owns the response cache, the request coalescer, and an
// explicit registry of tracked memory consumers. It decides when
// optimization passes run and reports cache efficiency.
type Coordinator struct {
	mu sync.Mutex

	cfg       config.PerformanceConfig
	cache     *cache.BoundedCache
	keys      *cache.KeyGenerator
	coalescer *debounce.Coalescer
	recovery  *recovery.Manager

	// Named memory consumers registered by components that want their
	// footprint counted alongside the cache's.
	tracked map[string]int64

	lastOptimize time.Time

	now func() time.Time
}

// NewCoordinator wires a coordinator over existing components. recovery
// may be nil when degradation checks are not needed.
func NewCoordinator(cfg config.PerformanceConfig, c *cache.BoundedCache, co *debounce.Coalescer, rec *recovery.Manager) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		cache:     c,
		keys:      cache.NewKeyGenerator(cfg.ContextHashLen),
		coalescer: co,
		recovery:  rec,
		tracked:   make(map[string]int64),
		now:       time.Now,
	}
}

// DeriveCacheKey builds the canonical cache key for a request.
func (p *Coordinator) DeriveCacheKey(agentType, userMessage, contextText string, includeContext bool) string {
	return p.keys.DeriveKey(agentType, userMessage, contextText, includeContext)
}

// GetCached looks up a response by derived key.
func (p *Coordinator) GetCached(key string) (interface{}, bool) {
	return p.cache.Get(key)
}

// CacheResponse stores a response, skipping the cache entirely while
// advanced caching is degraded.
func (p *Coordinator) CacheResponse(key string, value interface{}) bool {
	return p.CacheWithRelations(key, value, nil)
}

// CacheWithRelations stores a response and links it to related keys so a
// later change to any of them invalidates the whole group. Typical use:
// tie every key derived from the same source file together.
func (p *Coordinator) CacheWithRelations(key string, value interface{}, related []string) bool {
	if p.recovery != nil && p.recovery.IsFeatureDegraded("advanced_caching") {
		return false
	}

	if !p.cache.Put(key, value) {
		return false
	}
	for _, r := range related {
		p.cache.AddRelatedKey(key, r)
	}
	return true
}

// InvalidateRelated drops a key and its one-hop relation group, returning
// the keys removed.
func (p *Coordinator) InvalidateRelated(key string) []string {
	return p.cache.InvalidateRelated(key)
}

// Debounce schedules fn behind the coalescer.
func (p *Coordinator) Debounce(key string, fn func()) {
	p.coalescer.Debounce(key, fn)
}

// CancelPending drops a pending debounced request.
func (p *Coordinator) CancelPending(key string) {
	p.coalescer.Cancel(key)
}

// PreloadCandidates surfaces keys predicted to be requested soon.
func (p *Coordinator) PreloadCandidates(limit int) []string {
	return p.cache.PreloadCandidates(limit)
}

// RegisterMemory records (or updates) a named consumer's estimated
// footprint in bytes.
func (p *Coordinator) RegisterMemory(name string, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracked[name] = bytes
}

// UnregisterMemory removes a named consumer from the registry.
func (p *Coordinator) UnregisterMemory(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tracked, name)
}

// TrackedMemory sums the registered consumers plus the cache's live
// bytes.
func (p *Coordinator) TrackedMemory() int64 {
	p.mu.Lock()
	var total int64
	for _, b := range p.tracked {
		total += b
	}
	p.mu.Unlock()

	return total + p.cache.GetStats().Bytes
}

// AutoOptimize runs a cache optimization pass when at least the
// configured interval has elapsed since the last one. Returns the number
// of entries purged, or -1 when the pass was skipped.
func (p *Coordinator) AutoOptimize() int {
	interval := p.cfg.OptimizeInterval
	if interval <= 0 {
		interval = defaultOptimizeInterval
	}

	p.mu.Lock()
	now := p.now()
	if !p.lastOptimize.IsZero() && now.Sub(p.lastOptimize) < interval {
		p.mu.Unlock()
		return -1
	}
	p.lastOptimize = now
	p.mu.Unlock()

	purged := p.cache.Optimize()
	if purged > 0 {
		logging.GetLogger().Info(context.Background(), "optimization pass purged %d stale cache entries", purged)
	}
	return purged
}

// EfficiencyReport summarizes cache effectiveness with a coarse rating
// and concrete tuning suggestions.
type EfficiencyReport struct {
	Rating          string      `json:"rating"`
	CacheStats      cache.Stats `json:"cache_stats"`
	TrackedBytes    int64       `json:"tracked_bytes"`
	Recommendations []string    `json:"recommendations"`
}

// Efficiency rates the cache hit ratio and suggests tuning steps.
func (p *Coordinator) Efficiency() EfficiencyReport {
	stats := p.cache.GetStats()

	report := EfficiencyReport{
		CacheStats:   stats,
		TrackedBytes: p.TrackedMemory(),
	}

	switch {
	case stats.HitRate >= 0.8:
		report.Rating = "excellent"
	case stats.HitRate >= 0.6:
		report.Rating = "good"
	case stats.HitRate >= 0.3:
		report.Rating = "fair"
	default:
		report.Rating = "poor"
	}

	if stats.Hits+stats.Misses > 0 && stats.HitRate < 0.3 {
		report.Recommendations = append(report.Recommendations,
			"hit rate is low; consider raising default_ttl or caching with context disabled")
	}
	if stats.Evictions > int64(stats.MaxEntries) {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("heavy eviction churn (%d); consider raising max_entries or max_bytes", stats.Evictions))
	}
	if stats.MaxBytes > 0 && stats.Bytes > stats.MaxBytes*9/10 {
		report.Recommendations = append(report.Recommendations,
			"cache is near its byte budget; large responses may be rejected")
	}
	if p.recovery != nil && p.recovery.IsFeatureDegraded("advanced_caching") {
		report.Recommendations = append(report.Recommendations,
			"advanced caching is degraded by the error budget; new responses are not being cached")
	}

	return report
}

// Stats bundles the coordinator's observable state for diagnostics.
type Stats struct {
	Cache        cache.Stats `json:"cache"`
	TrackedBytes int64       `json:"tracked_bytes"`
	LastOptimize time.Time   `json:"last_optimize"`
}

// GetStats snapshots coordinator state.
func (p *Coordinator) GetStats() Stats {
	p.mu.Lock()
	last := p.lastOptimize
	p.mu.Unlock()

	return Stats{
		Cache:        p.cache.GetStats(),
		TrackedBytes: p.TrackedMemory(),
		LastOptimize: last,
	}
}

// Shutdown cancels pending coalesced requests and drops cached state.
func (p *Coordinator) Shutdown() {
	p.coalescer.Close()
	p.cache.Clear()

	p.mu.Lock()
	p.tracked = make(map[string]int64)
	p.mu.Unlock()

	logging.GetLogger().Info(context.Background(), "performance coordinator shut down")
}
