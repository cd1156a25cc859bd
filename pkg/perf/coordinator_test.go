package perf

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editorai/copilot-core/pkg/cache"
	"github.com/editorai/copilot-core/pkg/config"
	"github.com/editorai/copilot-core/pkg/debounce"
	"github.com/editorai/copilot-core/pkg/recovery"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCoordinator(t *testing.T) (*Coordinator, *recovery.Manager, *fakeClock) {
	t.Helper()

	cacheCfg := config.CacheConfig{
		MaxEntries: 10,
		MaxBytes:   4096,
		DefaultTTL: time.Hour,
		StaleAfter: time.Hour,
	}
	manager := recovery.NewManager(config.RecoveryConfig{
		MaxErrorsPerHour: 2,
		BreakerTimeout:   time.Minute,
	})

	co := NewCoordinator(
		config.PerformanceConfig{OptimizeInterval: 5 * time.Minute, ContextHashLen: 8},
		cache.NewBoundedCache(cacheCfg),
		debounce.NewCoalescer(5*time.Millisecond),
		manager,
	)
	clock := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	co.now = clock.Now
	return co, manager, clock
}

func degradeFeatures(m *recovery.Manager) {
	for i := 0; i < 3; i++ {
		m.RecordError(stderrors.New("boom"), recovery.CategoryAPI, recovery.SeverityLow, nil)
	}
}

func TestDeriveCacheKeyMatchesGenerator(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	want := cache.NewKeyGenerator(8).DeriveKey("code", "Explain", "ctx", true)
	assert.Equal(t, want, co.DeriveCacheKey("code", "Explain", "ctx", true))
}

func TestCacheAndRetrieve(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	require.True(t, co.CacheResponse("k", "response"))
	got, ok := co.GetCached("k")
	require.True(t, ok)
	assert.Equal(t, "response", got)
}

func TestCacheWithRelationsInvalidatesGroup(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	require.True(t, co.CacheResponse("other", "x"))
	require.True(t, co.CacheWithRelations("a", "1", []string{"b"}))
	require.True(t, co.CacheWithRelations("b", "2", nil))

	removed := co.InvalidateRelated("a")
	assert.ElementsMatch(t, []string{"a", "b"}, removed)

	_, ok := co.GetCached("other")
	assert.True(t, ok)
}

func TestDegradedCachingSkipsWrites(t *testing.T) {
	co, manager, _ := newTestCoordinator(t)
	degradeFeatures(manager)

	assert.False(t, co.CacheResponse("k", "response"))
	_, ok := co.GetCached("k")
	assert.False(t, ok)
}

func TestAutoOptimizeGatedByInterval(t *testing.T) {
	co, _, clock := newTestCoordinator(t)

	assert.GreaterOrEqual(t, co.AutoOptimize(), 0, "first pass always runs")
	assert.Equal(t, -1, co.AutoOptimize(), "second pass inside the interval is skipped")

	clock.Advance(6 * time.Minute)
	assert.GreaterOrEqual(t, co.AutoOptimize(), 0)
}

func TestAutoOptimizePurgesStale(t *testing.T) {
	cacheCfg := config.CacheConfig{
		MaxEntries: 10,
		MaxBytes:   4096,
		DefaultTTL: 0,
		StaleAfter: time.Nanosecond,
	}
	c := cache.NewBoundedCache(cacheCfg)
	co := NewCoordinator(
		config.PerformanceConfig{OptimizeInterval: time.Minute, ContextHashLen: 8},
		c, debounce.NewCoalescer(time.Millisecond), nil,
	)

	require.True(t, co.CacheResponse("k", "v"))
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, co.AutoOptimize())
}

func TestMemoryRegistry(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	co.RegisterMemory("conversations", 1000)
	co.RegisterMemory("editor_buffers", 500)
	require.True(t, co.CacheResponse("k", "12345")) // 5 cache bytes

	assert.Equal(t, int64(1505), co.TrackedMemory())

	co.RegisterMemory("conversations", 200)
	assert.Equal(t, int64(705), co.TrackedMemory())

	co.UnregisterMemory("editor_buffers")
	assert.Equal(t, int64(205), co.TrackedMemory())
}

func TestEfficiencyRatings(t *testing.T) {
	tests := []struct {
		name   string
		hits   int
		misses int
		want   string
	}{
		{"excellent", 8, 2, "excellent"},
		{"good", 6, 4, "good"},
		{"fair", 3, 7, "fair"},
		{"poor", 1, 9, "poor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co, _, _ := newTestCoordinator(t)
			require.True(t, co.CacheResponse("hit", "v"))

			for i := 0; i < tt.hits; i++ {
				co.GetCached("hit")
			}
			for i := 0; i < tt.misses; i++ {
				co.GetCached("miss")
			}

			assert.Equal(t, tt.want, co.Efficiency().Rating)
		})
	}
}

func TestEfficiencyRecommendsOnLowHitRate(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	co.GetCached("miss")

	report := co.Efficiency()
	assert.Equal(t, "poor", report.Rating)
	assert.NotEmpty(t, report.Recommendations)
}

func TestEfficiencyFlagsDegradedCaching(t *testing.T) {
	co, manager, _ := newTestCoordinator(t)
	degradeFeatures(manager)

	report := co.Efficiency()
	found := false
	for _, rec := range report.Recommendations {
		if rec == "advanced caching is degraded by the error budget; new responses are not being cached" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGetStats(t *testing.T) {
	co, _, clock := newTestCoordinator(t)

	require.True(t, co.CacheResponse("k", "v"))
	co.AutoOptimize()

	stats := co.GetStats()
	assert.Equal(t, 1, stats.Cache.Size)
	assert.Equal(t, clock.Now(), stats.LastOptimize)
}

func TestShutdownClearsState(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	require.True(t, co.CacheResponse("k", "v"))
	co.RegisterMemory("x", 100)
	co.Shutdown()

	_, ok := co.GetCached("k")
	assert.False(t, ok)
	assert.Equal(t, int64(0), co.TrackedMemory())

	// Coalescer rejects work after shutdown.
	fired := make(chan struct{}, 1)
	co.Debounce("k", func() { fired <- struct{}{} })
	select {
	case <-fired:
		t.Fatal("debounced call ran after shutdown")
	case <-time.After(30 * time.Millisecond):
	}
}
