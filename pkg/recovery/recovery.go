// Package recovery implements the error budget, circuit breaker, and
// graceful degradation layer wrapped around outbound completion calls.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/editorai/copilot-core/pkg/config"
	"github.com/editorai/copilot-core/pkg/logging"
)

// Category classifies an error for recovery decisions.
type Category string

const (
	CategoryNetwork  Category = "network"
	CategoryAPI      Category = "api"
	CategoryUI       Category = "ui"
	CategoryMemory   Category = "memory"
	CategoryConfig   Category = "config"
	CategorySecurity Category = "security"
	CategoryUnknown  Category = "unknown"
)

// Severity ranks how serious a recorded error is. Assigned by the
// caller at the record site, never inferred here.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorInfo describes one recorded error occurrence.
type ErrorInfo struct {
	ID            string
	Timestamp     time.Time
	Category      Category
	Severity      Severity
	Message       string
	ExceptionType string
	Context       map[string]interface{}
}

// BreakerState is the lifecycle state of a per-operation circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

type breaker struct {
	state     BreakerState
	trippedAt time.Time
	timeout   time.Duration
}

// Features disabled process-wide once the rolling-hour error budget is
// exceeded. Callers check IsFeatureDegraded before using them.
var degradableFeatures = []string{
	"streaming",
	"auto_context_analysis",
	"advanced_caching",
}

// errorWindow is how long recorded errors count against the budget.
const errorWindow = time.Hour

// Manager tracks categorized errors in a rolling one-hour window,
// enforces the error budget, and owns the per-operation circuit
// breakers and the degraded-feature set.
type Manager struct {
	mu sync.Mutex

	maxErrorsPerHour int
	defaultTimeout   time.Duration
	history          []ErrorInfo
	breakers         map[string]*breaker
	degraded         map[string]struct{}

	now func() time.Time
}

// NewManager creates an error recovery manager.
func NewManager(cfg config.RecoveryConfig) *Manager {
	return &Manager{
		maxErrorsPerHour: cfg.MaxErrorsPerHour,
		defaultTimeout:   cfg.BreakerTimeout,
		breakers:         make(map[string]*breaker),
		degraded:         make(map[string]struct{}),
		now:              time.Now,
	}
}

// RecordError appends an error to the rolling window, purges entries
// older than one hour, and triggers graceful degradation when the
// budget is exceeded.
func (m *Manager) RecordError(err error, category Category, severity Severity, errCtx map[string]interface{}) ErrorInfo {
	m.mu.Lock()

	now := m.now()
	info := ErrorInfo{
		ID:            uuid.NewString(),
		Timestamp:     now,
		Category:      category,
		Severity:      severity,
		Message:       err.Error(),
		ExceptionType: fmt.Sprintf("%T", err),
		Context:       errCtx,
	}

	m.history = append(m.history, info)
	m.pruneLocked(now)

	overBudget := len(m.history) > m.maxErrorsPerHour
	if overBudget {
		for _, feature := range degradableFeatures {
			m.degraded[feature] = struct{}{}
		}
	}
	recent := len(m.history)
	m.mu.Unlock()

	logger := logging.GetLogger()
	ctx := context.Background()
	switch severity {
	case SeverityLow:
		logger.Debug(ctx, "error recorded: %s [category=%s]", info.Message, category)
	case SeverityMedium:
		logger.Warn(ctx, "error recorded: %s [category=%s]", info.Message, category)
	default:
		logger.Error(ctx, "error recorded: %s [category=%s severity=%s]", info.Message, category, severity)
	}
	if overBudget {
		logger.Warn(ctx, "error budget exceeded: %d errors in the last hour, degrading features", recent)
	}

	return info
}

func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-errorWindow)
	kept := m.history[:0]
	for _, info := range m.history {
		if info.Timestamp.After(cutoff) {
			kept = append(kept, info)
		}
	}
	m.history = kept
}

// IsFeatureDegraded reports whether a named feature is currently
// disabled by graceful degradation.
func (m *Manager) IsFeatureDegraded(feature string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, degraded := m.degraded[feature]
	return degraded
}

// RestoreFeature re-enables a degraded feature.
func (m *Manager) RestoreFeature(feature string) {
	m.mu.Lock()
	delete(m.degraded, feature)
	m.mu.Unlock()
	logging.GetLogger().Info(context.Background(), "feature restored: %s", feature)
}

// CheckCircuitBreaker reports whether an operation is allowed. An open
// breaker past its cooldown flips to half-open and allows one tentative
// attempt.
func (m *Manager) CheckCircuitBreaker(operation string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.breakers[operation]
	if !exists || b.state == BreakerClosed || b.state == BreakerHalfOpen {
		return true
	}

	if m.now().Sub(b.trippedAt) > b.timeout {
		b.state = BreakerHalfOpen
		return true
	}

	return false
}

// TripCircuitBreaker forces an operation's breaker open with a fresh
// cooldown. A zero timeout uses the configured default.
func (m *Manager) TripCircuitBreaker(operation string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	m.mu.Lock()
	m.breakers[operation] = &breaker{
		state:     BreakerOpen,
		trippedAt: m.now(),
		timeout:   timeout,
	}
	m.mu.Unlock()

	logging.GetLogger().Warn(context.Background(), "circuit breaker tripped: %s (timeout=%s)", operation, timeout)
}

// ResetCircuitBreaker forces an operation's breaker closed after a
// successful call.
func (m *Manager) ResetCircuitBreaker(operation string) {
	m.mu.Lock()
	if b, exists := m.breakers[operation]; exists {
		b.state = BreakerClosed
	}
	m.mu.Unlock()
}

// GetBreakerState returns the current state of an operation's breaker.
// Unknown operations report closed.
func (m *Manager) GetBreakerState(operation string) BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, exists := m.breakers[operation]; exists {
		return b.state
	}
	return BreakerClosed
}

// ErrorStats is a snapshot of the recovery manager's state.
type ErrorStats struct {
	TotalErrors       int                     `json:"total_errors"`
	CategoryBreakdown map[Category]int        `json:"category_breakdown"`
	SeverityBreakdown map[Severity]int        `json:"severity_breakdown"`
	DegradedFeatures  []string                `json:"degraded_features"`
	CircuitBreakers   map[string]BreakerState `json:"circuit_breakers"`
}

// GetErrorStats summarizes the rolling window, degraded features, and
// breaker states.
func (m *Manager) GetErrorStats() ErrorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(m.now())

	stats := ErrorStats{
		TotalErrors:       len(m.history),
		CategoryBreakdown: make(map[Category]int),
		SeverityBreakdown: make(map[Severity]int),
		CircuitBreakers:   make(map[string]BreakerState),
	}

	for _, info := range m.history {
		stats.CategoryBreakdown[info.Category]++
		stats.SeverityBreakdown[info.Severity]++
	}
	for feature := range m.degraded {
		stats.DegradedFeatures = append(stats.DegradedFeatures, feature)
	}
	for op, b := range m.breakers {
		stats.CircuitBreakers[op] = b.state
	}

	return stats
}
