package recovery

import (
	"context"
	"time"

	"github.com/editorai/copilot-core/pkg/config"
	"github.com/editorai/copilot-core/pkg/errors"
	"github.com/editorai/copilot-core/pkg/logging"
)

// Operation is any fallible call the retry policy can wrap.
type Operation func(ctx context.Context) (interface{}, error)

// RetryPolicy wraps operations with retry, linear backoff, and
// circuit breaker integration. One policy instance is shared across
// operations; per-call behavior comes from ExecuteOption values.
type RetryPolicy struct {
	cfg     config.RetryConfig
	manager *Manager

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a retry policy backed by the given recovery
// manager.
func NewRetryPolicy(cfg config.RetryConfig, manager *Manager) *RetryPolicy {
	return &RetryPolicy{
		cfg:     cfg,
		manager: manager,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type executeOptions struct {
	category    Category
	severity    Severity
	breaker     string
	fallback    interface{}
	hasFallback bool
}

// ExecuteOption adjusts a single Execute call.
type ExecuteOption func(*executeOptions)

// WithCategory sets the category and severity recorded for failures.
func WithCategory(category Category, severity Severity) ExecuteOption {
	return func(o *executeOptions) {
		o.category = category
		o.severity = severity
	}
}

// WithCircuitBreaker names the breaker checked before the first attempt
// and tripped when retries are exhausted.
func WithCircuitBreaker(name string) ExecuteOption {
	return func(o *executeOptions) {
		o.breaker = name
	}
}

// WithFallback supplies a value returned instead of an error when the
// breaker is open or retries are exhausted.
func WithFallback(value interface{}) ExecuteOption {
	return func(o *executeOptions) {
		o.fallback = value
		o.hasFallback = true
	}
}

// Execute runs op with up to Count retries after the first attempt,
// backing off Delay*attempt between attempts. An open breaker
// short-circuits to the fallback without invoking op or counting an
// attempt. Every failed attempt is recorded through the recovery
// manager; exhausting retries trips the breaker. The first success
// after a prior failure resets it.
func (p *RetryPolicy) Execute(ctx context.Context, operation string, op Operation, opts ...ExecuteOption) (interface{}, error) {
	options := executeOptions{
		category: CategoryUnknown,
		severity: SeverityMedium,
	}
	for _, opt := range opts {
		opt(&options)
	}

	logger := logging.GetLogger()

	if options.breaker != "" && !p.manager.CheckCircuitBreaker(options.breaker) {
		logger.Warn(ctx, "circuit breaker open for %s, short-circuiting", options.breaker)
		if options.hasFallback {
			return options.fallback, nil
		}
		return nil, errors.WithFields(
			errors.New(errors.CircuitOpen, "operation blocked by open circuit breaker"),
			errors.Fields{"operation": operation})
	}

	maxAttempts := p.cfg.Count + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := errors.CheckContext(ctx, operation); err != nil {
			return nil, err
		}

		result, err := op(ctx)
		if err == nil {
			if options.breaker != "" && attempt > 1 {
				p.manager.ResetCircuitBreaker(options.breaker)
			}
			return result, nil
		}

		lastErr = err
		p.manager.RecordError(err, options.category, options.severity, map[string]interface{}{
			"operation":    operation,
			"attempt":      attempt,
			"max_attempts": maxAttempts,
		})

		if attempt == maxAttempts {
			break
		}

		if p.cfg.Delay > 0 {
			if err := p.sleep(ctx, p.cfg.Delay*time.Duration(attempt)); err != nil {
				return nil, errors.Wrap(err, errors.Canceled, "retry wait canceled")
			}
		}
	}

	if options.breaker != "" {
		p.manager.TripCircuitBreaker(options.breaker, 0)
	}

	logger.Error(ctx, "operation %s failed after %d attempts: %v", operation, maxAttempts, lastErr)

	if options.hasFallback {
		return options.fallback, nil
	}

	return nil, errors.WithFields(
		errors.Wrap(lastErr, errors.RetriesExhausted, "operation failed after retries"),
		errors.Fields{"operation": operation, "attempts": maxAttempts})
}
