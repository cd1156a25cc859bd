// Package debounce collapses bursts of identical logical requests into a
// single trailing-edge execution per key.
package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/editorai/copilot-core/pkg/logging"
)

// Coalescer defers a function per key and cancels the pending run when
// the same key arrives again before the delay elapses. Classic
// trailing-edge debounce, not throttling: only the last call in a burst
// executes. Functions run on timer goroutines; results must be
// delivered through a callback supplied inside fn.
type Coalescer struct {
	mu     sync.Mutex
	delay  time.Duration
	timers map[string]*time.Timer
	closed bool
}

// NewCoalescer creates a coalescer with the given trailing delay.
func NewCoalescer(delay time.Duration) *Coalescer {
	return &Coalescer{
		delay:  delay,
		timers: make(map[string]*time.Timer),
	}
}

// Debounce schedules fn to run after the delay. A pending invocation for
// the same key is canceled and replaced; cancel-old and install-new
// happen under one critical section so the old and new callbacks can
// never both fire.
func (c *Coalescer) Debounce(key string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if timer, exists := c.timers[key]; exists {
		timer.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		// A replacement may have raced with this timer firing; only the
		// currently installed timer is allowed to run.
		if c.timers[key] != t {
			c.mu.Unlock()
			return
		}
		delete(c.timers, key)
		c.mu.Unlock()
		fn()
	})
	c.timers[key] = t

	logging.GetLogger().Debug(context.Background(), "debounced call: %s (delay=%s)", key, c.delay)
}

// Cancel drops a pending invocation for key, if any.
func (c *Coalescer) Cancel(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timer, exists := c.timers[key]; exists {
		timer.Stop()
		delete(c.timers, key)
	}
}

// CancelAll drops every pending invocation. Used at teardown.
func (c *Coalescer) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, timer := range c.timers {
		timer.Stop()
	}
	c.timers = make(map[string]*time.Timer)
}

// Close cancels all pending invocations and rejects new ones.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, timer := range c.timers {
		timer.Stop()
	}
	c.timers = make(map[string]*time.Timer)
	c.closed = true
}
