package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBurstCollapsesToOneCall(t *testing.T) {
	c := NewCoalescer(20 * time.Millisecond)
	defer c.Close()

	var calls int32
	for i := 0; i < 10; i++ {
		c.Debounce("key", func() { atomic.AddInt32(&calls, 1) })
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 5*time.Millisecond)

	// No second firing later.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDistinctKeysFireIndependently(t *testing.T) {
	c := NewCoalescer(10 * time.Millisecond)
	defer c.Close()

	var a, b int32
	c.Debounce("a", func() { atomic.AddInt32(&a, 1) })
	c.Debounce("b", func() { atomic.AddInt32(&b, 1) })

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&a) == 1 && atomic.LoadInt32(&b) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLastCallWins(t *testing.T) {
	c := NewCoalescer(20 * time.Millisecond)
	defer c.Close()

	var got atomic.Value
	c.Debounce("key", func() { got.Store("first") })
	c.Debounce("key", func() { got.Store("second") })

	assert.Eventually(t, func() bool {
		v, ok := got.Load().(string)
		return ok && v == "second"
	}, time.Second, 5*time.Millisecond)
}

func TestCancelDropsPendingCall(t *testing.T) {
	c := NewCoalescer(20 * time.Millisecond)
	defer c.Close()

	var calls int32
	c.Debounce("key", func() { atomic.AddInt32(&calls, 1) })
	c.Cancel("key")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestCancelUnknownKeyIsNoop(t *testing.T) {
	c := NewCoalescer(10 * time.Millisecond)
	defer c.Close()

	c.Cancel("never-scheduled")
}

func TestCancelAll(t *testing.T) {
	c := NewCoalescer(20 * time.Millisecond)
	defer c.Close()

	var calls int32
	c.Debounce("a", func() { atomic.AddInt32(&calls, 1) })
	c.Debounce("b", func() { atomic.AddInt32(&calls, 1) })
	c.CancelAll()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestCloseRejectsNewCalls(t *testing.T) {
	c := NewCoalescer(10 * time.Millisecond)

	var calls int32
	c.Debounce("a", func() { atomic.AddInt32(&calls, 1) })
	c.Close()
	c.Debounce("b", func() { atomic.AddInt32(&calls, 1) })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestRescheduleAfterFire(t *testing.T) {
	c := NewCoalescer(10 * time.Millisecond)
	defer c.Close()

	var calls int32
	c.Debounce("key", func() { atomic.AddInt32(&calls, 1) })

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 5*time.Millisecond)

	c.Debounce("key", func() { atomic.AddInt32(&calls, 1) })

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, 5*time.Millisecond)
}
