package concurrency

import "sync/atomic"

// AtomicCounter is a thread-safe int64 counter used by the stats aggregate
// to accumulate incremental deltas between full recomputes.
type AtomicCounter struct {
	value int64
}

// Inc increments the counter by 1 and returns the new value.
func (c *AtomicCounter) Inc() int64 { return atomic.AddInt64(&c.value, 1) }

// Add increments the counter by n and returns the new value.
func (c *AtomicCounter) Add(n int64) int64 { return atomic.AddInt64(&c.value, n) }

// Get returns the current value.
func (c *AtomicCounter) Get() int64 { return atomic.LoadInt64(&c.value) }

// Reset sets the counter to 0 and returns the prior value.
func (c *AtomicCounter) Reset() int64 { return atomic.SwapInt64(&c.value, 0) }
