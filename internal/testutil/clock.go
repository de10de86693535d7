// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a Clock returns.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a deterministic time source for tests. Each call to Now advances
// by a fixed step, so records stamped in sequence get strictly increasing,
// reproducible timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	n    int64
}

// NewClock creates a clock starting at Epoch that advances one second per
// call.
func NewClock() *Clock {
	return NewClockAt(Epoch, time.Second)
}

// NewClockAt creates a clock starting at base that advances by step.
func NewClockAt(base time.Time, step time.Duration) *Clock {
	return &Clock{base: base.UTC(), step: step}
}

// Now returns the current instant and advances the clock. The first call
// returns the base time. Its signature matches time.Now so it can be passed
// wherever a time source is injected.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Calls returns how many times Now has been called.
func (c *Clock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// At returns the instant the i-th call to Now returned (or will return),
// counting from 0.
func (c *Clock) At(i int) time.Time {
	return c.base.Add(time.Duration(i) * c.step)
}

// Reset rewinds the clock to its base time.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
