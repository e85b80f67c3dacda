package rcl

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock access so the round driver's tick-driven
// transitions (spec §4.A) can be exercised deterministically in tests
// with ManualClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that fires once after d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// SystemClock is a Clock backed by the real wall clock and timers.
type SystemClock struct{}

// NewSystemClock returns the production Clock implementation.
func NewSystemClock() SystemClock { return SystemClock{} }

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ManualClock is a Clock whose time only advances when Advance is called.
// It exists so consensus-core tests can deterministically exercise
// timeout- and freshness-dependent behavior without real sleeps.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []manualWaiter
}

type manualWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewManualClock creates a ManualClock starting at the given time.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current simulated time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once Advance moves the clock past
// now+d.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	deadline := c.now.Add(d)
	if !deadline.After(c.now) {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, manualWaiter{deadline: deadline, ch: ch})
	return ch
}

// Advance moves the clock forward by d, firing any timers whose deadline
// has now passed.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)

	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}
