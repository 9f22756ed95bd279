package testutil

import "sync"

// ManualClock is a time source for tests that only moves when told to.
//
// The executive measures time in seconds as a float64. A ManualClock starts
// at the time it is created with and never goes backwards: Set to an
// earlier time is ignored.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

// NewManualClock creates a clock reading start.
func NewManualClock(start float64) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current time.
func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d seconds and returns the new time.
// Negative durations are ignored.
func (c *ManualClock) Advance(d float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now += d
	}
	return c.now
}

// Set moves the clock to t if t is later than the current time.
func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.now {
		c.now = t
	}
}
