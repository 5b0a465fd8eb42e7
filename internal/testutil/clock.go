package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a millisecond clock for tests. Each call to Now
// advances it by one millisecond, so successive row timestamps are strictly
// increasing and identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	ms    int64
}

// NewDeterministicClock creates a clock whose first Now is startMS+1
// milliseconds after the epoch.
func NewDeterministicClock(startMS int64) *DeterministicClock {
	return &DeterministicClock{start: startMS, ms: startMS}
}

// Now advances the clock and returns the new time. Its signature matches
// time.Now so it can be passed to cortex.WithClock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms++
	return time.UnixMilli(c.ms)
}

// Current returns the last issued millisecond without advancing.
func (c *DeterministicClock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.ms)
}

// Advance moves the clock forward by d without issuing a time.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms += d.Milliseconds()
}

// Reset rewinds the clock to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms = c.start
}
