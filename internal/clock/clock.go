// Package clock provides an injectable time source used throughout the
// client and server so that update-loop timing (route-update cadence,
// ping intervals, session timeouts, can't-beat-direct sampling) can be
// driven deterministically in tests instead of sleeping in real time.
package clock

import (
	"sync"
	"time"
)

// Clock is a thread-safe, overridable source of the current time.
type Clock struct {
	mu      sync.Mutex
	nowFn   func() time.Time
	advance func(time.Duration)
}

// New returns a Clock backed by the system clock.
func New() *Clock {
	return &Clock{nowFn: time.Now}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFn()
}

// Seconds returns the current time as float64 seconds since the Unix
// epoch, the unit pingstats.History and pingstats.Compute use.
func (c *Clock) Seconds() float64 {
	return float64(c.Now().UnixNano()) / 1e9
}

// SetNowFunc overrides the time source, e.g. with a test fixture that
// advances a fake clock on demand. Passing nil restores the system clock.
func (c *Clock) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		fn = time.Now
	}
	c.nowFn = fn
	c.advance = nil
}

// Fixed returns a Clock pinned to t, advanced only by explicit calls to
// Advance — the deterministic clock used by update-loop timing tests.
func Fixed(t time.Time) *Clock {
	c := &Clock{}
	cur := t
	c.nowFn = func() time.Time { return cur }
	c.advance = func(d time.Duration) { cur = cur.Add(d) }
	return c
}

// Advance moves a Fixed clock forward by d. It is a no-op on a
// system-backed clock (there is nothing deterministic to advance).
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.advance != nil {
		c.advance(d)
	}
}
