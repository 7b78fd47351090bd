package lamport

import "sync/atomic"

// Time is a scalar Lamport timestamp.
type Time uint64

// Clock is a Lamport logical clock. It is safe for concurrent use, although a
// peer normally owns its clock exclusively.
type Clock struct {
	time atomic.Uint64
}

// NewClock creates a clock starting at the given time.
func NewClock(start Time) *Clock {
	c := &Clock{}
	c.time.Store(uint64(start))
	return c
}

// Time returns the current value without advancing it.
func (c *Clock) Time() Time {
	return Time(c.time.Load())
}

// Tick advances the clock for a local event and returns the new value.
func (c *Clock) Tick() Time {
	return Time(c.time.Add(1))
}

// Observe applies the receive rule, max(local, t) + 1, and returns the new value.
func (c *Clock) Observe(t Time) Time {
	for {
		current := c.time.Load()
		next := max(current, uint64(t)) + 1
		if c.time.CompareAndSwap(current, next) {
			return Time(next)
		}
	}
}
