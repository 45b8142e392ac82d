// Package monoclock turns a raw backend time source into a strictly
// increasing nanosecond counter. The raw source may be coarse (the rtos tick
// clock), may repeat readings under fast polling, or may step oddly across
// suspend; callers above this package never see any of that.
package monoclock

import (
	"sync"
	"sync/atomic"
)

// Clock applies the substitution rule over a raw source: a reading at or
// below the previous result is replaced by previous+1. Strictness costs
// absolute fidelity under sustained faster-than-resolution polling —
// readings drift ahead of real time there, an accepted trade-off.
type Clock struct {
	mu     sync.Mutex
	last   int64
	source func() int64

	substitutions atomic.Uint64
}

// New builds a clock over source. Readings have no absolute meaning; they
// are only good for durations.
func New(source func() int64) *Clock {
	return &Clock{source: source}
}

// Now returns the next strictly increasing reading.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	t := c.source()
	if t <= c.last {
		c.last++
		c.substitutions.Add(1)
	} else {
		c.last = t
	}
	t = c.last
	c.mu.Unlock()
	return t
}

// Last reports the most recent reading without advancing the clock.
func (c *Clock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Substitutions counts readings the strictness rule had to synthesize —
// a resolution-versus-polling-rate diagnostic.
func (c *Clock) Substitutions() uint64 {
	return c.substitutions.Load()
}
