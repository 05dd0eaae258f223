package tracking

import "sync/atomic"

// Clock is a monotonically increasing version counter.
// The zero value is ready to use and reports version 0.
type Clock struct {
	v atomic.Uint64
}

// Current returns the latest version handed out.
func (c *Clock) Current() uint64 {
	return c.v.Load()
}

// Tick claims and returns the next version.
func (c *Clock) Tick() uint64 {
	return c.v.Add(1)
}
