//go:build !tinygo

package hal

import "time"

// tickQueue bounds the ticks waiting for the app. Ticks past it are counted
// in Dropped instead of queued.
const tickQueue = 1024

// hostClock turns elapsed host time into one tick per kernel millisecond.
// Speed multiplies the elapsed time first, so a speed of 10 runs kernel
// timers ten times faster than the wall clock.
type hostClock struct {
	ch      chan uint64
	seq     uint64
	speed   int
	last    time.Time
	acc     time.Duration
	dropped uint64
}

func newHostClock(speed int) *hostClock {
	if speed <= 0 {
		speed = 1
	}
	return &hostClock{ch: make(chan uint64, tickQueue), speed: speed}
}

func (c *hostClock) Ticks() <-chan uint64 { return c.ch }

// Dropped reports the ticks lost because the app fell behind.
func (c *hostClock) Dropped() uint64 { return c.dropped }

// sync advances by the wall time since the previous sync. The first call
// only starts the reference point.
func (c *hostClock) sync(now time.Time) {
	if c.last.IsZero() {
		c.last = now
		return
	}
	d := now.Sub(c.last)
	c.last = now
	if d > 0 {
		c.advance(d)
	}
}

// advance adds d of host time, scaled, and emits the whole milliseconds.
func (c *hostClock) advance(d time.Duration) {
	c.acc += d * time.Duration(c.speed)
	n := uint64(c.acc / time.Millisecond)
	c.acc %= time.Millisecond
	for ; n > 0; n-- {
		c.seq++
		select {
		case c.ch <- c.seq:
		default:
			c.dropped++
		}
	}
}
