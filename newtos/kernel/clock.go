package kernel

import "fmt"

// Time is the kernel's logical monotonic clock in microseconds. Comparisons
// go through Before/After so a counter that wraps still orders correctly
// across the wrap.
type Time uint64

const (
	Microsecond Time = 1
	Millisecond      = 1000 * Microsecond
	Second           = 1000 * Millisecond
)

// Before reports whether t is earlier than u.
func (t Time) Before(u Time) bool { return int64(t-u) < 0 }

// After reports whether t is later than u.
func (t Time) After(u Time) bool { return int64(t-u) > 0 }

func (t Time) String() string {
	switch {
	case t%Second == 0:
		return fmt.Sprintf("%ds", uint64(t/Second))
	case t%Millisecond == 0:
		return fmt.Sprintf("%dms", uint64(t/Millisecond))
	default:
		return fmt.Sprintf("%dus", uint64(t))
	}
}

// Clock models the hardware timer: one compare alarm wired to the FIQ timer
// source and a periodic tick wired to the scheduler IRQ.
type Clock struct {
	ints *InterruptController

	now Time

	alarm    Time
	alarmSet bool

	period    Time
	nextTick  Time
	tickArmed bool
}

func newClock(ints *InterruptController, period Time) *Clock {
	return &Clock{ints: ints, period: period}
}

// Now returns the current logical time.
func (c *Clock) Now() Time { return c.now }

// SetAlarm arms the compare alarm for t. It reports false without arming
// when t is not in the future.
func (c *Clock) SetAlarm(t Time) bool {
	if !t.After(c.now) {
		return false
	}
	c.alarm = t
	c.alarmSet = true
	return true
}

// ClearAlarm disarms the compare alarm.
func (c *Clock) ClearAlarm() { c.alarmSet = false }

// Alarm returns the armed alarm time.
func (c *Clock) Alarm() (Time, bool) { return c.alarm, c.alarmSet }

// StartTick arms the periodic scheduler tick one period from now if it is
// not already running.
func (c *Clock) StartTick() {
	if c.tickArmed || c.period == 0 {
		return
	}
	c.tickArmed = true
	c.nextTick = c.now + c.period
}

// StopTick disarms the periodic scheduler tick.
func (c *Clock) StopTick() { c.tickArmed = false }

// TickArmed reports whether the periodic tick is running.
func (c *Clock) TickArmed() bool { return c.tickArmed }

// Advance moves time forward by d, raising the alarm and tick sources at
// the instants they fall due, in time order.
func (c *Clock) Advance(d Time) {
	target := c.now + d
	for {
		var next Time
		var alarm, tick bool
		if c.alarmSet && !c.alarm.After(target) {
			next, alarm = c.alarm, true
		}
		if c.tickArmed && !c.nextTick.After(target) {
			switch {
			case !alarm:
				next, tick = c.nextTick, true
			case c.nextTick.Before(next):
				next, alarm, tick = c.nextTick, false, true
			case c.nextTick == next:
				tick = true
			}
		}
		if !alarm && !tick {
			break
		}
		if next.After(c.now) {
			c.now = next
		}
		if alarm {
			c.alarmSet = false
			c.ints.Raise(IntTimerAlarm)
		}
		if tick {
			c.nextTick += c.period
			c.ints.Raise(IntSchedulerTick)
		}
	}
	if target.After(c.now) {
		c.now = target
	}
}
