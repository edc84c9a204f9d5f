package kernel

import (
	"sort"

	"newtcore/newtos/proto"
)

type timerEntry struct {
	when Time
	key  ObjectID
	sig  uint32
	fire func(k *Kernel, e *timerEntry)
}

// TimerEngine orders pending timeouts and delays by expiry and keeps the
// clock's single alarm armed for the earliest one.
type TimerEngine struct {
	k     *Kernel
	queue []*timerEntry

	// Entries queued while the alarm handler runs wait here and are merged
	// once it finishes.
	deferred    []*timerEntry
	dispatching bool

	fired uint64
}

func newTimerEngine(k *Kernel) *TimerEngine {
	return &TimerEngine{k: k}
}

// Len reports the number of queued entries.
func (te *TimerEngine) Len() int { return len(te.queue) + len(te.deferred) }

// Next returns the earliest expiry.
func (te *TimerEngine) Next() (Time, bool) {
	if len(te.queue) == 0 {
		return 0, false
	}
	return te.queue[0].when, true
}

// Fired reports how many entries have expired.
func (te *TimerEngine) Fired() uint64 { return te.fired }

func (te *TimerEngine) insert(e *timerEntry) int {
	// Equal expiries keep queue order.
	i := sort.Search(len(te.queue), func(i int) bool { return te.queue[i].when.After(e.when) })
	te.queue = append(te.queue, nil)
	copy(te.queue[i+1:], te.queue[i:])
	te.queue[i] = e
	return i
}

// add queues e. A new head re-arms the alarm; a head that is already due
// fires at once.
func (te *TimerEngine) add(e *timerEntry) {
	te.k.ints.EnterFIQAtomic()
	defer te.k.ints.ExitFIQAtomic()
	if te.dispatching {
		te.deferred = append(te.deferred, e)
		return
	}
	if te.insert(e) == 0 {
		te.arm()
	}
}

// remove drops every entry for key. It reports whether one was found.
func (te *TimerEngine) remove(key ObjectID) bool {
	te.k.ints.EnterFIQAtomic()
	defer te.k.ints.ExitFIQAtomic()
	found := false
	for i := 0; i < len(te.deferred); i++ {
		if te.deferred[i].key == key {
			te.deferred = append(te.deferred[:i], te.deferred[i+1:]...)
			i--
			found = true
		}
	}
	head := false
	for i := 0; i < len(te.queue); i++ {
		if te.queue[i].key == key {
			if i == 0 {
				head = true
			}
			te.queue = append(te.queue[:i], te.queue[i+1:]...)
			i--
			found = true
		}
	}
	if head && !te.dispatching {
		te.arm()
	}
	return found
}

// arm points the alarm at the head entry, servicing entries that are due
// already. An empty queue disarms it.
func (te *TimerEngine) arm() {
	if len(te.queue) == 0 {
		te.k.clock.ClearAlarm()
		return
	}
	if te.k.clock.SetAlarm(te.queue[0].when) {
		return
	}
	if !te.dispatching {
		te.alarm()
	}
}

// alarm is the timer interrupt: it fires every due entry in expiry order,
// then re-arms for the new head.
func (te *TimerEngine) alarm() {
	if te.dispatching {
		return
	}
	te.dispatching = true
	for {
		now := te.k.clock.Now()
		for len(te.queue) > 0 && !te.queue[0].when.After(now) {
			e := te.queue[0]
			te.queue = te.queue[1:]
			te.fired++
			e.fire(te.k, e)
		}
		for _, e := range te.deferred {
			te.insert(e)
		}
		te.deferred = te.deferred[:0]
		if len(te.queue) == 0 {
			te.k.clock.ClearAlarm()
			break
		}
		if te.k.clock.SetAlarm(te.queue[0].when) {
			break
		}
	}
	te.dispatching = false
}

// delay parks t until d has elapsed.
func (k *Kernel) delay(t *Task, d Time) proto.Err {
	if d == 0 {
		k.sched.WantSchedule()
		return proto.NoErr
	}
	k.block(t)
	t.delayed = true
	k.timers.add(&timerEntry{
		when: k.clock.Now() + d,
		key:  t.id,
		fire: func(k *Kernel, e *timerEntry) {
			if t := k.task(e.key); t != nil && t.delayed {
				t.delayed = false
				t.setResult(proto.NoErr, 0, 0, 0)
				k.wake(t)
			}
		},
	})
	return proto.Suspended
}
