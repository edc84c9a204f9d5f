package kernel

import (
	"math/bits"

	"newtcore/newtos/proto"
)

const numPriorities = proto.MaxPriority + 1

// Scheduler keeps one FIFO bucket per priority and a bitmask of non-empty
// buckets. The running task is not in any bucket.
type Scheduler struct {
	k       *Kernel
	buckets [numPriorities]taskQueue
	mask    uint32

	current ObjectID
	idle    *Task

	hold     int
	deferred bool
	want     bool

	switches uint64
}

func newScheduler(k *Kernel) *Scheduler {
	return &Scheduler{k: k}
}

// Current returns the running task.
func (s *Scheduler) Current() *Task {
	if s.current == proto.NoID {
		return nil
	}
	return s.k.task(s.current)
}

// Idle returns the idle task.
func (s *Scheduler) Idle() *Task { return s.idle }

// Highest returns the highest priority with a ready task, or -1.
func (s *Scheduler) Highest() int {
	if s.mask == 0 {
		return -1
	}
	return bits.Len32(s.mask) - 1
}

// Ready reports the number of tasks waiting in buckets.
func (s *Scheduler) Ready() int {
	n := 0
	for i := range s.buckets {
		n += s.buckets[i].count
	}
	return n
}

// ReadyIDs lists ready tasks from highest priority down, FIFO within one.
func (s *Scheduler) ReadyIDs() []ObjectID {
	var out []ObjectID
	for p := proto.MaxPriority; p >= 0; p-- {
		out = append(out, s.k.queued(&s.buckets[p], schedLink)...)
	}
	return out
}

// Add makes t ready. If the processor is idling, or t is at least as urgent
// as the running task, a reschedule is requested; the switch itself happens
// at the next scheduling point.
func (s *Scheduler) Add(t *Task) {
	if t == s.idle || t.state == TaskTerminated || t.schedLink.q != nil || t.id == s.current {
		return
	}
	s.k.ints.EnterAtomic()
	defer s.k.ints.ExitAtomic()
	t.state = TaskReady
	s.k.pushBack(&s.buckets[t.priority], t, schedLink)
	s.mask |= 1 << t.priority
	cur := s.Current()
	if cur == nil || cur == s.idle || t.priority >= cur.priority {
		s.WantSchedule()
	}
}

// Remove takes t out of scheduling. Removing the running task empties the
// current slot and requests a reschedule.
func (s *Scheduler) Remove(t *Task) {
	s.k.ints.EnterAtomic()
	defer s.k.ints.ExitAtomic()
	if t.id == s.current {
		s.chargeCPU(t)
		s.current = proto.NoID
		if t.state == TaskRunning {
			t.state = TaskSuspended
		}
		s.WantSchedule()
		return
	}
	if t.schedLink.q == nil {
		return
	}
	q := t.schedLink.q
	s.k.unlinkTask(t, schedLink)
	if q.count == 0 {
		s.mask &^= 1 << t.priority
	}
	if t.state == TaskReady {
		t.state = TaskSuspended
	}
}

// Schedule picks the next task to run. The previous task, unless it is the
// idle task, goes to the back of its bucket first, so equal priorities
// round-robin. With nothing ready the idle task runs and the periodic tick
// is disarmed.
func (s *Scheduler) Schedule() *Task {
	s.k.ints.EnterAtomic()
	defer s.k.ints.ExitAtomic()
	s.want = false
	if prev := s.Current(); prev != nil && prev != s.idle {
		s.chargeCPU(prev)
		s.current = proto.NoID
		prev.state = TaskReady
		s.k.pushBack(&s.buckets[prev.priority], prev, schedLink)
		s.mask |= 1 << prev.priority
	}
	var next *Task
	if p := s.Highest(); p >= 0 {
		q := &s.buckets[p]
		next = s.k.popFront(q, schedLink)
		if q.count == 0 {
			s.mask &^= 1 << p
		}
	}
	if next == nil {
		next = s.idle
		s.k.clock.StopTick()
	} else {
		s.k.clock.StartTick()
	}
	if next != nil && next.id != s.current {
		s.switches++
	}
	if next != nil {
		s.current = next.id
		next.state = TaskRunning
		next.runStart = s.k.clock.Now()
	}
	return next
}

// WantSchedule requests a reschedule at the next scheduling point. Under
// HoldSchedule, or inside an atomic section, the request is recorded and
// honoured when the hold is released or the section exits.
func (s *Scheduler) WantSchedule() {
	if s.hold > 0 {
		s.deferred = true
		return
	}
	if s.k.ints.InAtomic() {
		if !s.deferred {
			s.deferred = true
			s.k.ints.deferUntilExit(s.flushDeferred)
		}
		return
	}
	s.want = true
}

func (s *Scheduler) flushDeferred() {
	if s.hold > 0 || !s.deferred {
		return
	}
	s.deferred = false
	s.want = true
}

// HoldSchedule defers reschedule requests until the matching AllowSchedule.
func (s *Scheduler) HoldSchedule() { s.hold++ }

// AllowSchedule releases one hold; the outermost release honours any
// request made meanwhile.
func (s *Scheduler) AllowSchedule() {
	if s.hold == 0 {
		return
	}
	s.hold--
	if s.hold == 0 && s.deferred {
		s.deferred = false
		s.WantSchedule()
	}
}

// NeedsSchedule reports whether a reschedule is pending.
func (s *Scheduler) NeedsSchedule() bool { return s.want }

// Switches reports how many context switches Schedule has made.
func (s *Scheduler) Switches() uint64 { return s.switches }

func (s *Scheduler) chargeCPU(t *Task) {
	now := s.k.clock.Now()
	if now.After(t.runStart) {
		t.cpuTime += now - t.runStart
	}
	t.runStart = now
}

// tick is the scheduler interrupt: the quantum expired.
func (s *Scheduler) tick() {
	if s.Highest() >= 0 {
		if cur := s.Current(); cur == nil || cur == s.idle || s.Highest() >= cur.priority {
			s.WantSchedule()
		}
	}
}
