package kernel

import "newtcore/newtos/proto"

type semaphore struct {
	value int32
	zeroQ taskQueue
	incQ  taskQueue
}

// SemGroup is a fixed-size array of counting semaphores operated on
// transactionally.
type SemGroup struct {
	objectHeader
	sems   []semaphore
	refcon uint32
}

// SemList is a reusable op list.
type SemList struct {
	objectHeader
	ops []proto.SemOp
}

type pendingSemOp struct {
	group ObjectID
	list  ObjectID
}

// Values returns a snapshot of the semaphore counters.
func (g *SemGroup) Values() []int32 {
	out := make([]int32, len(g.sems))
	for i := range g.sems {
		out[i] = g.sems[i].value
	}
	return out
}

// RefCon returns the group's client word.
func (g *SemGroup) RefCon() uint32 { return g.refcon }

// Ops returns a copy of the list.
func (l *SemList) Ops() []proto.SemOp { return append([]proto.SemOp(nil), l.ops...) }

func (k *Kernel) newSemGroup(count int, owner Owner) (*SemGroup, proto.Err) {
	g := &SemGroup{sems: make([]semaphore, count)}
	if _, err := k.objects.Add(g, proto.TypeSemGroup, owner); err != proto.NoErr {
		return nil, err
	}
	return g, proto.NoErr
}

func (k *Kernel) newSemList(ops []proto.SemOp, owner Owner) (*SemList, proto.Err) {
	l := &SemList{ops: append([]proto.SemOp(nil), ops...)}
	if _, err := k.objects.Add(l, proto.TypeSemList, owner); err != proto.NoErr {
		return nil, err
	}
	return l, proto.NoErr
}

// SemOp applies list to group for task t. Either every op applies, or none
// does: on the first op that cannot proceed every earlier op of the call is
// undone. With blocking set, t is then parked on the blocking semaphore's
// queue and the whole list is retried when it is woken; the call reports
// proto.Suspended. Without it the call reports ErrSemaphoreWouldBlock.
func (k *Kernel) SemOp(groupID, listID ObjectID, blocking bool, t *Task) proto.Err {
	g, err := getAs[*SemGroup](k.objects, groupID)
	if err != proto.NoErr {
		return err
	}
	l, err := getAs[*SemList](k.objects, listID)
	if err != proto.NoErr {
		return err
	}
	k.ints.EnterAtomic()
	defer k.ints.ExitAtomic()

	undo := func(n int) {
		for i := n - 1; i >= 0; i-- {
			op := l.ops[i]
			g.sems[op.Num].value -= int32(op.Op)
		}
	}
	for i, op := range l.ops {
		if int(op.Num) >= len(g.sems) {
			undo(i)
			return proto.ErrBadSemaphoreNumber
		}
		s := &g.sems[op.Num]
		var waitQ *taskQueue
		switch {
		case op.Op == 0:
			if s.value != 0 {
				waitQ = &s.zeroQ
			}
		case op.Op > 0:
			s.value += int32(op.Op)
		default:
			if s.value >= -int32(op.Op) {
				s.value += int32(op.Op)
			} else {
				waitQ = &s.incQ
			}
		}
		if waitQ == nil {
			continue
		}
		undo(i)
		if !blocking || t == nil {
			return proto.ErrSemaphoreWouldBlock
		}
		k.block(t)
		t.pendingSem = &pendingSemOp{group: groupID, list: listID}
		k.pushBack(waitQ, t, waitLink)
		return proto.Suspended
	}

	for _, op := range l.ops {
		s := &g.sems[op.Num]
		if op.Op > 0 {
			k.wakeAll(&s.incQ)
		}
		if s.value == 0 {
			k.wakeAll(&s.zeroQ)
		}
	}
	return proto.NoErr
}

// wakeAll moves every waiter back to the scheduler. Woken tasks re-run
// their whole op list and may block again.
func (k *Kernel) wakeAll(q *taskQueue) {
	for _, t := range k.drain(q, waitLink) {
		k.wake(t)
	}
}

// retrySemOp resumes a task parked in SemOp.
func (k *Kernel) retrySemOp(t *Task) proto.Err {
	p := t.pendingSem
	t.pendingSem = nil
	err := k.SemOp(p.group, p.list, true, t)
	if err != proto.Suspended {
		t.setResult(err, 0, 0, 0)
	}
	return err
}

// destroy wakes every waiter with ErrSemGroupGone.
func (g *SemGroup) destroy(k *Kernel) bool {
	for i := range g.sems {
		for _, q := range []*taskQueue{&g.sems[i].zeroQ, &g.sems[i].incQ} {
			for _, t := range k.drain(q, waitLink) {
				t.pendingSem = nil
				t.setResult(proto.ErrSemGroupGone, 0, 0, 0)
				k.wake(t)
			}
		}
	}
	return true
}

func (l *SemList) destroy(*Kernel) bool { return true }
