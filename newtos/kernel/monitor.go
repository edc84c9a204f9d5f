package kernel

import "newtcore/newtos/proto"

// MonitorProc is the code a monitor runs for each call. It runs on the
// monitor's own task and reports the result code returned to the caller.
type MonitorProc func(call *MonitorCall) proto.Err

// FaultSnapshot is the caller state handed to a fault monitor.
type FaultSnapshot struct {
	Regs  [proto.NumRegs]uint32
	PSR   uint32
	Addr  uint32
	Write bool
}

// MonitorCall is one entry into a monitor.
type MonitorCall struct {
	Monitor  ObjectID
	Caller   ObjectID
	Selector uint32
	Context  uint32
	Message  any
	Fault    *FaultSnapshot

	// Reply is returned to the caller's SWI result slot.
	Reply any
	// Values land in the caller's R1..R3.
	Values [3]uint32

	k *Kernel
}

// Kernel returns the kernel the call runs in.
func (c *MonitorCall) Kernel() *Kernel { return c.k }

// KillCaller makes the release terminate the caller instead of resuming it.
func (c *MonitorCall) KillCaller() {
	if t := c.k.task(c.Caller); t != nil {
		t.killSelf = true
	}
}

// BlockOnMemory makes the release park the caller until pages are freed;
// its faulting access is then retried.
func (c *MonitorCall) BlockOnMemory() {
	if t := c.k.task(c.Caller); t != nil {
		t.blockedOnMemory = true
	}
}

// Monitor serializes calls onto a dedicated task.
type Monitor struct {
	objectHeader
	name   string
	proc   MonitorProc
	task   ObjectID
	refcon uint32

	callers    taskQueue
	queueCount int
	caller     ObjectID
	call       *MonitorCall
	suspended  bool
	calls      uint64
}

// Name returns the monitor's name.
func (m *Monitor) Name() string { return m.name }

// Task returns the monitor's dedicated task.
func (m *Monitor) Task() ObjectID { return m.task }

// Caller returns the task currently inside the monitor.
func (m *Monitor) Caller() ObjectID { return m.caller }

// Queued reports how many callers are inside or waiting.
func (m *Monitor) Queued() int { return m.queueCount }

type monitorProgram struct {
	m ObjectID
}

func (p monitorProgram) Step(c *TaskContext) {
	k := c.k
	m, ok := k.objects.lookup(p.m).(*Monitor)
	if !ok || m.call == nil {
		k.block(c.t)
		return
	}
	err := m.proc(m.call)
	k.releaseMonitor(m, err)
}

func (k *Kernel) newMonitor(name string, proc MonitorProc, priority int, stackSize, refcon uint32, owner Owner, env ObjectID) (*Monitor, proto.Err) {
	m := &Monitor{name: name, proc: proc, refcon: refcon}
	id, err := k.objects.Add(m, proto.TypeMonitor, owner)
	if err != proto.NoErr {
		return nil, err
	}
	t, err := k.newTask(name, priority, stackSize, SystemOwner(), env)
	if err != proto.NoErr {
		k.objects.unlink(id)
		return nil, err
	}
	t.monitorID = id
	t.program = monitorProgram{m: id}
	t.state = TaskBlocked
	m.task = t.id
	k.logf("monitor %s %q task=%s prio=%d", id, name, t.id, priority)
	return m, proto.NoErr
}

// Acquire enters monitor id on behalf of caller. The caller leaves the
// scheduler; if the monitor is idle the call is set up on the monitor task
// at once, otherwise the caller queues. It reports proto.Suspended; the
// result reaches the caller's registers at release.
func (k *Kernel) Acquire(caller *Task, id ObjectID, selector, context uint32, msg any) proto.Err {
	m, err := getAs[*Monitor](k.objects, id)
	if err != proto.NoErr {
		return proto.ErrNoSuchMonitor
	}
	if m.suspended {
		return proto.ErrNoSuchMonitor
	}
	if caller.monitorID == id {
		return proto.ErrBadParameters
	}
	k.ints.EnterAtomic()
	defer k.ints.ExitAtomic()
	k.block(caller)
	caller.inMonitor = id
	caller.swiArg = msg
	caller.regs[1] = selector
	caller.regs[2] = context
	m.queueCount++
	if m.queueCount == 1 {
		k.setUpEntry(m, caller)
	} else {
		k.pushBack(&m.callers, caller, waitLink)
	}
	return proto.Suspended
}

// setUpEntry loads caller's request into the monitor task and readies it.
// A fault re-entry hands over the full register snapshot; a normal call
// passes the selector and context.
func (k *Kernel) setUpEntry(m *Monitor, caller *Task) {
	call := &MonitorCall{
		Monitor: m.id,
		Caller:  caller.id,
		Message: caller.swiArg,
		k:       k,
	}
	mt := k.task(m.task)
	if caller.faultEntry && caller.pendingFault != nil {
		call.Fault = &FaultSnapshot{
			Regs:  caller.regs,
			PSR:   caller.psr,
			Addr:  caller.pendingFault.addr,
			Write: caller.pendingFault.write,
		}
		mt.regs = caller.regs
	} else {
		call.Selector = caller.regs[1]
		call.Context = caller.regs[2]
		mt.regs[0] = call.Selector
		mt.regs[1] = call.Context
		mt.regs[2] = uint32(caller.id)
	}
	mt.regs[RegSP] = mt.stackTop
	m.caller = caller.id
	m.call = call
	m.calls++
	k.wake(mt)
}

// releaseMonitor ends the current call. The caller resumes with result,
// dies, or waits for memory, depending on what the call decided; then the
// next queued caller, if any, is set up.
func (k *Kernel) releaseMonitor(m *Monitor, result proto.Err) {
	k.ints.EnterAtomic()
	defer k.ints.ExitAtomic()
	call := m.call
	m.call = nil
	m.caller = proto.NoID
	m.queueCount--
	if mt := k.task(m.task); mt != nil {
		k.block(mt)
	}
	if call != nil {
		k.resumeCaller(call, result)
	}
	if m.suspended || m.queueCount == 0 {
		return
	}
	if next := k.popFront(&m.callers, waitLink); next != nil {
		k.setUpEntry(m, next)
	}
}

func (k *Kernel) resumeCaller(call *MonitorCall, result proto.Err) {
	t := k.task(call.Caller)
	if t == nil {
		return
	}
	t.inMonitor = proto.NoID
	t.swiArg = nil
	t.swiResult = call.Reply
	switch {
	case t.pendingDeletion:
		t.pendingDeletion = false
		k.objects.finalize(t.id)
	case t.killSelf:
		t.killSelf = false
		t.faultEntry = false
		t.pendingFault = nil
		k.kill(t, result)
	case t.blockedOnMemory:
		t.blockedOnMemory = false
		t.faultEntry = false
		k.pushBack(&k.memWait, t, waitLink)
	default:
		t.faultEntry = false
		if t.pendingFault != nil {
			// The faulting access is retried when the task next runs.
			t.setResult(result, 0, 0, 0)
		} else {
			t.setResult(result, call.Values[0], call.Values[1], call.Values[2])
		}
		k.wake(t)
	}
}

// SuspendMonitor stops the monitor taking new callers.
func (k *Kernel) SuspendMonitor(m *Monitor) { m.suspended = true }

// FlushTasksOnMonitor turns away every queued caller with ErrNoSuchMonitor.
func (k *Kernel) FlushTasksOnMonitor(m *Monitor) int {
	flushed := k.drain(&m.callers, waitLink)
	for _, t := range flushed {
		m.queueCount--
		t.inMonitor = proto.NoID
		t.swiArg = nil
		t.pendingFault = nil
		t.faultEntry = false
		t.setResult(proto.ErrNoSuchMonitor, 0, 0, 0)
		if t.pendingDeletion {
			t.pendingDeletion = false
			k.objects.finalize(t.id)
			continue
		}
		k.wake(t)
	}
	return len(flushed)
}

func (m *Monitor) destroy(k *Kernel) bool {
	k.SuspendMonitor(m)
	k.FlushTasksOnMonitor(m)
	if m.call != nil {
		call := m.call
		m.call = nil
		m.caller = proto.NoID
		m.queueCount--
		k.resumeCaller(call, proto.ErrNoSuchMonitor)
	}
	if mt := k.task(m.task); mt != nil {
		mt.monitorID = proto.NoID
		k.objects.Remove(mt.id)
	}
	return true
}
