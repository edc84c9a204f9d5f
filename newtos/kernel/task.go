package kernel

import (
	"newtcore/newtos/proto"
	"newtcore/newtos/stackmgr"
)

// Register numbers with a fixed role.
const (
	RegSP = 13
	RegLR = 14
	RegPC = 15
)

// TaskState is where a task sits relative to the scheduler.
type TaskState uint8

const (
	TaskSuspended TaskState = iota
	TaskReady
	TaskRunning
	TaskBlocked
	TaskTerminated
)

func (s TaskState) String() string {
	switch s {
	case TaskSuspended:
		return "suspended"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskBlocked:
		return "blocked"
	case TaskTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Program is the code a task runs. Step is called each time the task is
// scheduled; kernel calls made through the context either complete at once
// or park the task, in which case the result is in R0 at the next Step.
type Program interface {
	Step(*TaskContext)
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(*TaskContext)

func (f ProgramFunc) Step(c *TaskContext) { f(c) }

// ProgramFactory builds a program from the four start arguments.
type ProgramFactory func(args [4]uint32) Program

const (
	programBase   = 0x00010000
	programStride = 0x100
)

type programEntry struct {
	name    string
	addr    uint32
	factory ProgramFactory
}

// Task is one thread of control.
type Task struct {
	objectHeader

	name     string
	regs     [proto.NumRegs]uint32
	psr      uint32
	priority int
	state    TaskState

	stackBase uint32
	stackTop  uint32
	stack     *stackmgr.StackInfo
	globals   uint32
	env       ObjectID

	cpuTime   Time
	runStart  Time
	stepCount uint64

	monitorID   ObjectID // monitor this task runs on behalf of
	inMonitor   ObjectID // monitor this task is calling into
	bequeathID  ObjectID
	inheritedID ObjectID

	schedLink queueLink
	waitLink  queueLink

	program Program

	// Parked kernel calls resumed by the kernel before the program runs.
	pendingSem   *pendingSemOp
	pendingFault *pendingFault
	copy         *copyOp
	waitMsg      ObjectID
	waitSig      uint32
	delayed      bool

	pendingDeletion bool
	faultEntry      bool
	killSelf        bool
	blockedOnMemory bool
	suspendOnWake   bool

	// swiArg carries a Go value that has no register encoding.
	swiArg    any
	swiResult any

	exitErr proto.Err
}

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// Priority returns the task's priority.
func (t *Task) Priority() int { return t.priority }

// State returns the task's scheduling state.
func (t *Task) State() TaskState { return t.state }

// Reg returns one register.
func (t *Task) Reg(n int) uint32 { return t.regs[n] }

// Regs returns a copy of the register file.
func (t *Task) Regs() [proto.NumRegs]uint32 { return t.regs }

// CPUTime returns the time the task has spent running.
func (t *Task) CPUTime() Time { return t.cpuTime }

// StackRange returns the nominal stack base and top.
func (t *Task) StackRange() (base, top uint32) { return t.stackBase, t.stackTop }

// Stack returns the task's stack area.
func (t *Task) Stack() *stackmgr.StackInfo { return t.stack }

// Monitor returns the monitor the task serves, if it is a monitor task.
func (t *Task) Monitor() ObjectID { return t.monitorID }

// Bequeath returns the task that inherits this task's objects.
func (t *Task) Bequeath() ObjectID { return t.bequeathID }

func (t *Task) setResult(err proto.Err, r1, r2, r3 uint32) {
	t.regs[0] = uint32(int32(err))
	t.regs[1] = r1
	t.regs[2] = r2
	t.regs[3] = r3
}

func (t *Task) result() proto.Err { return proto.Err(int32(t.regs[0])) }

// RegisterProgram makes name available as a task entry point.
func (k *Kernel) RegisterProgram(name string, factory ProgramFactory) {
	if _, ok := k.programs[name]; ok {
		return
	}
	addr := uint32(programBase + len(k.programs)*programStride)
	k.programs[name] = &programEntry{name: name, addr: addr, factory: factory}
}

// RegisterMonitorProc makes proc available as a monitor entry point.
func (k *Kernel) RegisterMonitorProc(name string, proc MonitorProc) {
	k.monitorProcs[name] = proc
}

// createTask allocates a task with its stack and installs its entry point.
// The task starts suspended.
func (k *Kernel) createTask(req proto.CreateTask, owner Owner, env ObjectID) (*Task, proto.Err) {
	entry, ok := k.programs[req.Entry]
	if !ok {
		return nil, proto.ErrBadParameters
	}
	t, err := k.newTask(req.Name, req.Priority, req.StackSize, owner, env)
	if err != proto.NoErr {
		return nil, err
	}
	copy(t.regs[:4], req.Args[:])
	t.regs[RegPC] = entry.addr
	t.globals = req.Globals
	t.program = entry.factory(req.Args)
	k.logf("task %s %q created entry=%s prio=%d stack=[%#x,%#x)", t.id, t.name, entry.name, t.priority, t.stackBase, t.stackTop)
	return t, proto.NoErr
}

func (k *Kernel) newTask(name string, priority int, stackSize uint32, owner Owner, env ObjectID) (*Task, proto.Err) {
	if stackSize == 0 {
		stackSize = k.cfg.StackSize
	}
	t := &Task{name: name, priority: priority, env: env, state: TaskSuspended}
	id, err := k.objects.Add(t, proto.TypeTask, owner)
	if err != proto.NoErr {
		return nil, err
	}
	si, err := k.stacks.NewStack(proto.NewStack{Domain: k.stackDomain, Size: stackSize, Owner: id})
	if err != proto.NoErr {
		k.objects.unlink(id)
		return nil, err
	}
	t.stack = si
	t.stackBase = si.Base()
	t.stackTop = si.End()
	t.regs[RegSP] = si.End()
	return t, proto.NoErr
}

// StackPointer reports a task's live stack pointer to the stack manager.
func (k *Kernel) StackPointer(owner ObjectID) (uint32, bool) {
	t := k.task(owner)
	if t == nil || t.state == TaskTerminated {
		return 0, false
	}
	return t.regs[RegSP], true
}

// destroy tears a task down. A task inside a monitor call stays until the
// monitor releases it.
func (t *Task) destroy(k *Kernel) bool {
	if t.inMonitor != proto.NoID {
		t.pendingDeletion = true
		return false
	}
	k.logf("task %s %q terminated", t.id, t.name)
	k.sched.Remove(t)
	k.unlinkTask(t, waitLink)
	k.unlinkTask(t, schedLink)
	if t.delayed {
		k.timers.remove(t.id)
	}
	t.pendingSem = nil
	t.pendingFault = nil
	t.copy = nil
	t.state = TaskTerminated
	// A message the task was parked on must not pair with a later peer.
	if msg, ok := k.objects.lookup(t.waitMsg).(*SharedMemMsg); ok {
		k.completeMsg(msg, proto.ErrObjectDestroyed)
	}
	t.waitMsg = proto.NoID
	if t.bequeathID != proto.NoID && k.objects.Exists(t.bequeathID) {
		n := k.objects.ReassignOwnership(t.id, t.bequeathID)
		if heir := k.task(t.bequeathID); heir != nil {
			heir.inheritedID = t.id
		}
		k.logf("task %s bequeathed %d objects to %s", t.id, n, t.bequeathID)
	}
	if t.stack != nil {
		k.stacks.DisposeStack(t.stack.End() - 1)
		t.stack = nil
	}
	return true
}

// kill terminates t with a result code, as for a bus error.
func (k *Kernel) kill(t *Task, reason proto.Err) {
	if t.state == TaskTerminated {
		return
	}
	t.exitErr = reason
	k.logf("task %s %q killed: %s", t.id, t.name, reason)
	k.objects.Remove(t.id)
}

// setPriority changes t's priority, requeueing it if it is ready.
func (k *Kernel) setPriority(t *Task, prio int) proto.Err {
	if prio < proto.MinPriority || prio > proto.MaxPriority {
		return proto.ErrBadParameters
	}
	if t.priority == prio {
		return proto.NoErr
	}
	if t.state == TaskReady {
		k.sched.Remove(t)
		t.priority = prio
		k.sched.Add(t)
		return proto.NoErr
	}
	t.priority = prio
	if t.state == TaskRunning {
		k.sched.WantSchedule()
	}
	return proto.NoErr
}

// SetTaskPriority changes the priority of task id.
func (k *Kernel) SetTaskPriority(id ObjectID, prio int) proto.Err {
	t, err := getAs[*Task](k.objects, id)
	if err != proto.NoErr {
		return err
	}
	return k.setPriority(t, prio)
}

// block parks t outside the scheduler.
func (k *Kernel) block(t *Task) {
	if t.state == TaskTerminated {
		return
	}
	k.sched.Remove(t)
	t.state = TaskBlocked
}

// wake returns a blocked task to the scheduler, or leaves it suspended if
// a suspend was requested while it waited.
func (k *Kernel) wake(t *Task) {
	if t.state != TaskBlocked {
		return
	}
	k.unlinkTask(t, waitLink)
	if t.suspendOnWake {
		t.suspendOnWake = false
		t.state = TaskSuspended
		return
	}
	k.sched.Add(t)
}
