// Package kernel is the Newton-style kernel core: interrupt controller and
// atomic sections, the object table, a priority scheduler, semaphore
// groups, shared memory and ports, the timer engine, monitors, and the
// glue that routes faults to the stack manager.
//
// Tasks are Go programs stepped cooperatively on one goroutine. A program
// makes kernel calls through its TaskContext; a call either completes at
// once or parks the task, and the kernel finishes it before the program
// runs again.
package kernel

import (
	"fmt"
	"sort"

	"newtcore/hal"
	"newtcore/newtos/proto"
	"newtcore/newtos/stackmgr"
)

// Config sizes a kernel. Zero fields take defaults.
type Config struct {
	Logger hal.Logger

	// TableSize is the number of object table hash buckets. Default 128.
	TableSize int
	// IDCounterBits is the width of the id generation counter. Default 24.
	IDCounterBits uint
	// Quantum is the scheduler interrupt period. Default 10ms.
	Quantum Time
	// IdlePriority is the idle task's priority. Default 0.
	IdlePriority int
	// MonitorPriority is the priority of the kernel's own monitors.
	// Default 28.
	MonitorPriority int
	// CopyChunk is the bytes moved per step of a resumable copy.
	// Default 256.
	CopyChunk int
	// StackSize is the default task stack size. Default 8KiB.
	StackSize uint32

	Stacks stackmgr.Config
	// StackDomainBase, StackDomainSize and StackRegionSize lay out the
	// domain task stacks are carved from. Defaults 0x10000000, 16MiB,
	// 64KiB.
	StackDomainBase uint32
	StackDomainSize uint32
	StackRegionSize uint32
	// Pages is the number of physical pages donated to the stack manager,
	// starting at PhysBase. Defaults 64 and 0x00800000.
	Pages    int
	PhysBase uint32
}

func (c Config) withDefaults() Config {
	if c.TableSize <= 0 {
		c.TableSize = 128
	}
	if c.IDCounterBits == 0 {
		c.IDCounterBits = 24
	}
	if c.Quantum == 0 {
		c.Quantum = 10 * Millisecond
	}
	if c.MonitorPriority == 0 {
		c.MonitorPriority = 28
	}
	if c.CopyChunk <= 0 {
		c.CopyChunk = 256
	}
	if c.StackSize == 0 {
		c.StackSize = 8 << 10
	}
	if c.StackDomainBase == 0 {
		c.StackDomainBase = 0x10000000
	}
	if c.StackDomainSize == 0 {
		c.StackDomainSize = 16 << 20
	}
	if c.StackRegionSize == 0 {
		c.StackRegionSize = 64 << 10
	}
	if c.Pages == 0 {
		c.Pages = 64
	}
	if c.PhysBase == 0 {
		c.PhysBase = 0x00800000
	}
	if c.Stacks.Logger == nil {
		c.Stacks.Logger = c.Logger
	}
	return c
}

// Kernel is one kernel instance.
type Kernel struct {
	cfg Config
	log hal.Logger

	ints    *InterruptController
	clock   *Clock
	objects *ObjectTable
	sched   *Scheduler
	timers  *TimerEngine
	stacks  *stackmgr.Manager

	programs     map[string]*programEntry
	monitorProcs map[string]MonitorProc

	kernelEnv   ObjectID
	stackDomain ObjectID
	objMgr      ObjectID
	stackMon    ObjectID

	// tasks whose fault is waiting for free pages
	memWait taskQueue

	rtcBase uint32

	halted bool
	halt   HaltInfo
	haltFn func(HaltInfo)
}

// New boots a kernel: the interrupt sources, the kernel environment and
// stack domain, the object-manager and stack-manager monitors, and the idle
// task.
func New(cfg Config) (*Kernel, error) {
	cfg = cfg.withDefaults()
	k := &Kernel{
		cfg:          cfg,
		log:          cfg.Logger,
		programs:     make(map[string]*programEntry),
		monitorProcs: make(map[string]MonitorProc),
	}
	k.ints = newInterruptController(k.Halt)
	k.clock = newClock(k.ints, cfg.Quantum)
	k.objects = newObjectTable(k, cfg.TableSize, cfg.IDCounterBits)
	k.sched = newScheduler(k)
	k.timers = newTimerEngine(k)
	k.stacks = stackmgr.New(cfg.Stacks, k)
	k.stacks.OnPagesFreed(k.wakeMemoryWaiters)

	k.ints.Register(IntTimerAlarm, 1, true, k.timers.alarm)
	k.ints.Register(IntSchedulerTick, 0, false, k.sched.tick)
	k.ints.Enable(IntTimerAlarm)
	k.ints.Enable(IntSchedulerTick)

	env, err := k.newEnvironment(SystemOwner())
	if err != proto.NoErr {
		return nil, fmt.Errorf("kernel environment: %w", err)
	}
	k.kernelEnv = env.id
	dom, err := k.newDomain(cfg.StackDomainBase, cfg.StackDomainSize, SystemOwner())
	if err != proto.NoErr {
		return nil, fmt.Errorf("stack domain: %w", err)
	}
	k.stackDomain = dom.id
	if _, err := k.stacks.NewHeapDomain(dom.id, cfg.StackDomainBase, cfg.StackDomainSize, cfg.StackRegionSize); err != proto.NoErr {
		return nil, fmt.Errorf("stack heap domain: %w", err)
	}
	k.AddDomain(env.id, dom.id, true)
	k.stacks.AddPages(cfg.PhysBase, cfg.Pages)

	k.RegisterMonitorProc("stackmgr", k.stackManagerProc)
	k.RegisterMonitorProc("objmgr", k.objectManagerProc)
	sm, err := k.newMonitor("stackmgr", k.stackManagerProc, cfg.MonitorPriority, 0, 0, SystemOwner(), env.id)
	if err != proto.NoErr {
		return nil, fmt.Errorf("stack manager monitor: %w", err)
	}
	k.stackMon = sm.id
	dom.faultMonitor = sm.id
	om, err := k.newMonitor("objmgr", k.objectManagerProc, cfg.MonitorPriority, 0, 0, SystemOwner(), env.id)
	if err != proto.NoErr {
		return nil, fmt.Errorf("object manager monitor: %w", err)
	}
	k.objMgr = om.id

	idle, err := k.newTask("idle", cfg.IdlePriority, 0, SystemOwner(), env.id)
	if err != proto.NoErr {
		return nil, fmt.Errorf("idle task: %w", err)
	}
	k.sched.idle = idle
	k.sched.WantSchedule()
	k.logf("boot: %d pages, stack domain [%#x,%#x) regions=%d", cfg.Pages,
		cfg.StackDomainBase, uint64(cfg.StackDomainBase)+uint64(cfg.StackDomainSize), cfg.StackDomainSize/cfg.StackRegionSize)
	return k, nil
}

func (k *Kernel) logf(format string, args ...any) {
	if k.log == nil {
		return
	}
	k.log.WriteLineString(fmt.Sprintf("kernel: "+format, args...))
}

// Step dispatches pending interrupts, reschedules if asked to, and runs one
// step of the current task. It reports false when only the idle task could
// run or the kernel has halted. An idle step scavenges one bucket of the
// object table instead.
func (k *Kernel) Step() bool {
	if k.halted {
		return false
	}
	k.ints.Dispatch()
	cur := k.sched.Current()
	if cur == nil || k.sched.NeedsSchedule() {
		cur = k.sched.Schedule()
	}
	if cur == nil || cur == k.sched.idle {
		// Idle steps sweep the object table a bucket at a time.
		k.objects.Scavenge()
		return false
	}
	k.runTask(cur)
	return !k.halted
}

// runTask finishes any parked call of t, then runs one step of its
// program.
func (k *Kernel) runTask(t *Task) {
	t.stepCount++
	switch {
	case t.copy != nil:
		k.stepCopy(t)
		return
	case t.pendingSem != nil:
		if k.retrySemOp(t) == proto.Suspended {
			return
		}
	case t.pendingFault != nil:
		if k.retryFault(t) == proto.Suspended {
			return
		}
	}
	if t.state != TaskRunning {
		return
	}
	if t.program == nil {
		k.kill(t, proto.ErrBadParameters)
		return
	}
	k.runProgram(t)
}

func (k *Kernel) runProgram(t *Task) {
	defer func() {
		r := recover()
		if _, gone := r.(taskGone); r == nil || gone {
			return
		}
		stack := captureStack()
		k.logf("task %s %q panic: %v", t.id, t.name, r)
		if t.monitorID != proto.NoID {
			k.halt.Value = r
			k.Halt(fmt.Sprintf("panic in monitor task %s: %v", t.name, r))
			return
		}
		k.logf("%s", stack)
		k.kill(t, proto.ErrCallAborted)
	}()
	t.program.Step(&TaskContext{k: k, t: t})
}

// Run performs up to n steps and reports how many ran a task.
func (k *Kernel) Run(n int) int {
	ran := 0
	for i := 0; i < n; i++ {
		if !k.Step() {
			break
		}
		ran++
	}
	return ran
}

// RunUntilIdle steps until only the idle task is runnable or max steps
// have run.
func (k *Kernel) RunUntilIdle(max int) int { return k.Run(max) }

// Advance moves logical time forward by d; timers and the scheduler tick
// fire at the instants they fall due.
func (k *Kernel) Advance(d Time) {
	if k.halted {
		return
	}
	k.clock.Advance(d)
	k.ints.Dispatch()
}

// Spawn creates a system-owned task running entry and starts it.
func (k *Kernel) Spawn(name, entry string, priority int, args [4]uint32) (ObjectID, proto.Err) {
	reply := k.HandleObjectRequest(nil, proto.CreateTask{Name: name, Entry: entry, Priority: priority, Args: args})
	if reply.Err != proto.NoErr {
		return proto.NoID, reply.Err
	}
	if r := k.HandleObjectRequest(nil, proto.Start{Task: reply.ID}); r.Err != proto.NoErr {
		k.objects.Remove(reply.ID)
		return proto.NoID, r.Err
	}
	return reply.ID, proto.NoErr
}

// Now returns the current logical time.
func (k *Kernel) Now() Time { return k.clock.Now() }

// Clock returns the hardware clock model.
func (k *Kernel) Clock() *Clock { return k.clock }

// Interrupts returns the interrupt controller.
func (k *Kernel) Interrupts() *InterruptController { return k.ints }

// Objects returns the object table.
func (k *Kernel) Objects() *ObjectTable { return k.objects }

// Scheduler returns the scheduler.
func (k *Kernel) Scheduler() *Scheduler { return k.sched }

// Timers returns the timer engine.
func (k *Kernel) Timers() *TimerEngine { return k.timers }

// Stacks returns the stack manager.
func (k *Kernel) Stacks() *stackmgr.Manager { return k.stacks }

// KernelEnvironment returns the environment kernel tasks run in.
func (k *Kernel) KernelEnvironment() ObjectID { return k.kernelEnv }

// StackDomain returns the domain task stacks live in.
func (k *Kernel) StackDomain() ObjectID { return k.stackDomain }

// ObjectManager returns the object-manager monitor.
func (k *Kernel) ObjectManager() ObjectID { return k.objMgr }

// StackManager returns the stack-manager monitor.
func (k *Kernel) StackManager() ObjectID { return k.stackMon }

// Task returns the task named id, or nil.
func (k *Kernel) Task(id ObjectID) *Task { return k.task(id) }

// Tasks lists every live task in id order.
func (k *Kernel) Tasks() []*Task {
	var out []*Task
	k.objects.Each(func(obj Object) {
		if t, ok := obj.(*Task); ok && t.state != TaskTerminated {
			out = append(out, t)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Lookup returns the live object named id, or nil.
func (k *Kernel) Lookup(id ObjectID) Object { return k.objects.Get(id) }

// MemoryWaiters reports how many tasks wait for free pages.
func (k *Kernel) MemoryWaiters() int { return k.memWait.count }
