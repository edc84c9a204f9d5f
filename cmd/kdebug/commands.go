package main

import (
	"bytes"
	"fmt"
	"strings"

	"newtcore/newtos/kernel"
	"newtcore/newtos/proto"
	"newtcore/newtos/tasks/demo"
)

func registerCommands(r *registry) error {
	groups := []struct {
		name string
		cmds []command
	}{
		{"debugger", []command{
			{Name: "help", Aliases: []string{"?"}, Usage: "help [command]", Desc: "Show available commands.", Run: cmdHelp},
			{Name: "quit", Aliases: []string{"exit"}, Usage: "quit", Desc: "Leave kdebug.", Run: cmdQuit},
		}},
		{"tasks", []command{
			{Name: "ps", Usage: "ps", Desc: "List live tasks.", Run: cmdPs},
			{Name: "objects", Aliases: []string{"obj"}, Usage: "objects", Desc: "List every object in the table.", Run: cmdObjects},
			{Name: "task", Usage: "task <task>", Desc: "Show a task's registers and bindings.", Run: cmdTask},
			{Name: "spawn", Usage: "spawn <entry> [name] [prio] [args...]", Desc: "Create and start a task.", Run: cmdSpawn},
			{Name: "demo", Usage: "demo <workload>", Desc: "Start a demo workload.", Run: cmdDemo},
			{Name: "suspend", Usage: "suspend <task>", Desc: "Suspend a task.", Run: cmdSuspend},
			{Name: "resume", Usage: "resume <task>", Desc: "Start a suspended task.", Run: cmdResume},
			{Name: "kill", Usage: "kill <task|id>", Desc: "Destroy an object.", Run: cmdKill},
			{Name: "prio", Usage: "prio <task> <n>", Desc: "Set a task's priority.", Run: cmdPrio},
		}},
		{"semaphores", []command{
			{Name: "semgroup", Usage: "semgroup <count>", Desc: "Create a semaphore group.", Run: cmdSemGroup},
			{Name: "semlist", Usage: "semlist <num:op>...", Desc: "Create a semaphore op list.", Run: cmdSemList},
			{Name: "semop", Usage: "semop <group> <list>", Desc: "Apply an op list without waiting.", Run: cmdSemOp},
			{Name: "sem", Usage: "sem <group>", Desc: "Show semaphore values.", Run: cmdSem},
		}},
		{"ports", []command{
			{Name: "port", Usage: "port", Desc: "Create a port.", Run: cmdPort},
			{Name: "send", Usage: "send <port> <type> <text>", Desc: "Post an asynchronous message.", Run: cmdSend},
			{Name: "recv", Usage: "recv <port> [filter]", Desc: "Take a message from a port.", Run: cmdRecv},
			{Name: "pending", Usage: "pending <port>", Desc: "Show a port's queues.", Run: cmdPending},
		}},
		{"time", []command{
			{Name: "run", Usage: "run [max]", Desc: "Step until idle.", Run: cmdRun},
			{Name: "step", Usage: "step [n]", Desc: "Run n kernel steps.", Run: cmdStep},
			{Name: "tick", Usage: "tick [ms]", Desc: "Advance the clock a millisecond at a time, running tasks.", Run: cmdTick},
			{Name: "time", Usage: "time", Desc: "Show clock, timers and interrupt counts.", Run: cmdTime},
		}},
		{"memory", []command{
			{Name: "stack", Usage: "stack [task]", Desc: "Show page pool or a task's stack.", Run: cmdStack},
			{Name: "fault", Usage: "fault <task> <addr> [w]", Desc: "Raise a data abort on a ready task.", Run: cmdFault},
			{Name: "release", Usage: "release <subpages>", Desc: "Release unused stack sub-pages.", Run: cmdRelease},
			{Name: "scavenge", Usage: "scavenge", Desc: "Collect orphaned objects.", Run: cmdScavenge},
			{Name: "halt", Usage: "halt [reason]", Desc: "Show halt state, or halt the kernel.", Run: cmdHalt},
		}},
	}
	for _, g := range groups {
		if err := r.register(g.name, g.cmds...); err != nil {
			return err
		}
	}
	return nil
}

func cmdHelp(d *debugger, args []string) error {
	if len(args) == 0 {
		for _, g := range d.reg.groups {
			fmt.Fprintf(d.out, "%s:\n", g)
			for _, cmd := range d.reg.member[g] {
				fmt.Fprintf(d.out, "  %-10s %s\n", cmd.Name, cmd.Desc)
			}
		}
		return nil
	}
	cmd, ok := d.reg.resolve(args[0])
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	fmt.Fprintf(d.out, "usage: %s\n%s (%s)\n", cmd.Usage, cmd.Desc, cmd.group)
	return nil
}

func cmdQuit(d *debugger, _ []string) error {
	d.quit = true
	return nil
}

func cmdPs(d *debugger, _ []string) error {
	var cur kernel.ObjectID
	if t := d.k.Scheduler().Current(); t != nil {
		cur = t.ID()
	}
	fmt.Fprintf(d.out, "  %-12s %-10s %4s %-10s %10s\n", "ID", "NAME", "PRI", "STATE", "CPU")
	for _, t := range d.k.Tasks() {
		mark := " "
		if t.ID() == cur {
			mark = "*"
		}
		fmt.Fprintf(d.out, "%s %-12s %-10s %4d %-10s %10s\n", mark, t.ID(), t.Name(), t.Priority(), t.State(), t.CPUTime())
	}
	return nil
}

func cmdObjects(d *debugger, _ []string) error {
	for _, o := range sortedObjects(d.k) {
		fmt.Fprintf(d.out, "%-16s %-14s owner=%s\n", o.ID(), o.ID().Type(), o.Owner())
	}
	fmt.Fprintf(d.out, "%d objects\n", d.k.Objects().Len())
	return nil
}

func cmdSpawn(d *debugger, args []string) error {
	if len(args) == 0 || len(args) > 7 {
		return errUsage
	}
	entry, name, prio := args[0], args[0], 10
	if len(args) > 1 {
		name = args[1]
	}
	if len(args) > 2 {
		p, err := parseUint(args[2])
		if err != nil {
			return err
		}
		prio = int(p)
	}
	var targs [4]uint32
	for i, a := range args[min(len(args), 3):] {
		v, err := parseUint(a)
		if err != nil {
			return err
		}
		targs[i] = v
	}
	id, err := d.k.Spawn(name, entry, prio, targs)
	if err != proto.NoErr {
		return err
	}
	fmt.Fprintln(d.out, id)
	return nil
}

func cmdDemo(d *debugger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("want one of %s", strings.Join(demo.Names(), ", "))
	}
	return demo.Start(d.k, args[0])
}

func taskRequest(d *debugger, args []string, req func(kernel.ObjectID) proto.ObjectRequest) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := d.taskArg(args[0])
	if err != nil {
		return err
	}
	return kerr(d.k.HandleObjectRequest(nil, req(id)).Err)
}

func cmdSuspend(d *debugger, args []string) error {
	return taskRequest(d, args, func(id kernel.ObjectID) proto.ObjectRequest { return proto.Suspend{Task: id} })
}

func cmdResume(d *debugger, args []string) error {
	return taskRequest(d, args, func(id kernel.ObjectID) proto.ObjectRequest { return proto.Start{Task: id} })
}

func cmdKill(d *debugger, args []string) error {
	return taskRequest(d, args, func(id kernel.ObjectID) proto.ObjectRequest { return proto.Destroy{ID: id} })
}

func cmdPrio(d *debugger, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := d.taskArg(args[0])
	if err != nil {
		return err
	}
	p, err := parseUint(args[1])
	if err != nil {
		return err
	}
	return kerr(d.k.SetTaskPriority(id, int(p)))
}

func cmdTask(d *debugger, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := d.taskArg(args[0])
	if err != nil {
		return err
	}
	t := d.k.Task(id)
	if t == nil {
		return proto.ErrBadObjectID
	}
	base, top := t.StackRange()
	fmt.Fprintf(d.out, "%s %q prio %d %s cpu %s\n", t.ID(), t.Name(), t.Priority(), t.State(), t.CPUTime())
	fmt.Fprintf(d.out, "stack [%#x,%#x) monitor %s bequeath %s\n", base, top, t.Monitor(), t.Bequeath())
	regs := t.Regs()
	for i := 0; i < len(regs); i += 4 {
		for j := i; j < i+4 && j < len(regs); j++ {
			fmt.Fprintf(d.out, "r%-2d %#010x  ", j, regs[j])
		}
		fmt.Fprintln(d.out)
	}
	return nil
}

func cmdFault(d *debugger, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	id, err := d.taskArg(args[0])
	if err != nil {
		return err
	}
	addr, err := parseUint(args[1])
	if err != nil {
		return err
	}
	write := len(args) == 3 && args[2] == "w"
	t := d.k.Task(id)
	if t == nil {
		return proto.ErrBadObjectID
	}
	if t.State() != kernel.TaskReady {
		return fmt.Errorf("task %s is %s, want ready", id, t.State())
	}
	switch ferr := d.k.Fault(t, addr, write); ferr {
	case proto.NoErr:
		fmt.Fprintf(d.out, "%#x mapped\n", addr)
	case proto.Suspended:
		fmt.Fprintf(d.out, "%#x pending on monitor\n", addr)
	default:
		fmt.Fprintf(d.out, "%#x unresolved: %s\n", addr, ferr)
	}
	return nil
}

func cmdSemGroup(d *debugger, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	n, err := parseUint(args[0])
	if err != nil {
		return err
	}
	_, err = d.create(proto.CreateSemGroup{Count: int(n)})
	return err
}

func cmdSemList(d *debugger, args []string) error {
	ops, err := parseSemOps(args)
	if err != nil {
		return err
	}
	_, err = d.create(proto.CreateSemList{Ops: ops})
	return err
}

func cmdSemOp(d *debugger, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	group, err := parseID(args[0])
	if err != nil {
		return err
	}
	list, err := parseID(args[1])
	if err != nil {
		return err
	}
	return kerr(d.k.SemOp(group, list, false, nil))
}

func cmdSem(d *debugger, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	g, ok := d.k.Lookup(id).(*kernel.SemGroup)
	if !ok {
		return proto.ErrBadObjectID
	}
	for i, v := range g.Values() {
		fmt.Fprintf(d.out, "sem[%d] = %d\n", i, v)
	}
	return nil
}

func cmdPort(d *debugger, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	_, err := d.create(proto.CreatePort{})
	return err
}

func cmdSend(d *debugger, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	port, err := parseID(args[0])
	if err != nil {
		return err
	}
	typ, err := parseUint(args[1])
	if err != nil {
		return err
	}
	payload := []byte(args[2])
	r := d.k.HandleObjectRequest(nil, proto.CreateSharedMemMsg{Size: uint32(len(payload)), Perms: proto.PermReadWrite})
	if r.Err != proto.NoErr {
		return r.Err
	}
	if _, err := d.k.Copy(nil, r.ID, 0, payload, true); err != proto.NoErr {
		return err
	}
	if err := d.k.Send(nil, port, r.ID, kernel.SendOpts{Type: typ, Flags: proto.PortAsync}); err != proto.NoErr {
		return err
	}
	msg := d.k.Lookup(r.ID).(*kernel.SharedMemMsg)
	fmt.Fprintf(d.out, "%s %s\n", r.ID, msg.Status())
	return nil
}

func cmdRecv(d *debugger, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	port, err := parseID(args[0])
	if err != nil {
		return err
	}
	filter := proto.MatchAll
	if len(args) == 2 {
		if filter, err = parseUint(args[1]); err != nil {
			return err
		}
	}
	r := d.k.HandleObjectRequest(nil, proto.CreateSharedMemMsg{Size: recvSize, Perms: proto.PermReadWrite})
	if r.Err != proto.NoErr {
		return r.Err
	}
	defer d.k.Objects().Remove(r.ID)
	if err := d.k.Receive(nil, port, r.ID, kernel.ReceiveOpts{Filter: filter, Flags: proto.PortIsMsgAvail}); err != proto.NoErr {
		return err
	}
	if err := d.k.Receive(nil, port, r.ID, kernel.ReceiveOpts{Filter: filter}); err != proto.NoErr && err != proto.ErrCopyTruncated {
		return err
	}
	msg := d.k.Lookup(r.ID).(*kernel.SharedMemMsg)
	typ, size, sender := msg.Received()
	fmt.Fprintf(d.out, "from %s type=%#x size=%d %q\n", sender, typ, size, bytes.TrimRight(msg.Bytes(), "\x00"))
	return nil
}

func cmdPending(d *debugger, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	p, ok := d.k.Lookup(id).(*kernel.Port)
	if !ok {
		return proto.ErrBadObjectID
	}
	senders, receivers := p.Pending()
	fmt.Fprintf(d.out, "senders:   %v\nreceivers: %v\n", senders, receivers)
	return nil
}

func optCount(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	if len(args) > 1 {
		return 0, errUsage
	}
	n, err := parseUint(args[0])
	return int(n), err
}

func cmdRun(d *debugger, args []string) error {
	n, err := optCount(args, 10000)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "%d steps\n", d.k.RunUntilIdle(n))
	return nil
}

func cmdStep(d *debugger, args []string) error {
	n, err := optCount(args, 1)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "%d steps\n", d.k.Run(n))
	return nil
}

func cmdTick(d *debugger, args []string) error {
	n, err := optCount(args, 1)
	if err != nil {
		return err
	}
	steps := 0
	for i := 0; i < n; i++ {
		d.k.Advance(kernel.Millisecond)
		steps += d.k.RunUntilIdle(10000)
	}
	fmt.Fprintf(d.out, "now %s, %d steps\n", d.k.Now(), steps)
	return nil
}

func cmdTime(d *debugger, _ []string) error {
	k := d.k
	next := "none"
	if at, ok := k.Timers().Next(); ok {
		next = at.String()
	}
	fmt.Fprintf(d.out, "now %s rtc %ds\n", k.Now(), k.RealTime())
	fmt.Fprintf(d.out, "timers %d pending, %d fired, next %s\n", k.Timers().Len(), k.Timers().Fired(), next)
	fmt.Fprintf(d.out, "irq %s=%d %s=%d, switches %d\n",
		kernel.IntSchedulerTick, k.Interrupts().Count(kernel.IntSchedulerTick),
		kernel.IntTimerAlarm, k.Interrupts().Count(kernel.IntTimerAlarm),
		k.Scheduler().Switches())
	return nil
}

func cmdStack(d *debugger, args []string) error {
	sm := d.k.Stacks()
	if len(args) == 0 {
		fmt.Fprintf(d.out, "pages %d, free sub-pages %d, releasable %d, memory waiters %d\n",
			sm.TotalPages(), sm.FreeSubPages(), sm.GetSystemReleaseable(), d.k.MemoryWaiters())
		return nil
	}
	id, err := d.taskArg(args[0])
	if err != nil {
		return err
	}
	t := d.k.Task(id)
	if t == nil || t.Stack() == nil {
		return proto.ErrBadObjectID
	}
	si := t.Stack()
	fmt.Fprintf(d.out, "area [%#x,%#x) base %#x sp %#x committed %d sub-pages on %d pages\n",
		si.Start(), si.End(), si.Base(), t.Reg(kernel.RegSP), sm.CommittedSubPages(si), sm.PageUse(si))
	return nil
}

func cmdRelease(d *debugger, args []string) error {
	n, err := optCount(args, 4)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "released %d sub-pages\n", d.k.Stacks().RoundRobinPageRelease(n))
	return nil
}

func cmdScavenge(d *debugger, _ []string) error {
	fmt.Fprintf(d.out, "collected %d objects\n", d.k.Objects().ScavengeAll())
	return nil
}

func cmdHalt(d *debugger, args []string) error {
	if len(args) > 0 {
		d.k.Halt(strings.Join(args, " "))
		return nil
	}
	info, halted := d.k.Halted()
	if !halted {
		fmt.Fprintln(d.out, "running")
		return nil
	}
	fmt.Fprintf(d.out, "halted at %s in %s: %s\n", info.At, info.Task, info.Reason)
	return nil
}
