package kernel

import (
	"fmt"

	"newtcore/newtos/proto"
)

// TaskContext is a program's view of its task. Every kernel call goes
// through the SWI surface: arguments are loaded into registers, the trap is
// taken, and the result code is returned. A proto.Suspended result means
// the task has been parked; the program should return from Step and read
// Result at its next Step.
type TaskContext struct {
	k *Kernel
	t *Task
}

// ID returns the running task's id.
func (c *TaskContext) ID() ObjectID { return c.t.id }

// Name returns the running task's name.
func (c *TaskContext) Name() string { return c.t.name }

// Now returns the current logical time.
func (c *TaskContext) Now() Time { return c.k.clock.Now() }

// Result returns R0 as a result code.
func (c *TaskContext) Result() proto.Err { return c.t.result() }

// Reg returns register n.
func (c *TaskContext) Reg(n int) uint32 { return c.t.regs[n] }

// SetReg sets register n.
func (c *TaskContext) SetReg(n int, v uint32) { c.t.regs[n] = v }

// Values returns R1..R3.
func (c *TaskContext) Values() (r1, r2, r3 uint32) { return c.t.regs[1], c.t.regs[2], c.t.regs[3] }

// SWIResult returns the Go value the last call left in the result slot.
func (c *TaskContext) SWIResult() any { return c.t.swiResult }

// ObjectReply returns the reply to the last object-manager call.
func (c *TaskContext) ObjectReply() proto.ObjectReply {
	r, _ := c.t.swiResult.(proto.ObjectReply)
	return r
}

// StackReply returns the reply to the last stack-manager call.
func (c *TaskContext) StackReply() proto.SMReply {
	r, _ := c.t.swiResult.(proto.SMReply)
	return r
}

func (c *TaskContext) trap(n proto.SWI, arg any, args ...uint32) proto.Err {
	c.t.swiArg = arg
	c.t.swiResult = nil
	for i, a := range args {
		c.t.regs[1+i] = a
	}
	err := c.k.SWI(c.t, n)
	if c.t.inMonitor == proto.NoID {
		c.t.swiArg = nil
	}
	if c.t.state == TaskTerminated {
		// The call ended the task: exit, bus error or self-destroy.
		panic(taskGone{})
	}
	return err
}

// taskGone unwinds a program's Step once its task has terminated.
type taskGone struct{}

// Generic calls the generic SWI table with selector sel.
func (c *TaskContext) Generic(sel proto.GenericSelector, args ...uint32) proto.Err {
	return c.trap(proto.SWIGeneric, nil, append([]uint32{uint32(sel)}, args...)...)
}

// Send posts msg on port.
func (c *TaskContext) Send(port, msg ObjectID, opts SendOpts) proto.Err {
	return c.trap(proto.SWIPortSend, nil, uint32(port), uint32(msg), uint32(opts.ReplyMem),
		opts.Type, opts.Flags, uint32(opts.Timeout/Microsecond), uint32(opts.NotifyPort))
}

// Receive posts msg as a receiver on port.
func (c *TaskContext) Receive(port, msg ObjectID, opts ReceiveOpts) proto.Err {
	return c.trap(proto.SWIPortReceive, nil, uint32(port), uint32(msg), opts.Filter,
		opts.Flags, uint32(opts.Timeout/Microsecond), uint32(opts.NotifyPort))
}

// Reply answers an RPC sender from shared memory mem.
func (c *TaskContext) Reply(sender, mem ObjectID, result proto.Err) proto.Err {
	return c.trap(proto.SWIPortReply, nil, uint32(sender), uint32(mem), uint32(int32(result)))
}

// Cancel aborts a posted message.
func (c *TaskContext) Cancel(msg ObjectID) proto.Err {
	return c.trap(proto.SWIPortCancel, nil, uint32(msg))
}

// ResetPort drains port, completing senders and receivers per action.
func (c *TaskContext) ResetPort(port ObjectID, senderAction, receiverAction uint32) proto.Err {
	return c.trap(proto.SWIPortReset, nil, uint32(port), senderAction, receiverAction)
}

// SemOp applies list to group.
func (c *TaskContext) SemOp(group, list ObjectID, wait bool) proto.Err {
	mode := proto.SemNoWait
	if wait {
		mode = proto.SemWaitOk
	}
	return c.trap(proto.SWISemOp, nil, uint32(group), uint32(list), mode)
}

// Delay sleeps for d.
func (c *TaskContext) Delay(d Time) proto.Err {
	return c.Generic(proto.GenDelay, uint32(d/Microsecond))
}

// Yield offers the processor to tasks of equal or higher priority.
func (c *TaskContext) Yield() proto.Err { return c.Generic(proto.GenYield) }

// Exit terminates the task with code.
func (c *TaskContext) Exit(code proto.Err) {
	c.Generic(proto.GenExitTask, uint32(int32(code)))
}

// Object makes an object-manager request.
func (c *TaskContext) Object(req proto.ObjectRequest) proto.Err {
	return c.trap(proto.SWIObjectManager, req)
}

// Stack makes a stack-manager request.
func (c *TaskContext) Stack(req proto.SMRequest) proto.Err {
	return c.trap(proto.SWIStackManager, req)
}

// MonitorCall enters monitor with selector, context and an optional
// message.
func (c *TaskContext) MonitorCall(monitor ObjectID, selector, context uint32, msg any) proto.Err {
	return c.trap(proto.SWIMonitorEntry, msg, uint32(monitor), selector, context)
}

// SetBuffer installs buf as mem's storage.
func (c *TaskContext) SetBuffer(mem ObjectID, buf []byte, size, perms uint32) proto.Err {
	return c.trap(proto.SWISetBuffer, buf, uint32(mem), size, perms)
}

// GetSize reports mem's logical and allocated sizes.
func (c *TaskContext) GetSize(mem ObjectID) (size, allocated uint32, err proto.Err) {
	err = c.trap(proto.SWIGetSize, nil, uint32(mem))
	return c.t.regs[1], c.t.regs[2], err
}

// CopyTo copies p into mem at offset.
func (c *TaskContext) CopyTo(mem ObjectID, offset uint32, p []byte) proto.Err {
	return c.trap(proto.SWICopyToShared, p, uint32(mem), offset)
}

// CopyFrom copies from mem at offset into p.
func (c *TaskContext) CopyFrom(mem ObjectID, offset uint32, p []byte) proto.Err {
	return c.trap(proto.SWICopyFromShared, p, uint32(mem), offset)
}

// Touch accesses addr, taking a data abort if it is not mapped.
func (c *TaskContext) Touch(addr uint32, write bool) proto.Err {
	return c.trap(proto.SWIFault, nil, addr, boolWord(write))
}

// Store writes p at addr. Each sub-page is touched first; if a touch
// parks the task the store is abandoned and should be retried.
func (c *TaskContext) Store(addr uint32, p []byte) proto.Err {
	if err := c.touchRange(addr, uint32(len(p)), true); err != proto.NoErr {
		return err
	}
	return c.k.stacks.Store(c.t.id, addr, p)
}

// Load reads len(p) bytes at addr, touching each sub-page first.
func (c *TaskContext) Load(addr uint32, p []byte) proto.Err {
	if err := c.touchRange(addr, uint32(len(p)), false); err != proto.NoErr {
		return err
	}
	return c.k.stacks.Load(c.t.id, addr, p)
}

func (c *TaskContext) touchRange(addr, n uint32, write bool) proto.Err {
	if n == 0 {
		return proto.NoErr
	}
	sub := c.k.stacks.SubPageSize()
	end := uint64(addr) + uint64(n)
	for a := uint64(addr); a < end; a = (a/uint64(sub) + 1) * uint64(sub) {
		if err := c.Touch(uint32(a), write); err != proto.NoErr {
			return err
		}
	}
	return proto.NoErr
}

// SP returns the stack pointer.
func (c *TaskContext) SP() uint32 { return c.t.regs[RegSP] }

// SetSP moves the stack pointer.
func (c *TaskContext) SetSP(sp uint32) { c.t.regs[RegSP] = sp }

// StackRange returns the task's nominal stack base and top.
func (c *TaskContext) StackRange() (base, top uint32) { return c.t.stackBase, c.t.stackTop }

// Printf writes a log line tagged with the task name.
func (c *TaskContext) Printf(format string, args ...any) {
	c.k.logf("[%s] %s", c.t.name, fmt.Sprintf(format, args...))
}
