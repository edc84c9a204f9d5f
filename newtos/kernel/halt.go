package kernel

// HaltInfo describes why the kernel stopped.
type HaltInfo struct {
	Reason string
	Task   ObjectID
	At     Time
	Value  any
	Stack  []byte
}

// SetHaltHandler installs fn to run once when the kernel halts. It must not
// call back into the kernel.
func (k *Kernel) SetHaltHandler(fn func(HaltInfo)) { k.haltFn = fn }

// Halted reports whether the kernel has stopped, and why.
func (k *Kernel) Halted() (HaltInfo, bool) { return k.halt, k.halted }

// Halt stops the kernel. Only the first call takes effect; later steps do
// nothing and SWIs return proto.ErrHalted.
func (k *Kernel) Halt(reason string) {
	if k.halted {
		return
	}
	k.halted = true
	k.halt.Reason = reason
	k.halt.At = k.clock.Now()
	k.halt.Task = k.sched.current
	k.halt.Stack = captureStack()
	k.logf("halt: %s", reason)
	if k.haltFn != nil {
		k.haltFn(k.halt)
	}
}
