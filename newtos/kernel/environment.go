package kernel

import (
	"newtcore/newtos/proto"
	"newtcore/newtos/stackmgr"
)

// Environment is the set of domains a task may access.
type Environment struct {
	objectHeader
	domains []envDomain
}

type envDomain struct {
	id      ObjectID
	manager bool
}

// Domains returns the member domains.
func (e *Environment) Domains() []ObjectID {
	out := make([]ObjectID, len(e.domains))
	for i, d := range e.domains {
		out[i] = d.id
	}
	return out
}

func (e *Environment) find(id ObjectID) int {
	for i, d := range e.domains {
		if d.id == id {
			return i
		}
	}
	return -1
}

func (e *Environment) destroy(*Kernel) bool { return true }

// Domain is an address range with a fault monitor.
type Domain struct {
	objectHeader
	base, size   uint32
	faultMonitor ObjectID
}

// Range returns the domain's address range.
func (d *Domain) Range() (base, size uint32) { return d.base, d.size }

// FaultMonitor returns the monitor faults in the domain are routed to.
func (d *Domain) FaultMonitor() ObjectID { return d.faultMonitor }

func (d *Domain) contains(addr uint32) bool {
	return addr >= d.base && uint64(addr) < uint64(d.base)+uint64(d.size)
}

func (d *Domain) destroy(k *Kernel) bool {
	k.objects.Each(func(obj Object) {
		if e, ok := obj.(*Environment); ok {
			if i := e.find(d.id); i >= 0 {
				e.domains = append(e.domains[:i], e.domains[i+1:]...)
			}
		}
	})
	return true
}

// PhysMem is a physical address range tasks may map.
type PhysMem struct {
	objectHeader
	base, size uint32
	readOnly   bool
}

// Range returns the physical range.
func (p *PhysMem) Range() (base, size uint32) { return p.base, p.size }

func (p *PhysMem) destroy(*Kernel) bool { return true }

func (k *Kernel) newEnvironment(owner Owner) (*Environment, proto.Err) {
	e := &Environment{}
	if _, err := k.objects.Add(e, proto.TypeEnvironment, owner); err != proto.NoErr {
		return nil, err
	}
	return e, proto.NoErr
}

func (k *Kernel) newDomain(base, size uint32, owner Owner) (*Domain, proto.Err) {
	end := uint64(base) + uint64(size)
	var overlap bool
	k.objects.Each(func(obj Object) {
		if d, ok := obj.(*Domain); ok && !d.deleting {
			if uint64(base) < uint64(d.base)+uint64(d.size) && uint64(d.base) < end {
				overlap = true
			}
		}
	})
	if overlap {
		return nil, proto.ErrAddressOutOfRange
	}
	d := &Domain{base: base, size: size}
	if _, err := k.objects.Add(d, proto.TypeDomain, owner); err != proto.NoErr {
		return nil, err
	}
	return d, proto.NoErr
}

func (k *Kernel) newPhysMem(base, size uint32, readOnly bool, owner Owner) (*PhysMem, proto.Err) {
	p := &PhysMem{base: base, size: size, readOnly: readOnly}
	if _, err := k.objects.Add(p, proto.TypePhysMem, owner); err != proto.NoErr {
		return nil, err
	}
	return p, proto.NoErr
}

// AddDomain makes domain a member of env.
func (k *Kernel) AddDomain(envID, domainID ObjectID, manager bool) proto.Err {
	e, err := getAs[*Environment](k.objects, envID)
	if err != proto.NoErr {
		return err
	}
	if _, err := getAs[*Domain](k.objects, domainID); err != proto.NoErr {
		return err
	}
	if i := e.find(domainID); i >= 0 {
		e.domains[i].manager = manager
		return proto.NoErr
	}
	e.domains = append(e.domains, envDomain{id: domainID, manager: manager})
	return proto.NoErr
}

// RemoveDomain drops domain from env.
func (k *Kernel) RemoveDomain(envID, domainID ObjectID) proto.Err {
	e, err := getAs[*Environment](k.objects, envID)
	if err != proto.NoErr {
		return err
	}
	i := e.find(domainID)
	if i < 0 {
		return proto.ErrBadParameters
	}
	e.domains = append(e.domains[:i], e.domains[i+1:]...)
	return proto.NoErr
}

// HasDomain reports membership and whether the environment manages the
// domain.
func (k *Kernel) HasDomain(envID, domainID ObjectID) (member, manager bool, err proto.Err) {
	e, err := getAs[*Environment](k.objects, envID)
	if err != proto.NoErr {
		return false, false, err
	}
	i := e.find(domainID)
	if i < 0 {
		return false, false, proto.NoErr
	}
	return true, e.domains[i].manager, proto.NoErr
}

// SetDomainFaultMonitor routes faults in domain to monitor.
func (k *Kernel) SetDomainFaultMonitor(domainID, monitorID ObjectID) proto.Err {
	d, err := getAs[*Domain](k.objects, domainID)
	if err != proto.NoErr {
		return err
	}
	if monitorID != proto.NoID {
		if _, err := getAs[*Monitor](k.objects, monitorID); err != proto.NoErr {
			return err
		}
	}
	d.faultMonitor = monitorID
	return proto.NoErr
}

func (k *Kernel) domainFor(env ObjectID, addr uint32) (*Domain, bool) {
	e, ok := k.objects.Get(env).(*Environment)
	if !ok {
		return nil, false
	}
	var found *Domain
	k.objects.Each(func(obj Object) {
		if d, ok := obj.(*Domain); ok && !d.deleting && d.contains(addr) {
			found = d
		}
	})
	if found == nil {
		return nil, false
	}
	return found, e.find(found.id) >= 0
}

type pendingFault struct {
	addr  uint32
	write bool
}

// Fault is the data-abort entry for task t. The access is checked against
// the MMU; on a miss the domain covering addr must be in t's environment
// and its fault monitor is entered with the task's registers. A fault with
// nowhere to go, or one taken by a monitor task, cannot be resolved; the
// task dies with a bus error, or the kernel halts if the task was a
// monitor.
func (k *Kernel) Fault(t *Task, addr uint32, write bool) proto.Err {
	if _, fault, violation := k.stacks.MMU().Lookup(addr, write); !fault {
		return proto.NoErr
	} else if violation {
		return k.faultFatal(t, addr, proto.ErrPermissionViolation)
	}
	d, member := k.domainFor(t.env, addr)
	switch {
	case d == nil:
		return k.faultFatal(t, addr, proto.ErrAddressOutOfRange)
	case !member:
		return k.faultFatal(t, addr, proto.ErrPermissionViolation)
	case d.faultMonitor == proto.NoID:
		return k.faultFatal(t, addr, proto.ErrAddressOutOfRange)
	}
	if t.monitorID != proto.NoID {
		return k.faultFatal(t, addr, proto.ErrStackOverflow)
	}
	t.pendingFault = &pendingFault{addr: addr, write: write}
	t.faultEntry = true
	if err := k.Acquire(t, d.faultMonitor, 0, addr, nil); err != proto.Suspended {
		t.pendingFault = nil
		t.faultEntry = false
		return k.faultFatal(t, addr, err)
	}
	return proto.Suspended
}

func (k *Kernel) faultFatal(t *Task, addr uint32, err proto.Err) proto.Err {
	if t.monitorID != proto.NoID {
		k.Halt("unresolved fault in monitor task " + t.name + ": " + err.String())
		return err
	}
	k.logf("task %s bus error at %#x: %s", t.id, addr, err)
	k.kill(t, err)
	return err
}

// retryFault re-runs a faulting access after its monitor call returned.
func (k *Kernel) retryFault(t *Task) proto.Err {
	pf := t.pendingFault
	t.pendingFault = nil
	if t.result() != proto.NoErr {
		return k.faultFatal(t, pf.addr, t.result())
	}
	err := k.Fault(t, pf.addr, pf.write)
	if err != proto.Suspended && t.state != TaskTerminated {
		t.setResult(err, 0, 0, 0)
	}
	return err
}

// wakeMemoryWaiters retries every task parked for want of pages.
func (k *Kernel) wakeMemoryWaiters() {
	for _, t := range k.drain(&k.memWait, waitLink) {
		t.setResult(proto.NoErr, 0, 0, 0)
		k.wake(t)
	}
}

// stackManagerProc is the stack manager's monitor: it serves the
// stack-manager protocol and resolves faults in its heap domains.
func (k *Kernel) stackManagerProc(call *MonitorCall) proto.Err {
	if f := call.Fault; f != nil {
		err := k.stacks.Fault(stackmgr.FaultState{Addr: f.Addr, Write: f.Write, Task: call.Caller})
		switch err {
		case proto.NoErr:
		case proto.ErrNoPagesAvailable:
			call.BlockOnMemory()
		default:
			call.KillCaller()
		}
		return err
	}
	req, ok := call.Message.(proto.SMRequest)
	if !ok {
		return proto.ErrBadMessage
	}
	if ns, ok := req.(proto.NewStack); ok && ns.Domain == proto.NoID {
		ns.Domain = k.stackDomain
		req = ns
	}
	if nh, ok := req.(proto.NewHeapArea); ok && nh.Domain == proto.NoID {
		nh.Domain = k.stackDomain
		req = nh
	}
	reply := k.stacks.Handle(req)
	call.Reply = reply
	call.Values = [3]uint32{reply.Start, reply.End, reply.Count}
	return reply.Err
}
