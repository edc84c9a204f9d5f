package kernel

import "newtcore/newtos/proto"

// objectManagerProc serves the object-manager protocol on its monitor task.
func (k *Kernel) objectManagerProc(call *MonitorCall) proto.Err {
	req, ok := call.Message.(proto.ObjectRequest)
	if !ok {
		return proto.ErrBadMessage
	}
	reply := k.HandleObjectRequest(k.task(call.Caller), req)
	call.Reply = reply
	call.Values = [3]uint32{uint32(reply.ID), reply.Value, boolWord(reply.Flag)}
	return reply.Err
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// HandleObjectRequest performs one object-manager request for caller. A nil
// caller is the kernel: created objects are system-owned and every
// ownership check passes.
func (k *Kernel) HandleObjectRequest(caller *Task, req proto.ObjectRequest) proto.ObjectReply {
	if req == nil {
		return proto.ObjectReply{Err: proto.ErrBadMessage}
	}
	if err := req.Validate(); err != proto.NoErr {
		return proto.ObjectReply{Err: err}
	}
	owner, callerID, env := SystemOwner(), proto.NoID, k.kernelEnv
	if caller != nil {
		owner, callerID, env = TaskOwner(caller.id), caller.id, caller.env
	}
	created := func(id ObjectID) proto.ObjectReply {
		k.logf("objmgr create %s by %s", id, callerID)
		return proto.ObjectReply{ID: id}
	}

	switch r := req.(type) {
	case proto.CreateTask:
		t, err := k.createTask(r, owner, env)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return created(t.id)
	case proto.CreatePort:
		p, err := k.newPort(owner)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return created(p.id)
	case proto.CreateSemList:
		l, err := k.newSemList(r.Ops, owner)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return created(l.id)
	case proto.CreateSemGroup:
		g, err := k.newSemGroup(r.Count, owner)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return created(g.id)
	case proto.CreateSharedMem:
		m, err := k.newSharedMem(r.Size, r.Perms, owner, env)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return created(m.id)
	case proto.CreateSharedMemMsg:
		m, err := k.newSharedMemMsg(r.Size, r.Perms, owner, env)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return created(m.id)
	case proto.CreateMonitor:
		proc, ok := k.monitorProcs[r.Entry]
		if !ok {
			return proto.ObjectReply{Err: proto.ErrBadParameters}
		}
		m, err := k.newMonitor(r.Name, proc, r.Priority, r.StackSize, r.Refcon, owner, env)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return created(m.id)
	case proto.CreateEnvironment:
		e, err := k.newEnvironment(owner)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return created(e.id)
	case proto.CreateDomain:
		d, err := k.newDomain(r.Base, r.Size, owner)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return created(d.id)
	case proto.CreatePhys:
		p, err := k.newPhysMem(r.Base, r.Size, r.ReadOnly, owner)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return created(p.id)

	case proto.Destroy:
		obj := k.objects.Get(r.ID)
		if obj == nil {
			return proto.ObjectReply{Err: proto.ErrBadObjectID}
		}
		if !k.objects.Controls(callerID, obj) {
			return proto.ObjectReply{Err: proto.ErrObjectNotOwned}
		}
		k.logf("objmgr destroy %s by %s", r.ID, callerID)
		return proto.ObjectReply{Err: k.objects.Remove(r.ID)}

	case proto.Start:
		t, err := k.controlledTask(callerID, r.Task)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		if t.state != TaskSuspended {
			return proto.ObjectReply{Err: proto.ErrTaskNotSuspended}
		}
		k.sched.Add(t)
		return proto.ObjectReply{}
	case proto.Suspend:
		t, err := k.controlledTask(callerID, r.Task)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		switch t.state {
		case TaskBlocked:
			t.suspendOnWake = true
		case TaskReady, TaskRunning:
			k.sched.Remove(t)
			t.state = TaskSuspended
		}
		return proto.ObjectReply{}
	case proto.SetRegister:
		t, err := k.controlledTask(callerID, r.Task)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		t.regs[r.Reg] = r.Value
		return proto.ObjectReply{}
	case proto.GetRegister:
		t, err := k.controlledTask(callerID, r.Task)
		if err != proto.NoErr {
			return proto.ObjectReply{Err: err}
		}
		return proto.ObjectReply{Value: t.regs[r.Reg]}

	case proto.AddDomain:
		return proto.ObjectReply{Err: k.AddDomain(r.Env, r.Domain, r.Manager)}
	case proto.GetContent:
		member, manager, err := k.HasDomain(r.Env, r.Domain)
		return proto.ObjectReply{Err: err, Flag: member, Value: boolWord(manager)}
	case proto.RemoveDomain:
		return proto.ObjectReply{Err: k.RemoveDomain(r.Env, r.Domain)}
	case proto.SetDomainFaultMonitor:
		return proto.ObjectReply{Err: k.SetDomainFaultMonitor(r.Domain, r.Monitor)}

	case proto.AssignOwnership:
		return proto.ObjectReply{Err: k.objects.Assign(r.Object, callerID, r.To)}
	case proto.AcceptOwnership:
		if callerID == proto.NoID {
			return proto.ObjectReply{Err: proto.ErrBadParameters}
		}
		return proto.ObjectReply{Err: k.objects.AcceptOwnership(r.Object, callerID)}
	default:
		return proto.ObjectReply{Err: proto.ErrUnknownOpcode}
	}
}

func (k *Kernel) controlledTask(caller, id ObjectID) (*Task, proto.Err) {
	t, err := getAs[*Task](k.objects, id)
	if err != proto.NoErr {
		return nil, err
	}
	if caller != id && !k.objects.Controls(caller, t) {
		return nil, proto.ErrObjectNotOwned
	}
	return t, proto.NoErr
}
