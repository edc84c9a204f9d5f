package kernel

import "newtcore/newtos/proto"

// SWI is the trap entry for task t. Arguments are read from t's registers
// and argument slot; the result code is written to R0 (and return values
// to R1..R3) unless the call parked the task, in which case they are
// written when it resumes. The result code is also returned.
func (k *Kernel) SWI(t *Task, n proto.SWI) proto.Err {
	if k.halted {
		return proto.ErrHalted
	}
	if t != nil && t.state == TaskTerminated {
		return proto.ErrObjectDestroyed
	}
	r := &t.regs
	var err proto.Err
	switch n {
	case proto.SWIGeneric:
		return k.generic(t, proto.GenericSelector(r[1]))

	case proto.SWIPortSend:
		err = k.Send(t, ObjectID(r[1]), ObjectID(r[2]), SendOpts{
			ReplyMem:   ObjectID(r[3]),
			Type:       r[4],
			Flags:      r[5],
			Timeout:    Time(r[6]) * Microsecond,
			NotifyPort: ObjectID(r[7]),
		})
	case proto.SWIPortReceive:
		err = k.Receive(t, ObjectID(r[1]), ObjectID(r[2]), ReceiveOpts{
			Filter:     r[3],
			Flags:      r[4],
			Timeout:    Time(r[5]) * Microsecond,
			NotifyPort: ObjectID(r[6]),
		})
	case proto.SWIPortReset:
		err = k.Reset(ObjectID(r[1]), r[2], r[3])
	case proto.SWIPortReply:
		err = k.Reply(ObjectID(r[1]), ObjectID(r[2]), proto.Err(int32(r[3])))
	case proto.SWIPortCancel:
		err = k.Cancel(t.id, ObjectID(r[1]))

	case proto.SWISemOp:
		err = k.SemOp(ObjectID(r[1]), ObjectID(r[2]), r[3] == proto.SemWaitOk, t)

	case proto.SWIMonitorEntry:
		err = k.Acquire(t, ObjectID(r[1]), r[2], r[3], t.swiArg)
	case proto.SWIObjectManager:
		err = k.Acquire(t, k.objMgr, 0, 0, t.swiArg)
	case proto.SWIStackManager:
		err = k.Acquire(t, k.stackMon, 0, 0, t.swiArg)

	case proto.SWISetBuffer:
		buf, _ := t.swiArg.([]byte)
		err = k.SetBuffer(t.id, ObjectID(r[1]), buf, r[2], r[3])
	case proto.SWIGetSize:
		size, allocated, status, gerr := k.GetSize(ObjectID(r[1]))
		t.setResult(gerr, size, allocated, uint32(status))
		return gerr
	case proto.SWICopyToShared, proto.SWICopyFromShared:
		buf, _ := t.swiArg.([]byte)
		done, cerr := k.Copy(t, ObjectID(r[1]), r[2], buf, n == proto.SWICopyToShared)
		if cerr != proto.Suspended {
			t.setResult(cerr, uint32(done), 0, 0)
		}
		return cerr

	case proto.SWIFault:
		err = k.Fault(t, r[1], r[2] != 0)
	default:
		err = proto.ErrUnknownOpcode
	}
	if err != proto.Suspended && t.state != TaskTerminated {
		r[0] = uint32(int32(err))
	}
	return err
}

// generic serves the generic selector table. Arguments start at R2.
func (k *Kernel) generic(t *Task, sel proto.GenericSelector) proto.Err {
	r := &t.regs
	a1, a2, a3 := r[2], r[3], r[4]
	done := func(err proto.Err, v1, v2, v3 uint32) proto.Err {
		if err != proto.Suspended && t.state != TaskTerminated {
			t.setResult(err, v1, v2, v3)
		}
		return err
	}
	target := func(id uint32) (*Task, proto.Err) {
		if ObjectID(id) == proto.NoID {
			return t, proto.NoErr
		}
		return getAs[*Task](k.objects, ObjectID(id))
	}

	switch sel {
	case proto.GenGetCurrentTaskID:
		return done(proto.NoErr, uint32(t.id), 0, 0)
	case proto.GenGetTaskPriority:
		tt, err := target(a1)
		if err != proto.NoErr {
			return done(err, 0, 0, 0)
		}
		return done(proto.NoErr, uint32(tt.priority), 0, 0)
	case proto.GenSetTaskPriority:
		tt, err := target(a1)
		if err != proto.NoErr {
			return done(err, 0, 0, 0)
		}
		if tt != t && !k.objects.Controls(t.id, tt) {
			return done(proto.ErrObjectNotOwned, 0, 0, 0)
		}
		return done(k.setPriority(tt, int(int32(a2))), 0, 0, 0)
	case proto.GenYield:
		k.sched.WantSchedule()
		return done(proto.NoErr, 0, 0, 0)
	case proto.GenDelay:
		return done(k.delay(t, Time(a1)*Microsecond), 0, 0, 0)
	case proto.GenSetBequeath:
		if ObjectID(a1) != proto.NoID {
			if _, err := getAs[*Task](k.objects, ObjectID(a1)); err != proto.NoErr {
				return done(err, 0, 0, 0)
			}
		}
		t.bequeathID = ObjectID(a1)
		return done(proto.NoErr, 0, 0, 0)
	case proto.GenGetBequeath:
		return done(proto.NoErr, uint32(t.bequeathID), uint32(t.inheritedID), 0)
	case proto.GenExitTask:
		if t.exitErr == proto.NoErr {
			t.exitErr = proto.Err(int32(a1))
		}
		k.logf("task %s %q exit %s", t.id, t.name, t.exitErr)
		k.objects.Remove(t.id)
		return proto.NoErr

	case proto.GenRemember, proto.GenRememberPerm:
		p, err := getAs[*PhysMem](k.objects, ObjectID(a2))
		if err != proto.NoErr {
			return done(err, 0, 0, 0)
		}
		if a3 >= p.size {
			return done(proto.ErrAddressOutOfRange, 0, 0, 0)
		}
		readOnly := p.readOnly || sel == proto.GenRememberPerm
		k.stacks.MMU().Remember(a1, p.base+a3, readOnly)
		return done(proto.NoErr, 0, 0, 0)
	case proto.GenForget:
		k.stacks.MMU().Forget(a1)
		return done(proto.NoErr, 0, 0, 0)

	case proto.GenSemGroupGetRefCon:
		g, err := getAs[*SemGroup](k.objects, ObjectID(a1))
		if err != proto.NoErr {
			return done(err, 0, 0, 0)
		}
		return done(proto.NoErr, g.refcon, 0, 0)
	case proto.GenSemGroupSetRefCon:
		g, err := getAs[*SemGroup](k.objects, ObjectID(a1))
		if err != proto.NoErr {
			return done(err, 0, 0, 0)
		}
		g.refcon = a2
		return done(proto.NoErr, 0, 0, 0)

	case proto.GenGetCurrentEnvironment:
		return done(proto.NoErr, uint32(t.env), 0, 0)
	case proto.GenAddDomainToEnvironment:
		return done(k.AddDomain(ObjectID(a1), ObjectID(a2), a3 != 0), 0, 0, 0)
	case proto.GenRemoveDomainFromEnvironment:
		return done(k.RemoveDomain(ObjectID(a1), ObjectID(a2)), 0, 0, 0)
	case proto.GenEnvironmentHasDomain:
		member, manager, err := k.HasDomain(ObjectID(a1), ObjectID(a2))
		return done(err, boolWord(member), boolWord(manager), 0)

	case proto.GenGetRealTime:
		return done(proto.NoErr, k.RealTime(), 0, 0)
	case proto.GenSetRealTimeAlarm:
		return done(k.SetRealTimeAlarm(a1, ObjectID(a2)), 0, 0, 0)
	case proto.GenGetTicks:
		now := uint64(k.clock.Now())
		return done(proto.NoErr, uint32(now), uint32(now>>32), 0)
	case proto.GenGetCPUTime:
		tt, err := target(a1)
		if err != proto.NoErr {
			return done(err, 0, 0, 0)
		}
		cpu := uint64(tt.cpuTime)
		return done(proto.NoErr, uint32(cpu), uint32(cpu>>32), 0)

	case proto.GenLockHeapRange:
		return done(k.stacks.LockHeapRange(a1, a2), 0, 0, 0)
	case proto.GenUnlockHeapRange:
		return done(k.stacks.UnlockHeapRange(a1, a2), 0, 0, 0)
	case proto.GenGetSystemReleaseable:
		return done(proto.NoErr, k.stacks.GetSystemReleaseable(), 0, 0)

	case proto.GenPowerOff:
		k.Halt("power off requested by " + t.name)
		return proto.ErrHalted
	case proto.GenReboot:
		k.Halt("reboot requested by " + t.name)
		return proto.ErrHalted

	case proto.GenScavenge:
		return done(proto.NoErr, uint32(k.objects.ScavengeAll()), 0, 0)
	case proto.GenObjectExists:
		return done(proto.NoErr, boolWord(k.objects.Exists(ObjectID(a1))), 0, 0)
	case proto.GenGetObjectOwner:
		obj := k.objects.Get(ObjectID(a1))
		if obj == nil {
			return done(proto.ErrBadObjectID, 0, 0, 0)
		}
		o := obj.header().owner
		return done(proto.NoErr, uint32(o.Task), uint32(o.Kind), uint32(obj.header().assigned))
	default:
		return done(proto.ErrUnknownOpcode, 0, 0, 0)
	}
}

// RealTime returns the real-time clock in seconds.
func (k *Kernel) RealTime() uint32 {
	return k.rtcBase + uint32(k.clock.Now()/Second)
}

// SetRTC sets the real-time clock.
func (k *Kernel) SetRTC(seconds uint32) {
	k.rtcBase = seconds - uint32(k.clock.Now()/Second)
}

// SetRealTimeAlarm posts a notice to port when the real-time clock reaches
// seconds. A time already passed fires at once.
func (k *Kernel) SetRealTimeAlarm(seconds uint32, port ObjectID) proto.Err {
	if _, err := getAs[*Port](k.objects, port); err != proto.NoErr {
		return err
	}
	when := k.clock.Now()
	if now := k.RealTime(); seconds > now {
		when += Time(seconds-now) * Second
	}
	k.timers.add(&timerEntry{
		when: when,
		key:  port,
		fire: func(k *Kernel, e *timerEntry) {
			k.postNotice(e.key, proto.NoID, proto.NoErr)
		},
	})
	return proto.NoErr
}
