package kernel

import (
	"bytes"
	"strings"
	"testing"

	"newtcore/newtos/proto"
)

func runOnce(t *testing.T, k *Kernel, fn func(c *TaskContext) proto.Err) (*once, *Task) {
	t.Helper()
	o := &once{fn: fn}
	task := spawn(t, k, "swi", 5, o)
	k.RunUntilIdle(50)
	if !o.done {
		t.Fatalf("call did not complete")
	}
	return o, task
}

func TestGenericSelectors(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	g, _ := k.newSemGroup(1, SystemOwner())
	tests := []struct {
		name string
		fn   func(c *TaskContext) proto.Err
		err  proto.Err
		want func(c *TaskContext, v [3]uint32) bool
	}{
		{
			name: "current task",
			fn:   func(c *TaskContext) proto.Err { return c.Generic(proto.GenGetCurrentTaskID) },
			want: func(c *TaskContext, v [3]uint32) bool { return ObjectID(v[0]) == c.ID() },
		},
		{
			name: "set and get priority",
			fn: func(c *TaskContext) proto.Err {
				if err := c.Generic(proto.GenSetTaskPriority, 0, 9); err != proto.NoErr {
					return err
				}
				return c.Generic(proto.GenGetTaskPriority, 0)
			},
			want: func(_ *TaskContext, v [3]uint32) bool { return v[0] == 9 },
		},
		{
			name: "bad priority",
			fn:   func(c *TaskContext) proto.Err { return c.Generic(proto.GenSetTaskPriority, 0, 99) },
			err:  proto.ErrBadParameters,
		},
		{
			name: "object exists",
			fn:   func(c *TaskContext) proto.Err { return c.Generic(proto.GenObjectExists, uint32(g.id)) },
			want: func(_ *TaskContext, v [3]uint32) bool { return v[0] == 1 },
		},
		{
			name: "object owner",
			fn:   func(c *TaskContext) proto.Err { return c.Generic(proto.GenGetObjectOwner, uint32(g.id)) },
			want: func(_ *TaskContext, v [3]uint32) bool { return OwnerKind(v[1]) == OwnedBySystem },
		},
		{
			name: "environment",
			fn:   func(c *TaskContext) proto.Err { return c.Generic(proto.GenGetCurrentEnvironment) },
			want: func(c *TaskContext, v [3]uint32) bool { return ObjectID(v[0]) == c.k.KernelEnvironment() },
		},
		{
			name: "unknown selector",
			fn:   func(c *TaskContext) proto.Err { return c.Generic(proto.GenericSelector(0xFFFF)) },
			err:  proto.ErrUnknownOpcode,
		},
		{
			name: "unknown swi",
			fn:   func(c *TaskContext) proto.Err { return c.trap(proto.SWI(0xEE), nil) },
			err:  proto.ErrUnknownOpcode,
		},
	}
	for _, tt := range tests {
		var ok bool
		o := &once{fn: tt.fn}
		o.after = func(c *TaskContext) {
			ok = tt.want == nil || tt.want(c, o.values)
		}
		spawn(t, k, strings.ReplaceAll(tt.name, " ", "_"), 5, o)
		k.RunUntilIdle(50)
		if !o.done || o.result != tt.err {
			t.Fatalf("%s: done=%v result=%v, want %v", tt.name, o.done, o.result, tt.err)
		}
		if !ok {
			t.Fatalf("%s: unexpected values %v", tt.name, o.values)
		}
	}
}

func TestYieldRoundRobins(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	var order []string
	mk := func(name string) Program {
		n := 0
		return ProgramFunc(func(c *TaskContext) {
			order = append(order, name)
			if n++; n == 3 {
				c.Exit(proto.NoErr)
				return
			}
			c.Yield()
		})
	}
	spawn(t, k, "a", 5, mk("a"))
	spawn(t, k, "b", 5, mk("b"))
	k.RunUntilIdle(20)
	if got := strings.Join(order, ","); got != "a,b,a,b,a,b" {
		t.Fatalf("order = %q, want %q", got, "a,b,a,b,a,b")
	}
}

func TestTicksAndRealTime(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	k.SetRTC(1000)
	k.Advance(2500 * Millisecond)
	o, _ := runOnce(t, k, func(c *TaskContext) proto.Err { return c.Generic(proto.GenGetTicks) })
	if got := Time(o.values[0]) | Time(o.values[1])<<32; got != 2500*Millisecond {
		t.Fatalf("ticks = %v, want 2500ms", got)
	}
	o, _ = runOnce(t, k, func(c *TaskContext) proto.Err { return c.Generic(proto.GenGetRealTime) })
	if o.values[0] != 1002 {
		t.Fatalf("real time = %d, want 1002", o.values[0])
	}
}

func TestRealTimeAlarmPostsNotice(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	k.SetRTC(100)
	p := newPortT(t, k)
	if err := k.SetRealTimeAlarm(103, p.id); err != proto.NoErr {
		t.Fatalf("SetRealTimeAlarm() = %v", err)
	}
	k.Advance(2 * Second)
	if senders, _ := p.Pending(); len(senders) != 0 {
		t.Fatalf("alarm fired early")
	}
	k.Advance(Second)
	if senders, _ := p.Pending(); len(senders) != 1 {
		t.Fatalf("alarm did not post a notice")
	}
	if err := k.SetRealTimeAlarm(0, proto.MakeID(77, proto.TypePort)); err != proto.ErrBadObjectID {
		t.Fatalf("SetRealTimeAlarm(bad port) = %v, want %v", err, proto.ErrBadObjectID)
	}
}

func TestBequeathSelectors(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	heir := create(t, k, "heir", 5, &parked{})
	o, task := runOnce(t, k, func(c *TaskContext) proto.Err {
		if err := c.Generic(proto.GenSetBequeath, uint32(heir.id)); err != proto.NoErr {
			return err
		}
		return c.Generic(proto.GenGetBequeath)
	})
	if ObjectID(o.values[0]) != heir.id {
		t.Fatalf("bequeath = %#x, want %s", o.values[0], heir.id)
	}
	if heir.inheritedID != task.id {
		t.Fatalf("inheritedID = %s, want %s", heir.inheritedID, task.id)
	}
	o, _ = runOnce(t, k, func(c *TaskContext) proto.Err {
		return c.Generic(proto.GenSetBequeath, uint32(proto.MakeID(99, proto.TypeTask)))
	})
	if o.result != proto.ErrBadObjectID {
		t.Fatalf("SetBequeath(unknown) = %v, want %v", o.result, proto.ErrBadObjectID)
	}
}

func TestChunkedCopy(t *testing.T) {
	k, _ := newTestKernel(t, Config{CopyChunk: 256})
	mem, _ := k.newSharedMem(1024, 0, SystemOwner(), k.KernelEnvironment())
	mem.size = 0
	payload := bytes.Repeat([]byte("0123456789"), 100)
	task := create(t, k, "copier", 5, &once{fn: func(c *TaskContext) proto.Err {
		return c.CopyTo(mem.id, 0, payload)
	}})
	k.HandleObjectRequest(nil, proto.Start{Task: task.id})
	k.Step()
	if task.copy == nil {
		t.Fatalf("large copy did not park the task")
	}
	k.RunUntilIdle(50)
	o := task.program.(*once)
	if !o.done || o.result != proto.NoErr || o.values[0] != 1000 {
		t.Fatalf("done=%v result=%v copied=%d, want true NoErr 1000", o.done, o.result, o.values[0])
	}
	if !bytes.Equal(mem.Bytes(), payload) {
		t.Fatalf("shared memory holds %d bytes, want the payload", mem.Size())
	}
	if task.stepCount < 4 {
		t.Fatalf("stepCount = %d, want a step per chunk", task.stepCount)
	}
}

func TestCopyAbortsWhenBufferReplaced(t *testing.T) {
	k, _ := newTestKernel(t, Config{CopyChunk: 16})
	mem, _ := k.newSharedMem(256, 0, SystemOwner(), k.KernelEnvironment())
	o := &once{fn: func(c *TaskContext) proto.Err {
		return c.CopyFrom(mem.id, 0, make([]byte, 200))
	}}
	task := spawn(t, k, "reader", 5, o)
	k.Step()
	k.Step()
	if err := k.SetBuffer(proto.NoID, mem.id, make([]byte, 8), 8, 0); err != proto.NoErr {
		t.Fatalf("SetBuffer() = %v", err)
	}
	k.RunUntilIdle(50)
	if o.result != proto.ErrCallAborted {
		t.Fatalf("result = %v, want %v", o.result, proto.ErrCallAborted)
	}
	if o.values[0] == 0 || o.values[0] >= 200 {
		t.Fatalf("copied %d bytes before abort", o.values[0])
	}
	if task.copy != nil {
		t.Fatalf("copy still pending")
	}
}

func TestCopyErrors(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	ro, _ := k.newSharedMem(8, proto.PermReadOnly, SystemOwner(), k.KernelEnvironment())
	small, _ := k.newSharedMem(4, proto.PermNoResizeOnCopy, SystemOwner(), k.KernelEnvironment())
	small.size = 0
	tests := []struct {
		id       ObjectID
		offset   uint32
		n        int
		toShared bool
		done     int
		err      proto.Err
	}{
		{ro.id, 0, 4, true, 0, proto.ErrReadOnly},
		{small.id, 0, 6, true, 4, proto.ErrCopyTruncated},
		{small.id, 9, 1, true, 0, proto.ErrBadParameters},
		{ro.id, 6, 4, false, 2, proto.NoErr},
		{proto.MakeID(50, proto.TypeSharedMem), 0, 1, false, 0, proto.ErrBadObjectID},
	}
	for i, tt := range tests {
		done, err := k.Copy(nil, tt.id, tt.offset, make([]byte, tt.n), tt.toShared)
		if done != tt.done || err != tt.err {
			t.Fatalf("#%d Copy() = %d, %v, want %d, %v", i, done, err, tt.done, tt.err)
		}
	}
	if small.Size() != 0 {
		t.Fatalf("no-resize memory grew to %d", small.Size())
	}
}

func TestPowerOffHalts(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	var got HaltInfo
	k.SetHaltHandler(func(info HaltInfo) { got = info })
	o := &once{fn: func(c *TaskContext) proto.Err { return c.Generic(proto.GenPowerOff) }}
	task := spawn(t, k, "power", 5, o)
	k.RunUntilIdle(10)
	if got.Reason != "power off requested by power" || got.Task != task.id {
		t.Fatalf("halt = %q by %s, want power off by %s", got.Reason, got.Task, task.id)
	}
	if k.Step() {
		t.Fatalf("Step() after halt = true")
	}
}
