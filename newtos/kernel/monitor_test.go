package kernel

import (
	"strings"
	"testing"

	"newtcore/newtos/proto"
)

func newAdder(t *testing.T, k *Kernel, prio int) *Monitor {
	t.Helper()
	k.RegisterMonitorProc("test.adder", func(call *MonitorCall) proto.Err {
		call.Values = [3]uint32{call.Selector + call.Context, uint32(call.Caller)}
		return proto.NoErr
	})
	r := k.HandleObjectRequest(nil, proto.CreateMonitor{Name: "adder", Entry: "test.adder", Priority: prio})
	if r.Err != proto.NoErr {
		t.Fatalf("CreateMonitor() = %v", r.Err)
	}
	return k.Lookup(r.ID).(*Monitor)
}

func adderCall(m *Monitor, a, b uint32) *once {
	return &once{fn: func(c *TaskContext) proto.Err { return c.MonitorCall(m.id, a, b, nil) }}
}

func TestMonitorCallReturnsValues(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	m := newAdder(t, k, 20)
	o := adderCall(m, 3, 4)
	task := spawn(t, k, "caller", 5, o)
	k.RunUntilIdle(20)
	if !o.done || o.result != proto.NoErr {
		t.Fatalf("done=%v result=%v", o.done, o.result)
	}
	if o.values[0] != 7 || ObjectID(o.values[1]) != task.id {
		t.Fatalf("values = %v, want [7 %d ...]", o.values, task.id)
	}
	if m.Queued() != 0 || m.Caller() != proto.NoID {
		t.Fatalf("monitor not idle: queued=%d caller=%s", m.Queued(), m.Caller())
	}
	if mt := k.Task(m.Task()); mt.State() != TaskBlocked {
		t.Fatalf("monitor task State() = %v, want blocked", mt.State())
	}
}

func TestMonitorSerializesCallers(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	m := newAdder(t, k, 1)
	first, second := adderCall(m, 1, 1), adderCall(m, 2, 2)
	a := spawn(t, k, "a", 5, first)
	spawn(t, k, "b", 5, second)
	k.Step()
	k.Step()
	if m.Queued() != 2 || m.Caller() != a.id {
		t.Fatalf("Queued() = %d Caller() = %s, want 2 %s", m.Queued(), m.Caller(), a.id)
	}
	k.RunUntilIdle(50)
	if first.values[0] != 2 || second.values[0] != 4 {
		t.Fatalf("results %d, %d, want 2, 4", first.values[0], second.values[0])
	}
}

func TestMonitorDestroyFlushesCallers(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	m := newAdder(t, k, 1)
	first, second := adderCall(m, 1, 1), adderCall(m, 2, 2)
	spawn(t, k, "a", 5, first)
	spawn(t, k, "b", 5, second)
	k.Step()
	k.Step()

	monTask := m.Task()
	k.Objects().Remove(m.id)
	k.RunUntilIdle(50)
	for i, o := range []*once{first, second} {
		if !o.done || o.result != proto.ErrNoSuchMonitor {
			t.Fatalf("caller %d done=%v result=%v, want %v", i, o.done, o.result, proto.ErrNoSuchMonitor)
		}
	}
	if k.Objects().Exists(monTask) {
		t.Fatalf("monitor task survived its monitor")
	}

	late := adderCall(m, 0, 0)
	spawn(t, k, "late", 5, late)
	k.RunUntilIdle(10)
	if late.result != proto.ErrNoSuchMonitor {
		t.Fatalf("call to destroyed monitor = %v, want %v", late.result, proto.ErrNoSuchMonitor)
	}
}

func TestCallerDeletedInsideMonitor(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	m := newAdder(t, k, 1)
	o := adderCall(m, 1, 2)
	task := spawn(t, k, "doomed", 5, o)
	k.Step()
	if m.Caller() != task.id {
		t.Fatalf("Caller() = %s, want %s", m.Caller(), task.id)
	}
	k.Objects().Remove(task.id)
	if k.Objects().Exists(task.id) {
		t.Fatalf("task still live after Remove")
	}
	if task.State() == TaskTerminated {
		t.Fatalf("task torn down while inside the monitor")
	}
	k.RunUntilIdle(20)
	if task.State() != TaskTerminated {
		t.Fatalf("State() = %v after monitor release, want terminated", task.State())
	}
	if k.Objects().lookup(task.id) != nil {
		t.Fatalf("task still in the table after finalize")
	}
	if o.done {
		t.Fatalf("deleted task resumed")
	}
}

func TestMonitorPanicHalts(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	k.RegisterMonitorProc("test.bad", func(*MonitorCall) proto.Err { panic("monitor broke") })
	r := k.HandleObjectRequest(nil, proto.CreateMonitor{Name: "bad", Entry: "test.bad", Priority: 20})
	if r.Err != proto.NoErr {
		t.Fatalf("CreateMonitor() = %v", r.Err)
	}
	o := &once{fn: func(c *TaskContext) proto.Err { return c.MonitorCall(r.ID, 0, 0, nil) }}
	spawn(t, k, "caller", 5, o)
	k.RunUntilIdle(20)
	info, halted := k.Halted()
	if !halted || !strings.Contains(info.Reason, "panic in monitor task bad") {
		t.Fatalf("Halted() = %q, %v", info.Reason, halted)
	}
	if info.Value != "monitor broke" {
		t.Fatalf("Value = %v, want monitor broke", info.Value)
	}
}

func TestObjectManagerFromTask(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	var reply proto.ObjectReply
	o := &once{
		fn:    func(c *TaskContext) proto.Err { return c.Object(proto.CreateSemGroup{Count: 2}) },
		after: func(c *TaskContext) { reply = c.ObjectReply() },
	}
	task := spawn(t, k, "maker", 5, o)
	k.RunUntilIdle(20)
	if o.result != proto.NoErr || reply.Err != proto.NoErr {
		t.Fatalf("CreateSemGroup = %v / %v", o.result, reply.Err)
	}
	if ObjectID(o.values[0]) != reply.ID || reply.ID.Type() != proto.TypeSemGroup {
		t.Fatalf("R1 = %#x, reply id %s", o.values[0], reply.ID)
	}
	obj := k.Lookup(reply.ID)
	if obj == nil {
		t.Fatalf("created group %s not live", reply.ID)
	}
	if got := obj.Owner(); got.Kind != OwnedByTask || got.Task != task.id {
		t.Fatalf("Owner() = %v, want task %s", got, task.id)
	}
	k.Objects().ScavengeAll()
	if k.Lookup(reply.ID) != nil {
		t.Fatalf("group %s survived its owner's exit", reply.ID)
	}
}

func TestObjectManagerRejectsBadRequest(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	o := &once{fn: func(c *TaskContext) proto.Err { return c.Object(proto.CreateSemGroup{Count: 0}) }}
	spawn(t, k, "maker", 5, o)
	k.RunUntilIdle(20)
	if o.result != proto.ErrBadParameters {
		t.Fatalf("result = %v, want %v", o.result, proto.ErrBadParameters)
	}
}
