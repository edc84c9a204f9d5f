package kernel

import (
	"reflect"
	"testing"

	"newtcore/newtos/proto"
)

func newPortT(t *testing.T, k *Kernel) *Port {
	t.Helper()
	p, err := k.newPort(SystemOwner())
	if err != proto.NoErr {
		t.Fatalf("newPort() = %v", err)
	}
	return p
}

func newMsg(t *testing.T, k *Kernel, size uint32, payload string) *SharedMemMsg {
	t.Helper()
	m, err := k.newSharedMemMsg(size, 0, SystemOwner(), k.KernelEnvironment())
	if err != proto.NoErr {
		t.Fatalf("newSharedMemMsg() = %v", err)
	}
	if payload != "" {
		m.size = 0
		if _, err := k.Copy(nil, m.id, 0, []byte(payload), true); err != proto.NoErr {
			t.Fatalf("Copy() = %v", err)
		}
	}
	return m
}

func TestSendReceiveEitherOrder(t *testing.T) {
	for _, sendFirst := range []bool{true, false} {
		k, _ := newTestKernel(t, Config{})
		p := newPortT(t, k)
		s := newMsg(t, k, 16, "hello")
		r := newMsg(t, k, 16, "")

		send := func() proto.Err { return k.Send(nil, p.id, s.id, SendOpts{Type: 4}) }
		recv := func() proto.Err { return k.Receive(nil, p.id, r.id, ReceiveOpts{Filter: proto.MatchAll}) }
		var first, second proto.Err
		if sendFirst {
			first, second = send(), recv()
		} else {
			first, second = recv(), send()
		}
		if first != proto.NoErr || second != proto.NoErr {
			t.Fatalf("sendFirst=%v: results %v, %v", sendFirst, first, second)
		}
		msgType, size, sender := r.Received()
		if msgType != 4 || size != 5 || sender != s.id {
			t.Fatalf("sendFirst=%v: Received() = %d, %d, %s, want 4, 5, %s", sendFirst, msgType, size, sender, s.id)
		}
		if got := string(r.Bytes()); got != "hello" {
			t.Fatalf("sendFirst=%v: payload %q, want hello", sendFirst, got)
		}
		if s.Status() != MsgCompletedByReceiver || r.Status() != MsgCompletedBySender {
			t.Fatalf("sendFirst=%v: statuses %v, %v", sendFirst, s.Status(), r.Status())
		}
		if senders, receivers := p.Pending(); len(senders) != 0 || len(receivers) != 0 {
			t.Fatalf("sendFirst=%v: port still holds %v %v", sendFirst, senders, receivers)
		}
	}
}

func TestDoublePostFails(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	s := newMsg(t, k, 4, "x")
	if err := k.Send(nil, p.id, s.id, SendOpts{}); err != proto.NoErr {
		t.Fatalf("Send() = %v", err)
	}
	if err := k.Send(nil, p.id, s.id, SendOpts{}); err != proto.ErrAlreadyInProgress {
		t.Fatalf("second Send() = %v, want %v", err, proto.ErrAlreadyInProgress)
	}
	if err := k.Receive(nil, p.id, s.id, ReceiveOpts{}); err != proto.ErrAlreadyInProgress {
		t.Fatalf("Receive() into a posted message = %v, want %v", err, proto.ErrAlreadyInProgress)
	}
}

func TestFilterAndUrgentOrder(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	plain := newMsg(t, k, 4, "a")
	urgent := newMsg(t, k, 4, "b")
	k.Send(nil, p.id, plain.id, SendOpts{Type: 1})
	k.Send(nil, p.id, urgent.id, SendOpts{Type: 2, Flags: proto.PortUrgent})
	if senders, _ := p.Pending(); !reflect.DeepEqual(senders, []ObjectID{urgent.id, plain.id}) {
		t.Fatalf("senders = %v, want urgent first", senders)
	}

	r := newMsg(t, k, 4, "")
	if err := k.Receive(nil, p.id, r.id, ReceiveOpts{Filter: 1}); err != proto.NoErr {
		t.Fatalf("Receive() = %v", err)
	}
	if _, _, sender := r.Received(); sender != plain.id {
		t.Fatalf("filter 1 received from %s, want %s", sender, plain.id)
	}
	r2 := newMsg(t, k, 4, "")
	k.Receive(nil, p.id, r2.id, ReceiveOpts{Filter: 4})
	if _, receivers := p.Pending(); len(receivers) != 1 {
		t.Fatalf("non-matching receiver was not queued")
	}
	if urgent.Status() != MsgInProgress {
		t.Fatalf("urgent Status() = %v, want in-progress", urgent.Status())
	}
}

func TestReceiveTruncates(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	s := newMsg(t, k, 8, "abcdef")
	r := newMsg(t, k, 3, "")
	k.Send(nil, p.id, s.id, SendOpts{})
	if err := k.Receive(nil, p.id, r.id, ReceiveOpts{Filter: proto.MatchAll}); err != proto.ErrCopyTruncated {
		t.Fatalf("Receive() = %v, want %v", err, proto.ErrCopyTruncated)
	}
	if got := string(r.Bytes()); got != "abc" {
		t.Fatalf("payload %q, want abc", got)
	}
}

func TestIsMsgAvailDoesNotTake(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	r := newMsg(t, k, 8, "")
	if err := k.Receive(nil, p.id, r.id, ReceiveOpts{Filter: proto.MatchAll, Flags: proto.PortIsMsgAvail}); err != proto.ErrNoMessageWaiting {
		t.Fatalf("poll on empty port = %v, want %v", err, proto.ErrNoMessageWaiting)
	}
	s := newMsg(t, k, 8, "hi")
	k.Send(nil, p.id, s.id, SendOpts{Type: 2})
	if err := k.Receive(nil, p.id, r.id, ReceiveOpts{Filter: proto.MatchAll, Flags: proto.PortIsMsgAvail}); err != proto.NoErr {
		t.Fatalf("poll = %v", err)
	}
	if senders, _ := p.Pending(); len(senders) != 1 {
		t.Fatalf("poll took the message")
	}
}

func TestIsMsgAvailReportsToTask(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	s := newMsg(t, k, 8, "hey")
	k.Send(nil, p.id, s.id, SendOpts{Type: 7})
	r := newMsg(t, k, 8, "")
	o := &once{fn: func(c *TaskContext) proto.Err {
		return c.Receive(p.id, r.id, ReceiveOpts{Filter: proto.MatchAll, Flags: proto.PortIsMsgAvail})
	}}
	spawn(t, k, "poller", 5, o)
	k.RunUntilIdle(10)
	if !o.done || o.result != proto.NoErr {
		t.Fatalf("done=%v result=%v", o.done, o.result)
	}
	if want := [3]uint32{3, 7, uint32(s.id)}; o.values != want {
		t.Fatalf("values = %v, want %v", o.values, want)
	}
}

func TestSyncSendBlocksUntilReceived(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	s := newMsg(t, k, 8, "ping")
	o := &once{fn: func(c *TaskContext) proto.Err { return c.Send(p.id, s.id, SendOpts{Type: 1}) }}
	task := spawn(t, k, "sender", 5, o)
	k.RunUntilIdle(10)
	if task.State() != TaskBlocked {
		t.Fatalf("State() = %v, want blocked", task.State())
	}
	if senders, _ := p.Pending(); !reflect.DeepEqual(senders, []ObjectID{s.id}) {
		t.Fatalf("senders = %v, want [%s]", senders, s.id)
	}
	r := newMsg(t, k, 8, "")
	k.Receive(nil, p.id, r.id, ReceiveOpts{Filter: proto.MatchAll})
	k.RunUntilIdle(10)
	if !o.done || o.result != proto.NoErr {
		t.Fatalf("done=%v result=%v", o.done, o.result)
	}
	if o.values[0] != 4 {
		t.Fatalf("sent size = %d, want 4", o.values[0])
	}
}

func TestDestroyedSenderLeavesPort(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	s := newMsg(t, k, 8, "ping")
	o := &once{fn: func(c *TaskContext) proto.Err {
		return c.Send(p.id, s.id, SendOpts{Type: 1, Timeout: Second})
	}}
	task := spawn(t, k, "sender", 5, o)
	k.RunUntilIdle(10)
	timers := k.Timers().Len()
	if err := k.Objects().Remove(task.id); err != proto.NoErr {
		t.Fatalf("Remove(sender) = %v", err)
	}
	if senders, _ := p.Pending(); len(senders) != 0 {
		t.Fatalf("senders after destroy = %v, want none", senders)
	}
	if s.Status() != MsgDestroyed || s.Result() != proto.ErrObjectDestroyed {
		t.Fatalf("Status() = %v result %v, want destroyed", s.Status(), s.Result())
	}
	if got := k.Timers().Len(); got != timers-1 {
		t.Fatalf("Timers().Len() = %d, want %d", got, timers-1)
	}
	r := newMsg(t, k, 8, "")
	if err := k.Receive(nil, p.id, r.id, ReceiveOpts{Filter: proto.MatchAll, Flags: proto.PortIsMsgAvail}); err != proto.ErrNoMessageWaiting {
		t.Fatalf("Receive(IsMsgAvail) = %v, want %v", err, proto.ErrNoMessageWaiting)
	}
}

func TestSendTimesOut(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	s := newMsg(t, k, 8, "late")
	o := &once{fn: func(c *TaskContext) proto.Err {
		return c.Send(p.id, s.id, SendOpts{Timeout: 100 * Millisecond})
	}}
	spawn(t, k, "sender", 5, o)
	k.RunUntilIdle(10)
	k.Advance(99 * Millisecond)
	k.RunUntilIdle(10)
	if o.done {
		t.Fatalf("timed out early")
	}
	k.Advance(Millisecond)
	k.RunUntilIdle(10)
	if !o.done || o.result != proto.ErrTimedOut {
		t.Fatalf("done=%v result=%v, want true %v", o.done, o.result, proto.ErrTimedOut)
	}
	if s.Status() != MsgTimedOut {
		t.Fatalf("Status() = %v, want timed-out", s.Status())
	}
	if senders, _ := p.Pending(); len(senders) != 0 {
		t.Fatalf("timed out message still queued: %v", senders)
	}
	if k.Timers().Len() != 0 {
		t.Fatalf("timer left behind")
	}
}

func TestZeroTimeoutWithTimerFailsAtOnce(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	s := newMsg(t, k, 8, "x")
	if err := k.Send(nil, p.id, s.id, SendOpts{Flags: proto.PortWantTimer}); err != proto.ErrTimedOut {
		t.Fatalf("Send() = %v, want %v", err, proto.ErrTimedOut)
	}
	if senders, _ := p.Pending(); len(senders) != 0 {
		t.Fatalf("message queued after immediate timeout")
	}
}

func TestRPCReply(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	s := newMsg(t, k, 8, "ask")
	replyMem, _ := k.newSharedMem(16, 0, SystemOwner(), k.KernelEnvironment())
	o := &once{fn: func(c *TaskContext) proto.Err {
		return c.Send(p.id, s.id, SendOpts{Type: 1, Flags: proto.PortRPC, ReplyMem: replyMem.id})
	}}
	spawn(t, k, "client", 5, o)
	k.RunUntilIdle(10)

	r := newMsg(t, k, 8, "")
	if err := k.Receive(nil, p.id, r.id, ReceiveOpts{Filter: proto.MatchAll}); err != proto.NoErr {
		t.Fatalf("Receive() = %v", err)
	}
	k.RunUntilIdle(10)
	if o.done {
		t.Fatalf("RPC sender completed before the reply")
	}
	answer := newMsg(t, k, 8, "answer")
	if err := k.Reply(s.id, answer.id, proto.NoErr); err != proto.NoErr {
		t.Fatalf("Reply() = %v", err)
	}
	k.RunUntilIdle(10)
	if !o.done || o.result != proto.NoErr {
		t.Fatalf("done=%v result=%v", o.done, o.result)
	}
	if got := string(replyMem.Bytes()); got != "answer" {
		t.Fatalf("reply %q, want answer", got)
	}
	if err := k.Reply(s.id, answer.id, proto.NoErr); err != proto.ErrBadMessage {
		t.Fatalf("second Reply() = %v, want %v", err, proto.ErrBadMessage)
	}
}

func TestCancelAndReset(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	s := newMsg(t, k, 8, "x")
	r := newMsg(t, k, 8, "")
	o := &once{fn: func(c *TaskContext) proto.Err {
		return c.Receive(p.id, r.id, ReceiveOpts{Filter: proto.MatchAll})
	}}
	spawn(t, k, "receiver", 5, o)
	k.RunUntilIdle(10)
	k.Send(nil, p.id, s.id, SendOpts{Type: 1, Flags: proto.PortRPC})
	if err := k.Cancel(proto.NoID, s.id); err != proto.NoErr {
		t.Fatalf("Cancel() = %v", err)
	}
	if s.Status() != MsgAborted {
		t.Fatalf("Status() = %v, want aborted", s.Status())
	}
	if err := k.Cancel(proto.NoID, s.id); err != proto.ErrBadParameters {
		t.Fatalf("Cancel() of idle message = %v, want %v", err, proto.ErrBadParameters)
	}
	k.RunUntilIdle(10)
	if !o.done || o.result != proto.NoErr {
		t.Fatalf("receiver done=%v result=%v", o.done, o.result)
	}

	r2 := newMsg(t, k, 8, "")
	o2 := &once{fn: func(c *TaskContext) proto.Err {
		return c.Receive(p.id, r2.id, ReceiveOpts{Filter: proto.MatchAll})
	}}
	spawn(t, k, "receiver2", 5, o2)
	k.RunUntilIdle(10)
	if err := k.Reset(p.id, proto.ResetNone, proto.ResetAbort); err != proto.NoErr {
		t.Fatalf("Reset() = %v", err)
	}
	k.RunUntilIdle(10)
	if !o2.done || o2.result != proto.ErrCallAborted {
		t.Fatalf("receiver2 done=%v result=%v, want %v", o2.done, o2.result, proto.ErrCallAborted)
	}
}

func TestPortDestroyCompletesQueued(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	s := newMsg(t, k, 8, "x")
	k.Send(nil, p.id, s.id, SendOpts{})
	k.Objects().Remove(p.id)
	if s.Status() != MsgDestroyed || s.Result() != proto.ErrObjectDestroyed {
		t.Fatalf("Status() = %v result %v, want destroyed", s.Status(), s.Result())
	}
}

func TestAsyncNotice(t *testing.T) {
	k, _ := newTestKernel(t, Config{})
	p := newPortT(t, k)
	notices := newPortT(t, k)
	s := newMsg(t, k, 8, "async")
	if err := k.Send(nil, p.id, s.id, SendOpts{Type: 1, Flags: proto.PortAsync, NotifyPort: notices.id}); err != proto.NoErr {
		t.Fatalf("Send() = %v", err)
	}
	r := newMsg(t, k, 8, "")
	k.Receive(nil, p.id, r.id, ReceiveOpts{Filter: proto.MatchAll})

	n := newMsg(t, k, 16, "")
	if err := k.Receive(nil, notices.id, n.id, ReceiveOpts{Filter: proto.NotifyMsgType}); err != proto.NoErr {
		t.Fatalf("Receive(notice) = %v", err)
	}
	msg, result, ok := DecodeNotice(n.Bytes())
	if !ok || msg != s.id || result != proto.NoErr {
		t.Fatalf("DecodeNotice() = %s, %v, %v, want %s, NoErr, true", msg, result, ok, s.id)
	}
	if typ, _, notice := n.Received(); typ != proto.NotifyMsgType || k.Objects().Exists(notice) {
		t.Fatalf("notice type %#x, transient alive=%v", typ, k.Objects().Exists(notice))
	}
	if _, _, ok := DecodeNotice([]byte{1, 2}); ok {
		t.Fatalf("DecodeNotice(short) ok = true")
	}
}
