package kernel

import (
	"encoding/binary"

	"newtcore/newtos/proto"
)

// MsgStatus is the life-cycle state of a SharedMemMsg posting.
type MsgStatus uint8

const (
	MsgIdle MsgStatus = iota
	MsgInProgress
	MsgCompletedBySender
	MsgCompletedByReceiver
	MsgTimedOut
	MsgAborted
	MsgDestroyed
)

func (s MsgStatus) String() string {
	switch s {
	case MsgIdle:
		return "idle"
	case MsgInProgress:
		return "in-progress"
	case MsgCompletedBySender:
		return "completed-by-sender"
	case MsgCompletedByReceiver:
		return "completed-by-receiver"
	case MsgTimedOut:
		return "timed-out"
	case MsgAborted:
		return "aborted"
	case MsgDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Message direction and mode bits.
const (
	msgSend uint8 = 1 << iota
	msgReceive
	msgCollector
	msgRPC
	msgAsync
)

type notifyKind uint8

const (
	notifyNone notifyKind = iota
	notifyTask
	notifyPort
)

type notifyTarget struct {
	kind notifyKind
	id   ObjectID
}

// SharedMemMsg is shared memory that can be posted to a port.
type SharedMemMsg struct {
	SharedMem

	status    MsgStatus
	fType     uint8
	msgType   uint32 // type when sending, filter when receiving
	urgent    bool
	timeout   Time
	expiry    Time
	notify    notifyTarget
	signature uint32

	port     ObjectID
	peer     ObjectID
	replyMem ObjectID

	result proto.Err
	rxType uint32
	rxSize uint32

	// transient messages are kernel notices, destroyed once delivered.
	transient bool
}

// Status returns the posting state.
func (m *SharedMemMsg) Status() MsgStatus { return m.status }

// Result returns the outcome of the last completed posting.
func (m *SharedMemMsg) Result() proto.Err { return m.result }

// Received returns the type, size and sender of the last message received
// into m.
func (m *SharedMemMsg) Received() (msgType, size uint32, sender ObjectID) {
	return m.rxType, m.rxSize, m.peer
}

func (k *Kernel) newSharedMemMsg(size, perms uint32, owner Owner, env ObjectID) (*SharedMemMsg, proto.Err) {
	m := &SharedMemMsg{SharedMem: SharedMem{buf: make([]byte, size), size: size, perms: perms, env: env}}
	if _, err := k.objects.Add(m, proto.TypeSharedMemMsg, owner); err != proto.NoErr {
		return nil, err
	}
	return m, proto.NoErr
}

func (m *SharedMemMsg) destroy(k *Kernel) bool {
	if m.status == MsgInProgress {
		k.completeMsg(m, proto.ErrObjectDestroyed)
	}
	m.gen++
	return true
}

// Port pairs senders with receivers.
type Port struct {
	objectHeader
	senders   []ObjectID
	receivers []ObjectID
}

// Pending returns the queued sender and receiver message ids.
func (p *Port) Pending() (senders, receivers []ObjectID) {
	return append([]ObjectID(nil), p.senders...), append([]ObjectID(nil), p.receivers...)
}

func (k *Kernel) newPort(owner Owner) (*Port, proto.Err) {
	p := &Port{}
	if _, err := k.objects.Add(p, proto.TypePort, owner); err != proto.NoErr {
		return nil, err
	}
	return p, proto.NoErr
}

func (p *Port) destroy(k *Kernel) bool {
	k.resetPort(p, proto.ErrObjectDestroyed, proto.ErrObjectDestroyed)
	return true
}

// SendOpts are the per-call parameters of Send.
type SendOpts struct {
	Type       uint32
	Flags      uint32
	Timeout    Time
	ReplyMem   ObjectID
	NotifyPort ObjectID
}

// ReceiveOpts are the per-call parameters of Receive.
type ReceiveOpts struct {
	Filter     uint32
	Flags      uint32
	Timeout    Time
	NotifyPort ObjectID
}

func filterMatch(filter, msgType uint32) bool {
	return filter == proto.MatchAll || filter&msgType != 0
}

// post moves msg to InProgress and starts its timer. It fails on a message
// that is already posted.
func (k *Kernel) post(msg *SharedMemMsg, t *Task, fType uint8, flags uint32, timeout Time, notifyPortID ObjectID) proto.Err {
	if msg.status == MsgInProgress {
		return proto.ErrAlreadyInProgress
	}
	msg.status = MsgInProgress
	msg.fType = fType
	msg.urgent = flags&proto.PortUrgent != 0
	msg.signature++
	msg.result = proto.NoErr
	msg.peer = proto.NoID
	msg.port = proto.NoID
	switch {
	case fType&msgAsync != 0 && notifyPortID != proto.NoID:
		msg.notify = notifyTarget{kind: notifyPort, id: notifyPortID}
	case fType&msgAsync != 0 || t == nil:
		msg.notify = notifyTarget{}
	default:
		msg.notify = notifyTarget{kind: notifyTask, id: t.id}
	}
	msg.timeout = timeout
	if timeout == 0 && flags&proto.PortWantTimer == 0 {
		return proto.NoErr
	}
	msg.expiry = k.clock.Now() + timeout
	if timeout == 0 {
		k.completeMsg(msg, proto.ErrTimedOut)
		return proto.ErrTimedOut
	}
	k.timers.add(&timerEntry{
		when: msg.expiry,
		key:  msg.id,
		sig:  msg.signature,
		fire: func(k *Kernel, e *timerEntry) {
			m, ok := k.objects.Get(e.key).(*SharedMemMsg)
			if ok && m.status == MsgInProgress && m.signature == e.sig {
				k.completeMsg(m, proto.ErrTimedOut)
			}
		},
	})
	if msg.status != MsgInProgress {
		return msg.result
	}
	return proto.NoErr
}

// Send posts msg on port. A waiting receiver whose filter accepts the type
// is paired at once; otherwise msg waits in the sender queue, in front if
// urgent. A synchronous send parks t until the message completes and
// reports proto.Suspended; an asynchronous one returns once posted.
func (k *Kernel) Send(t *Task, portID, msgID ObjectID, opts SendOpts) proto.Err {
	port, err := getAs[*Port](k.objects, portID)
	if err != proto.NoErr {
		return err
	}
	msg, err := getAs[*SharedMemMsg](k.objects, msgID)
	if err != proto.NoErr {
		return err
	}
	if opts.ReplyMem != proto.NoID {
		if _, _, err := k.sharedMem(opts.ReplyMem); err != proto.NoErr {
			return err
		}
	}
	k.ints.EnterFIQAtomic()
	defer k.ints.ExitFIQAtomic()

	fType := msgSend
	if opts.Flags&proto.PortRPC != 0 {
		fType |= msgRPC
	}
	if opts.Flags&proto.PortAsync != 0 {
		fType |= msgAsync
	}
	if err := k.post(msg, t, fType, opts.Flags, opts.Timeout, opts.NotifyPort); err != proto.NoErr {
		return err
	}
	msg.msgType = opts.Type
	msg.replyMem = opts.ReplyMem

	for i, rid := range port.receivers {
		r, ok := k.objects.Get(rid).(*SharedMemMsg)
		if !ok || !filterMatch(r.msgType, msg.msgType) {
			continue
		}
		port.receivers = append(port.receivers[:i], port.receivers[i+1:]...)
		r.port = proto.NoID
		k.deliver(msg, r)
		break
	}
	if msg.status == MsgInProgress && msg.peer == proto.NoID {
		k.enqueue(&port.senders, msg)
		msg.port = port.id
	}
	return k.settle(t, msg)
}

// Receive posts msg as a receiver on port, pairing it with the first
// queued sender whose type passes the filter. With PortIsMsgAvail it only
// polls: a match is described in the result registers but not taken, and
// nothing is queued.
func (k *Kernel) Receive(t *Task, portID, msgID ObjectID, opts ReceiveOpts) proto.Err {
	port, err := getAs[*Port](k.objects, portID)
	if err != proto.NoErr {
		return err
	}
	msg, err := getAs[*SharedMemMsg](k.objects, msgID)
	if err != proto.NoErr {
		return err
	}
	k.ints.EnterFIQAtomic()
	defer k.ints.ExitFIQAtomic()

	if opts.Flags&proto.PortIsMsgAvail != 0 {
		if msg.status == MsgInProgress {
			return proto.ErrAlreadyInProgress
		}
		for _, sid := range port.senders {
			s, ok := k.objects.Get(sid).(*SharedMemMsg)
			if ok && filterMatch(opts.Filter, s.msgType) {
				if t != nil {
					t.setResult(proto.NoErr, s.size, s.msgType, uint32(s.id))
				}
				return proto.NoErr
			}
		}
		return proto.ErrNoMessageWaiting
	}

	fType := msgReceive | msgCollector
	if opts.Flags&proto.PortAsync != 0 {
		fType |= msgAsync
	}
	if err := k.post(msg, t, fType, opts.Flags, opts.Timeout, opts.NotifyPort); err != proto.NoErr {
		return err
	}
	msg.msgType = opts.Filter

	for i, sid := range port.senders {
		s, ok := k.objects.Get(sid).(*SharedMemMsg)
		if !ok || !filterMatch(msg.msgType, s.msgType) {
			continue
		}
		port.senders = append(port.senders[:i], port.senders[i+1:]...)
		s.port = proto.NoID
		k.deliver(s, msg)
		break
	}
	if msg.status == MsgInProgress {
		k.enqueue(&port.receivers, msg)
		msg.port = port.id
	}
	return k.settle(t, msg)
}

func (k *Kernel) enqueue(q *[]ObjectID, msg *SharedMemMsg) {
	if msg.urgent {
		*q = append([]ObjectID{msg.id}, *q...)
		return
	}
	*q = append(*q, msg.id)
}

// settle finishes a Send or Receive call: a message that completed during
// the call returns its result directly, a synchronous one still in flight
// parks t.
func (k *Kernel) settle(t *Task, msg *SharedMemMsg) proto.Err {
	if msg.status != MsgInProgress {
		if t != nil {
			t.setResult(msg.result, msg.rxSize, msg.rxType, uint32(msg.peer))
		}
		return msg.result
	}
	if msg.notify.kind != notifyTask || t == nil {
		return proto.NoErr
	}
	k.block(t)
	t.waitMsg = msg.id
	t.waitSig = msg.signature
	return proto.Suspended
}

// deliver pairs sender s with receiver r: the payload is copied into r's
// buffer and r completes. A plain send completes too; an RPC send stays in
// progress until Reply.
func (k *Kernel) deliver(s, r *SharedMemMsg) {
	n := copy(r.buf, s.buf[:s.size])
	r.size = uint32(n)
	r.rxSize = uint32(n)
	r.rxType = s.msgType
	r.peer = s.id
	r.replyMem = s.replyMem
	s.peer = r.id
	s.rxSize = uint32(n)
	rerr := proto.NoErr
	if n < int(s.size) {
		rerr = proto.ErrCopyTruncated
	}
	k.completeMsg(r, rerr)
	if s.fType&msgRPC == 0 {
		k.completeMsg(s, proto.NoErr)
	}
}

// Reply answers an RPC send: data from mem (if any) is copied into the
// sender's reply memory and the sender completes with result.
func (k *Kernel) Reply(senderID, memID ObjectID, result proto.Err) proto.Err {
	s, err := getAs[*SharedMemMsg](k.objects, senderID)
	if err != proto.NoErr {
		return err
	}
	if s.status != MsgInProgress || s.fType&msgRPC == 0 || s.peer == proto.NoID {
		return proto.ErrBadMessage
	}
	k.ints.EnterFIQAtomic()
	defer k.ints.ExitFIQAtomic()
	s.rxSize = 0
	if memID != proto.NoID {
		src, _, err := k.sharedMem(memID)
		if err != proto.NoErr {
			return err
		}
		if s.replyMem != proto.NoID {
			dst, _, err := k.sharedMem(s.replyMem)
			if err != proto.NoErr {
				k.completeMsg(s, proto.ErrObjectDestroyed)
				return err
			}
			n := copy(dst.buf, src.buf[:src.size])
			dst.size = uint32(n)
			s.rxSize = uint32(n)
			if n < int(src.size) && result == proto.NoErr {
				result = proto.ErrCopyTruncated
			}
		}
	}
	k.completeMsg(s, result)
	return proto.NoErr
}

// Cancel aborts a posted message.
func (k *Kernel) Cancel(caller, msgID ObjectID) proto.Err {
	msg, err := getAs[*SharedMemMsg](k.objects, msgID)
	if err != proto.NoErr {
		return err
	}
	if !k.objects.Controls(caller, msg) {
		return proto.ErrObjectNotOwned
	}
	if msg.status != MsgInProgress {
		return proto.ErrBadParameters
	}
	k.completeMsg(msg, proto.ErrCallAborted)
	return proto.NoErr
}

func resetErr(action uint32) proto.Err {
	switch action {
	case proto.ResetAbort:
		return proto.ErrCallAborted
	case proto.ResetTimeout:
		return proto.ErrTimedOut
	default:
		return proto.NoErr
	}
}

// Reset drains the port, completing each queued sender and receiver with
// the result chosen for its direction. ResetNone leaves a direction alone.
func (k *Kernel) Reset(portID ObjectID, senderAction, receiverAction uint32) proto.Err {
	port, err := getAs[*Port](k.objects, portID)
	if err != proto.NoErr {
		return err
	}
	k.resetPort(port, resetErr(senderAction), resetErr(receiverAction))
	return proto.NoErr
}

func (k *Kernel) resetPort(port *Port, senderErr, receiverErr proto.Err) {
	k.ints.EnterFIQAtomic()
	defer k.ints.ExitFIQAtomic()
	drainQ := func(q *[]ObjectID, err proto.Err) {
		if err == proto.NoErr {
			return
		}
		ids := *q
		*q = nil
		for _, id := range ids {
			if m, ok := k.objects.lookup(id).(*SharedMemMsg); ok {
				m.port = proto.NoID
				k.completeMsg(m, err)
			}
		}
	}
	drainQ(&port.senders, senderErr)
	drainQ(&port.receivers, receiverErr)
}

// completeMsg ends msg's posting with err. It is the one place a posting
// ends: the timer is cancelled, the message leaves its port queue, copies
// tied to it abort, and the notify target hears the outcome.
func (k *Kernel) completeMsg(msg *SharedMemMsg, err proto.Err) {
	k.ints.EnterFIQAtomic()
	defer k.ints.ExitFIQAtomic()
	if msg.status != MsgInProgress {
		return
	}
	if msg.timeout != 0 || msg.expiry != 0 {
		k.timers.remove(msg.id)
		msg.expiry = 0
	}
	if msg.port != proto.NoID {
		if port, ok := k.objects.lookup(msg.port).(*Port); ok {
			port.senders = removeID(port.senders, msg.id)
			port.receivers = removeID(port.receivers, msg.id)
		}
		msg.port = proto.NoID
	}
	msg.gen++
	msg.result = err
	switch err {
	case proto.ErrTimedOut:
		msg.status = MsgTimedOut
	case proto.ErrCallAborted:
		msg.status = MsgAborted
	case proto.ErrObjectDestroyed:
		msg.status = MsgDestroyed
	default:
		if msg.fType&msgSend != 0 {
			msg.status = MsgCompletedByReceiver
		} else {
			msg.status = MsgCompletedBySender
		}
	}

	switch msg.notify.kind {
	case notifyTask:
		if t := k.task(msg.notify.id); t != nil && t.waitMsg == msg.id && t.waitSig == msg.signature {
			t.waitMsg = proto.NoID
			t.setResult(err, msg.rxSize, msg.rxType, uint32(msg.peer))
			k.wake(t)
		}
	case notifyPort:
		portID, id := msg.notify.id, msg.id
		k.ints.deferUntilExit(func() { k.postNotice(portID, id, err) })
	}
	if msg.transient && msg.fType&msgSend != 0 {
		k.ints.deferUntilExit(func() { k.objects.Remove(msg.id) })
	}
}

// postNotice sends a completion notice for msg through port.
func (k *Kernel) postNotice(portID, msgID ObjectID, result proto.Err) {
	if !k.objects.Exists(portID) {
		return
	}
	n, err := k.newSharedMemMsg(8, proto.PermReadOnly, SystemOwner(), k.kernelEnv)
	if err != proto.NoErr {
		k.logf("notice for %s dropped: %s", msgID, err)
		return
	}
	n.transient = true
	binary.LittleEndian.PutUint32(n.buf[0:4], uint32(msgID))
	binary.LittleEndian.PutUint32(n.buf[4:8], uint32(int32(result)))
	if err := k.Send(nil, portID, n.id, SendOpts{Type: proto.NotifyMsgType, Flags: proto.PortAsync}); err != proto.NoErr {
		k.objects.Remove(n.id)
	}
}

// DecodeNotice unpacks a completion notice payload.
func DecodeNotice(p []byte) (msg ObjectID, result proto.Err, ok bool) {
	if len(p) < 8 {
		return proto.NoID, proto.NoErr, false
	}
	return ObjectID(binary.LittleEndian.Uint32(p[0:4])), proto.Err(int32(binary.LittleEndian.Uint32(p[4:8]))), true
}

func removeID(ids []ObjectID, id ObjectID) []ObjectID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
