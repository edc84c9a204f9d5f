package kernel

import "newtcore/newtos/proto"

// SharedMem describes a buffer other tasks may copy into and out of.
type SharedMem struct {
	objectHeader
	buf   []byte
	size  uint32
	perms uint32
	env   ObjectID

	// gen changes whenever the buffer is replaced or the object dies, which
	// aborts copies started against the old buffer.
	gen uint32
}

// Size returns the logical size.
func (m *SharedMem) Size() uint32 { return m.size }

// Allocated returns the buffer capacity.
func (m *SharedMem) Allocated() uint32 { return uint32(len(m.buf)) }

// Bytes returns the logical contents.
func (m *SharedMem) Bytes() []byte { return m.buf[:m.size] }

// Perms returns the permission flags.
func (m *SharedMem) Perms() uint32 { return m.perms }

func (m *SharedMem) destroy(*Kernel) bool {
	m.gen++
	return true
}

func (k *Kernel) newSharedMem(size, perms uint32, owner Owner, env ObjectID) (*SharedMem, proto.Err) {
	m := &SharedMem{buf: make([]byte, size), size: size, perms: perms, env: env}
	if _, err := k.objects.Add(m, proto.TypeSharedMem, owner); err != proto.NoErr {
		return nil, err
	}
	return m, proto.NoErr
}

// sharedMem resolves id to the memory of a SharedMem or a SharedMemMsg.
func (k *Kernel) sharedMem(id ObjectID) (*SharedMem, *SharedMemMsg, proto.Err) {
	switch obj := k.objects.Get(id).(type) {
	case *SharedMem:
		return obj, nil, proto.NoErr
	case *SharedMemMsg:
		return &obj.SharedMem, obj, proto.NoErr
	default:
		return nil, nil, proto.ErrBadObjectID
	}
}

// SetBuffer points a shared memory object at buf with logical size size.
func (k *Kernel) SetBuffer(caller ObjectID, id ObjectID, buf []byte, size, perms uint32) proto.Err {
	m, msg, err := k.sharedMem(id)
	if err != proto.NoErr {
		return err
	}
	if !k.objects.Controls(caller, k.objects.Get(id)) {
		return proto.ErrObjectNotOwned
	}
	if msg != nil && msg.status == MsgInProgress {
		return proto.ErrAlreadyInProgress
	}
	if int(size) > len(buf) || perms&(proto.PermReadOnly|proto.PermReadWrite) == proto.PermReadOnly|proto.PermReadWrite {
		return proto.ErrBadParameters
	}
	m.buf = buf
	m.size = size
	m.perms = perms
	m.gen++
	return proto.NoErr
}

// GetSize returns the logical size, the capacity and, for messages, the
// message status.
func (k *Kernel) GetSize(id ObjectID) (size, allocated uint32, status MsgStatus, err proto.Err) {
	m, msg, err := k.sharedMem(id)
	if err != proto.NoErr {
		return 0, 0, 0, err
	}
	if msg != nil {
		status = msg.status
	}
	return m.size, uint32(len(m.buf)), status, proto.NoErr
}

// copyOp is a copy between a task buffer and shared memory, carried out in
// CopyChunk pieces over successive steps of the copying task.
type copyOp struct {
	mem      ObjectID
	gen      uint32
	offset   uint32
	buf      []byte
	done     int
	toShared bool
	final    proto.Err
}

// Copy moves bytes between buf and shared memory id at offset. A copy
// larger than one chunk keeps t busy: each later step of t moves one more
// chunk instead of running its program, and R0/R1 receive the outcome and
// byte count when the copy ends. The call then reports proto.Suspended.
func (k *Kernel) Copy(t *Task, id ObjectID, offset uint32, buf []byte, toShared bool) (int, proto.Err) {
	m, _, err := k.sharedMem(id)
	if err != proto.NoErr {
		return 0, err
	}
	op := &copyOp{mem: id, gen: m.gen, offset: offset, toShared: toShared, final: proto.NoErr}
	if toShared {
		if m.perms&proto.PermReadOnly != 0 {
			return 0, proto.ErrReadOnly
		}
		if offset > uint32(len(m.buf)) {
			return 0, proto.ErrBadParameters
		}
		room := uint32(len(m.buf)) - offset
		if uint32(len(buf)) > room {
			buf = buf[:room]
			op.final = proto.ErrCopyTruncated
		}
	} else {
		if offset > m.size {
			return 0, proto.ErrBadParameters
		}
		if avail := m.size - offset; uint32(len(buf)) > avail {
			buf = buf[:avail]
		}
	}
	op.buf = buf
	if t == nil || len(buf) <= k.cfg.CopyChunk {
		for op.done < len(op.buf) {
			if err := k.copyChunk(op); err != proto.NoErr {
				return op.done, err
			}
		}
		return op.done, op.final
	}
	t.copy = op
	return 0, proto.Suspended
}

// copyChunk moves one chunk, aborting if the object died or its buffer was
// replaced since the copy began.
func (k *Kernel) copyChunk(op *copyOp) proto.Err {
	m, _, err := k.sharedMem(op.mem)
	if err != proto.NoErr {
		return proto.ErrObjectDestroyed
	}
	if m.gen != op.gen {
		return proto.ErrCallAborted
	}
	n := min(k.cfg.CopyChunk, len(op.buf)-op.done)
	off := int(op.offset) + op.done
	if op.toShared {
		copy(m.buf[off:off+n], op.buf[op.done:op.done+n])
		if end := uint32(off + n); end > m.size && m.perms&proto.PermNoResizeOnCopy == 0 {
			m.size = end
		}
	} else {
		copy(op.buf[op.done:op.done+n], m.buf[off:off+n])
	}
	op.done += n
	return proto.NoErr
}

// stepCopy advances t's copy by one chunk in place of running its program.
func (k *Kernel) stepCopy(t *Task) {
	op := t.copy
	if err := k.copyChunk(op); err != proto.NoErr {
		t.copy = nil
		k.logf("task %s copy %s aborted at %d/%d: %s", t.id, op.mem, op.done, len(op.buf), err)
		t.setResult(err, uint32(op.done), 0, 0)
		return
	}
	if op.done == len(op.buf) {
		t.copy = nil
		t.setResult(op.final, uint32(op.done), 0, 0)
	}
}
