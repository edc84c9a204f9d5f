package kernel

import "newtcore/newtos/proto"

// ObjectID is a kernel object handle.
type ObjectID = proto.ObjectID

// OwnerKind tags who an object belongs to.
type OwnerKind uint8

const (
	// OwnedBySystem objects are never scavenged.
	OwnedBySystem OwnerKind = iota
	OwnedByTask
	// Orphaned objects are collected by the next scavenge pass.
	Orphaned
)

func (k OwnerKind) String() string {
	switch k {
	case OwnedBySystem:
		return "system"
	case OwnedByTask:
		return "task"
	case Orphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Owner records who may use and destroy an object.
type Owner struct {
	Kind OwnerKind
	Task ObjectID
}

// SystemOwner is the owner of kernel-created objects.
func SystemOwner() Owner { return Owner{Kind: OwnedBySystem} }

// TaskOwner is ownership by task id.
func TaskOwner(id ObjectID) Owner {
	if id == proto.NoID {
		return SystemOwner()
	}
	return Owner{Kind: OwnedByTask, Task: id}
}

func (o Owner) String() string {
	if o.Kind == OwnedByTask {
		return o.Task.String()
	}
	return o.Kind.String()
}

// Object is anything the object table holds.
type Object interface {
	ID() ObjectID
	Owner() Owner
	header() *objectHeader
	// destroy tears down type-specific state. It returns false when the
	// object must stay in the table until a later finalize.
	destroy(k *Kernel) bool
}

type objectHeader struct {
	id       ObjectID
	owner    Owner
	assigned ObjectID
	deleting bool
}

func (h *objectHeader) header() *objectHeader { return h }

// ID returns the object's handle.
func (h *objectHeader) ID() ObjectID { return h.id }

// Owner returns the object's owner.
func (h *objectHeader) Owner() Owner { return h.owner }

// ObjectTable maps ids to objects, hashed by id into a fixed bucket array.
type ObjectTable struct {
	k       *Kernel
	buckets [][]Object
	count   int

	counter     uint32
	counterMask uint32
	wrapped     bool

	cursor int
}

func newObjectTable(k *Kernel, size int, counterBits uint) *ObjectTable {
	return &ObjectTable{
		k:           k,
		buckets:     make([][]Object, size),
		counterMask: 1<<counterBits - 1,
	}
}

func (ot *ObjectTable) bucket(id ObjectID) int { return int(uint32(id) % uint32(len(ot.buckets))) }

// Len reports the number of objects in the table, including ones whose
// deletion is pending.
func (ot *ObjectTable) Len() int { return ot.count }

// newID draws the next id for type t. Once the counter has wrapped, ids
// still held by live objects of any type are skipped.
func (ot *ObjectTable) newID(t proto.ObjectType) ObjectID {
	for tries := uint32(0); tries <= ot.counterMask; tries++ {
		ot.counter = (ot.counter + 1) & ot.counterMask
		if ot.counter == 0 {
			ot.wrapped = true
			continue
		}
		id := proto.MakeID(ot.counter, t)
		if ot.wrapped && ot.lookup(id) != nil {
			continue
		}
		return id
	}
	return proto.NoID
}

// Add assigns obj a fresh id of type t and inserts it.
func (ot *ObjectTable) Add(obj Object, t proto.ObjectType, owner Owner) (ObjectID, proto.Err) {
	id := ot.newID(t)
	if id == proto.NoID {
		return proto.NoID, proto.ErrNoMemory
	}
	h := obj.header()
	h.id = id
	h.owner = owner
	h.assigned = proto.NoID
	h.deleting = false
	b := ot.bucket(id)
	ot.buckets[b] = append(ot.buckets[b], obj)
	ot.count++
	return id, proto.NoErr
}

// lookup finds id including objects whose deletion is pending.
func (ot *ObjectTable) lookup(id ObjectID) Object {
	if id == proto.NoID {
		return nil
	}
	for _, obj := range ot.buckets[ot.bucket(id)] {
		if obj.header().id == id {
			return obj
		}
	}
	return nil
}

// Get returns the live object named id, or nil.
func (ot *ObjectTable) Get(id ObjectID) Object {
	obj := ot.lookup(id)
	if obj == nil || obj.header().deleting {
		return nil
	}
	return obj
}

// Exists reports whether id names a live object.
func (ot *ObjectTable) Exists(id ObjectID) bool { return ot.Get(id) != nil }

// Remove orphans the object and runs its teardown. Objects whose teardown
// is deferred stay findable through lookup until finalize.
func (ot *ObjectTable) Remove(id ObjectID) proto.Err {
	obj := ot.lookup(id)
	if obj == nil {
		return proto.ErrBadObjectID
	}
	h := obj.header()
	if h.deleting {
		return proto.NoErr
	}
	h.deleting = true
	h.owner = Owner{Kind: Orphaned}
	if obj.destroy(ot.k) {
		ot.unlink(id)
	}
	return proto.NoErr
}

// finalize drops an object whose deletion was deferred.
func (ot *ObjectTable) finalize(id ObjectID) {
	obj := ot.lookup(id)
	if obj == nil {
		return
	}
	if obj.destroy(ot.k) {
		ot.unlink(id)
	}
}

func (ot *ObjectTable) unlink(id ObjectID) {
	b := ot.bucket(id)
	chain := ot.buckets[b]
	for i, obj := range chain {
		if obj.header().id == id {
			copy(chain[i:], chain[i+1:])
			chain[len(chain)-1] = nil
			ot.buckets[b] = chain[:len(chain)-1]
			ot.count--
			return
		}
	}
}

func (ot *ObjectTable) collectable(obj Object) bool {
	h := obj.header()
	if h.deleting {
		return false
	}
	switch h.owner.Kind {
	case Orphaned:
		return true
	case OwnedByTask:
		return !ot.Exists(h.owner.Task)
	default:
		return false
	}
}

// Scavenge examines one bucket, removing objects whose owner is gone, and
// returns how many it collected. Successive calls walk the whole table.
func (ot *ObjectTable) Scavenge() int {
	b := ot.cursor
	ot.cursor = (ot.cursor + 1) % len(ot.buckets)
	var dead []ObjectID
	for _, obj := range ot.buckets[b] {
		if ot.collectable(obj) {
			dead = append(dead, obj.header().id)
		}
	}
	for _, id := range dead {
		ot.k.logf("scavenge %s", id)
		ot.Remove(id)
	}
	return len(dead)
}

// ScavengeAll repeats full passes until nothing more is collected, since a
// collected task orphans the objects it owned.
func (ot *ObjectTable) ScavengeAll() int {
	total := 0
	for {
		n := 0
		for range ot.buckets {
			n += ot.Scavenge()
		}
		total += n
		if n == 0 {
			return total
		}
	}
}

// ReassignOwnership moves every object owned by from to to.
func (ot *ObjectTable) ReassignOwnership(from, to ObjectID) int {
	n := 0
	owner := TaskOwner(to)
	ot.Each(func(obj Object) {
		h := obj.header()
		if h.owner.Kind == OwnedByTask && h.owner.Task == from {
			h.owner = owner
			n++
		}
		if h.assigned == from {
			h.assigned = proto.NoID
		}
	})
	return n
}

// Each calls fn for every object, including ones pending deletion.
func (ot *ObjectTable) Each(fn func(Object)) {
	for _, chain := range ot.buckets {
		for _, obj := range chain {
			fn(obj)
		}
	}
}

// Controls reports whether task may use or destroy obj. A NoID task is the
// kernel itself.
func (ot *ObjectTable) Controls(task ObjectID, obj Object) bool {
	if task == proto.NoID {
		return true
	}
	h := obj.header()
	switch h.owner.Kind {
	case OwnedByTask:
		return h.owner.Task == task || h.assigned == task
	default:
		return false
	}
}

// Assign records a pending ownership transfer of id to task to. Only the
// current owner may assign.
func (ot *ObjectTable) Assign(id, by, to ObjectID) proto.Err {
	obj := ot.Get(id)
	if obj == nil {
		return proto.ErrBadObjectID
	}
	h := obj.header()
	if by != proto.NoID && (h.owner.Kind != OwnedByTask || h.owner.Task != by) {
		return proto.ErrObjectNotOwned
	}
	if !ot.Exists(to) {
		return proto.ErrBadObjectID
	}
	h.assigned = to
	return proto.NoErr
}

// AcceptOwnership completes a transfer recorded by Assign.
func (ot *ObjectTable) AcceptOwnership(id, by ObjectID) proto.Err {
	obj := ot.Get(id)
	if obj == nil {
		return proto.ErrBadObjectID
	}
	h := obj.header()
	if h.assigned == proto.NoID || h.assigned != by {
		return proto.ErrObjectNotAssigned
	}
	h.owner = TaskOwner(by)
	h.assigned = proto.NoID
	return proto.NoErr
}

// getAs returns the live object id as a T.
func getAs[T Object](ot *ObjectTable, id ObjectID) (T, proto.Err) {
	var zero T
	obj, ok := ot.Get(id).(T)
	if !ok {
		return zero, proto.ErrBadObjectID
	}
	return obj, proto.NoErr
}
