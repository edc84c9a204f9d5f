package kernel

import "newtcore/newtos/proto"

// taskQueue is a FIFO of tasks linked by id. The links live in the tasks
// themselves (one scheduler link, one wait link), so a task can be pulled
// out of the middle in constant time once it is resolved.
type taskQueue struct {
	head, tail ObjectID
	count      int
}

type queueLink struct {
	q          *taskQueue
	prev, next ObjectID
}

type linkSel func(*Task) *queueLink

func schedLink(t *Task) *queueLink { return &t.schedLink }
func waitLink(t *Task) *queueLink  { return &t.waitLink }

// Len reports the number of queued tasks.
func (q *taskQueue) Len() int { return q.count }

func (k *Kernel) task(id ObjectID) *Task {
	if t, ok := k.objects.lookup(id).(*Task); ok {
		return t
	}
	return nil
}

// pushBack appends t; a task already linked through sel is left alone.
func (k *Kernel) pushBack(q *taskQueue, t *Task, sel linkSel) {
	l := sel(t)
	if l.q != nil {
		return
	}
	l.q, l.prev, l.next = q, q.tail, proto.NoID
	if q.tail != proto.NoID {
		sel(k.task(q.tail)).next = t.id
	} else {
		q.head = t.id
	}
	q.tail = t.id
	q.count++
}

// pushFront prepends t.
func (k *Kernel) pushFront(q *taskQueue, t *Task, sel linkSel) {
	l := sel(t)
	if l.q != nil {
		return
	}
	l.q, l.prev, l.next = q, proto.NoID, q.head
	if q.head != proto.NoID {
		sel(k.task(q.head)).prev = t.id
	} else {
		q.tail = t.id
	}
	q.head = t.id
	q.count++
}

// unlinkTask removes t from whatever queue sel links it into.
func (k *Kernel) unlinkTask(t *Task, sel linkSel) {
	l := sel(t)
	q := l.q
	if q == nil {
		return
	}
	if l.prev != proto.NoID {
		sel(k.task(l.prev)).next = l.next
	} else {
		q.head = l.next
	}
	if l.next != proto.NoID {
		sel(k.task(l.next)).prev = l.prev
	} else {
		q.tail = l.prev
	}
	*l = queueLink{}
	q.count--
}

// popFront removes and returns the first task, or nil.
func (k *Kernel) popFront(q *taskQueue, sel linkSel) *Task {
	if q.head == proto.NoID {
		return nil
	}
	t := k.task(q.head)
	k.unlinkTask(t, sel)
	return t
}

// drain removes every task in queue order.
func (k *Kernel) drain(q *taskQueue, sel linkSel) []*Task {
	var out []*Task
	for t := k.popFront(q, sel); t != nil; t = k.popFront(q, sel) {
		out = append(out, t)
	}
	return out
}

// queued returns the ids in queue order without removing them.
func (k *Kernel) queued(q *taskQueue, sel linkSel) []ObjectID {
	var out []ObjectID
	for id := q.head; id != proto.NoID; id = sel(k.task(id)).next {
		out = append(out, id)
	}
	return out
}
