// Package demo holds small task programs that exercise the kernel: a port
// ping/pong pair, a semaphore producer/consumer pair, a stack grower and a
// sleeper.
package demo

import (
	"fmt"
	"sort"
	"strings"

	"newtcore/newtos/kernel"
	"newtcore/newtos/proto"
)

// Entry point names.
const (
	EntryPing     = "demo.ping"
	EntryPong     = "demo.pong"
	EntryProducer = "demo.producer"
	EntryConsumer = "demo.consumer"
	EntryGrower   = "demo.grower"
	EntrySleeper  = "demo.sleeper"
)

// Register installs the demo programs as task entry points.
func Register(k *kernel.Kernel) {
	k.RegisterProgram(EntryPing, func(a [4]uint32) kernel.Program {
		return &ping{port: kernel.ObjectID(a[0]), rounds: int(a[1])}
	})
	k.RegisterProgram(EntryPong, func(a [4]uint32) kernel.Program {
		return &pong{port: kernel.ObjectID(a[0])}
	})
	k.RegisterProgram(EntryProducer, func(a [4]uint32) kernel.Program {
		return &producer{group: kernel.ObjectID(a[0]), take: kernel.ObjectID(a[1]), give: kernel.ObjectID(a[2]), items: int(a[3])}
	})
	k.RegisterProgram(EntryConsumer, func(a [4]uint32) kernel.Program {
		return &consumer{group: kernel.ObjectID(a[0]), take: kernel.ObjectID(a[1]), give: kernel.ObjectID(a[2]), items: int(a[3])}
	})
	k.RegisterProgram(EntryGrower, func(a [4]uint32) kernel.Program {
		return &grower{depth: a[0]}
	})
	k.RegisterProgram(EntrySleeper, func(a [4]uint32) kernel.Program {
		return &sleeper{period: kernel.Time(a[0]) * kernel.Millisecond, wakes: int(a[1])}
	})
}

// Workload starts a named set of demo tasks.
type Workload func(k *kernel.Kernel) error

var workloads = map[string]Workload{
	"ports":   startPorts,
	"sems":    startSems,
	"stack":   startStack,
	"sleeper": startSleeper,
	"all": func(k *kernel.Kernel) error {
		for _, w := range []Workload{startPorts, startSems, startStack, startSleeper} {
			if err := w(k); err != nil {
				return err
			}
		}
		return nil
	},
}

// Names lists the workload names.
func Names() []string {
	out := make([]string, 0, len(workloads))
	for name := range workloads {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start registers the demo programs and starts workload name.
func Start(k *kernel.Kernel, name string) error {
	w, ok := workloads[name]
	if !ok {
		return fmt.Errorf("unknown demo %q (have %s)", name, strings.Join(Names(), ", "))
	}
	Register(k)
	return w(k)
}

func create(k *kernel.Kernel, req proto.ObjectRequest) (kernel.ObjectID, error) {
	r := k.HandleObjectRequest(nil, req)
	if r.Err != proto.NoErr {
		return proto.NoID, fmt.Errorf("%T: %w", req, r.Err)
	}
	return r.ID, nil
}

func spawn(k *kernel.Kernel, name, entry string, prio int, args [4]uint32) error {
	if _, err := k.Spawn(name, entry, prio, args); err != proto.NoErr {
		return fmt.Errorf("spawn %s: %w", name, err)
	}
	return nil
}

func startPorts(k *kernel.Kernel) error {
	port, err := create(k, proto.CreatePort{})
	if err != nil {
		return err
	}
	if err := spawn(k, "pong", EntryPong, 12, [4]uint32{uint32(port)}); err != nil {
		return err
	}
	return spawn(k, "ping", EntryPing, 10, [4]uint32{uint32(port), 8})
}

func startSems(k *kernel.Kernel) error {
	// Semaphore 0 counts filled slots, 1 counts free slots.
	const slots = 2
	group, err := create(k, proto.CreateSemGroup{Count: 2})
	if err != nil {
		return err
	}
	lists := [][]proto.SemOp{
		{{Num: 1, Op: slots}},
		{{Num: 1, Op: -1}},
		{{Num: 0, Op: 1}},
		{{Num: 0, Op: -1}},
		{{Num: 1, Op: 1}},
	}
	ids := make([]kernel.ObjectID, len(lists))
	for i, ops := range lists {
		if ids[i], err = create(k, proto.CreateSemList{Ops: ops}); err != nil {
			return err
		}
	}
	if err := k.SemOp(group, ids[0], false, nil); err != proto.NoErr {
		return fmt.Errorf("prime slots: %w", err)
	}
	if err := spawn(k, "consumer", EntryConsumer, 8, [4]uint32{uint32(group), uint32(ids[3]), uint32(ids[4]), 6}); err != nil {
		return err
	}
	return spawn(k, "producer", EntryProducer, 8, [4]uint32{uint32(group), uint32(ids[1]), uint32(ids[2]), 6})
}

func startStack(k *kernel.Kernel) error {
	return spawn(k, "grower", EntryGrower, 6, [4]uint32{6 << 10})
}

func startSleeper(k *kernel.Kernel) error {
	return spawn(k, "sleeper", EntrySleeper, 4, [4]uint32{250, 4})
}

// pending tracks one kernel call that may park the task.
type pending struct{ issued bool }

// do issues fn on first use. It reports ready=false while the task is
// parked; once resumed it returns the result left in R0.
func (p *pending) do(c *kernel.TaskContext, fn func() proto.Err) (err proto.Err, ready bool) {
	if p.issued {
		p.issued = false
		return c.Result(), true
	}
	if err := fn(); err != proto.Suspended {
		return err, true
	}
	p.issued = true
	return proto.NoErr, false
}
