package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"newtcore/hal"
	"newtcore/newtos/kernel"
	"newtcore/newtos/proto"
	"newtcore/newtos/tasks/demo"

	"github.com/google/shlex"
)

const recvSize = 256

type debugger struct {
	k    *kernel.Kernel
	log  *hal.LineBuffer
	seen int
	out  io.Writer
	reg  *registry
	quit bool
}

func newDebugger(out io.Writer, cfg kernel.Config) (*debugger, error) {
	d := &debugger{log: &hal.LineBuffer{}, out: out, reg: newRegistry()}
	cfg.Logger = d.log
	k, err := kernel.New(cfg)
	if err != nil {
		return nil, err
	}
	d.k = k
	demo.Register(k)
	if err := registerCommands(d.reg); err != nil {
		return nil, err
	}
	d.flushLog()
	return d, nil
}

// exec runs one command line and prints any kernel log it produced.
func (d *debugger) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintf(d.out, "parse: %v\n", err)
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, ok := d.reg.resolve(args[0])
	if !ok {
		err := fmt.Errorf("unknown command %q", args[0])
		fmt.Fprintln(d.out, err)
		return err
	}
	err = cmd.Run(d, args[1:])
	d.flushLog()
	if err != nil {
		fmt.Fprintf(d.out, "%s: %v\n", cmd.Name, err)
	}
	return err
}

func (d *debugger) flushLog() {
	lines := d.log.Lines()
	for _, l := range lines[d.seen:] {
		fmt.Fprintln(d.out, l)
	}
	d.seen = len(lines)
}

func (d *debugger) complete(line string) []string {
	if strings.ContainsRune(line, ' ') {
		return nil
	}
	return d.reg.matches(line)
}

var errUsage = errors.New("bad arguments")

func kerr(err proto.Err) error {
	if err == proto.NoErr {
		return nil
	}
	return err
}

// parseID accepts "task#3" style names as printed, or a raw number.
func parseID(s string) (kernel.ObjectID, error) {
	if name, num, ok := strings.Cut(s, "#"); ok {
		n, err := strconv.ParseUint(num, 10, 28)
		if err != nil {
			return proto.NoID, fmt.Errorf("bad id %q", s)
		}
		for t := proto.TypePort; t <= proto.TypePhysMem; t++ {
			if t.String() == name {
				return proto.MakeID(uint32(n), t), nil
			}
		}
		return proto.NoID, fmt.Errorf("unknown object type %q", name)
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return proto.NoID, fmt.Errorf("bad id %q", s)
	}
	return kernel.ObjectID(n), nil
}

// taskArg resolves an id or a task name.
func (d *debugger) taskArg(s string) (kernel.ObjectID, error) {
	if id, err := parseID(s); err == nil {
		return id, nil
	}
	for _, t := range d.k.Tasks() {
		if t.Name() == s {
			return t.ID(), nil
		}
	}
	return proto.NoID, fmt.Errorf("no task %q", s)
}

func parseUint(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return uint32(n), nil
}

// parseSemOps reads "num:op" pairs such as 0:-1 or 1:+2.
func parseSemOps(args []string) ([]proto.SemOp, error) {
	ops := make([]proto.SemOp, 0, len(args))
	for _, a := range args {
		num, op, ok := strings.Cut(a, ":")
		if !ok {
			return nil, fmt.Errorf("bad op %q, want num:op", a)
		}
		n, err := strconv.ParseUint(num, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad semaphore number %q", num)
		}
		v, err := strconv.ParseInt(op, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad op value %q", op)
		}
		ops = append(ops, proto.SemOp{Num: uint16(n), Op: int16(v)})
	}
	return ops, nil
}

func (d *debugger) create(req proto.ObjectRequest) (kernel.ObjectID, error) {
	r := d.k.HandleObjectRequest(nil, req)
	if r.Err != proto.NoErr {
		return proto.NoID, r.Err
	}
	fmt.Fprintln(d.out, r.ID)
	return r.ID, nil
}

func sortedObjects(k *kernel.Kernel) []kernel.Object {
	var out []kernel.Object
	k.Objects().Each(func(o kernel.Object) { out = append(out, o) })
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
