package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type command struct {
	Name    string
	Aliases []string
	Usage   string
	Desc    string
	Run     func(d *debugger, args []string) error

	group string
}

// registry maps command names and aliases to commands. Groups keep their
// registration order for help output.
type registry struct {
	byName map[string]*command
	groups []string
	member map[string][]*command
}

func newRegistry() *registry {
	return &registry{byName: make(map[string]*command), member: make(map[string][]*command)}
}

// register adds cmds under group. Names and aliases share one namespace.
func (r *registry) register(group string, cmds ...command) error {
	for i := range cmds {
		cmd := &cmds[i]
		if cmd.Name == "" || strings.ContainsAny(cmd.Name, " \t") {
			return fmt.Errorf("kdebug registry: bad command name %q", cmd.Name)
		}
		if cmd.Run == nil {
			return fmt.Errorf("kdebug registry: %q has no handler", cmd.Name)
		}
		for _, key := range append([]string{cmd.Name}, cmd.Aliases...) {
			if _, dup := r.byName[key]; dup {
				return fmt.Errorf("kdebug registry: %q: %w", key, errDuplicate)
			}
		}
		cmd.group = group
		r.byName[cmd.Name] = cmd
		for _, a := range cmd.Aliases {
			r.byName[a] = cmd
		}
		if _, ok := r.member[group]; !ok {
			r.groups = append(r.groups, group)
		}
		r.member[group] = append(r.member[group], cmd)
	}
	return nil
}

var errDuplicate = errors.New("already registered")

func (r *registry) resolve(name string) (*command, bool) {
	cmd, ok := r.byName[name]
	return cmd, ok
}

// names returns the primary command names, sorted.
func (r *registry) names() []string {
	var out []string
	for key, cmd := range r.byName {
		if key == cmd.Name {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// matches completes a command-name prefix.
func (r *registry) matches(prefix string) []string {
	if prefix == "" {
		return nil
	}
	var out []string
	for _, name := range r.names() {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}
