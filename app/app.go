// Package app boots a kernel on a HAL and drives it from the HAL's ticks.
package app

import (
	"errors"
	"fmt"

	"newtcore/hal"
	"newtcore/newtos/console"
	"newtcore/newtos/kernel"
	"newtcore/newtos/tasks/demo"
)

// ErrHalted is returned by the step function once the kernel has halted.
var ErrHalted = errors.New("kernel halted")

// Config selects what the system runs.
type Config struct {
	// Demo names the demo workload to start; empty starts none.
	Demo string
	// Console mirrors the kernel log onto the display.
	Console bool
	// StepBudget caps the kernel steps run per host tick. Default 256.
	StepBudget int
	Kernel     kernel.Config
}

type system struct {
	h      hal.HAL
	k      *kernel.Kernel
	term   *console.Terminal
	budget int
	halted bool
}

// New boots the system and returns its step function. Each call feeds the
// host ticks that have arrived into the kernel clock, one millisecond each,
// and runs the kernel until it idles or the step budget is spent.
func New(h hal.HAL, cfg Config) (func() error, error) {
	s, err := newSystem(h, cfg)
	if err != nil {
		return nil, err
	}
	return s.step, nil
}

func newSystem(h hal.HAL, cfg Config) (*system, error) {
	s := &system{h: h, budget: cfg.StepBudget}
	if s.budget <= 0 {
		s.budget = 256
	}
	log := h.Logger()
	if cfg.Console {
		if d := h.Display(); d != nil && d.Framebuffer() != nil {
			s.term = console.NewTerminal(d.Framebuffer())
			log = &console.Logger{Next: log, Term: s.term}
		}
	}
	kc := cfg.Kernel
	kc.Logger = log
	k, err := kernel.New(kc)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	s.k = k
	k.SetHaltHandler(s.onHalt)
	if cfg.Demo != "" {
		if err := demo.Start(k, cfg.Demo); err != nil {
			return nil, fmt.Errorf("demo: %w", err)
		}
	}
	return s, nil
}

func (s *system) step() error {
	if s.halted {
		return ErrHalted
	}
	if ht := s.h.Time(); ht != nil {
		if ch := ht.Ticks(); ch != nil {
		drain:
			for {
				select {
				case <-ch:
					s.k.Advance(kernel.Millisecond)
				default:
					break drain
				}
			}
		}
	}
	s.k.RunUntilIdle(s.budget)
	if s.term != nil && !s.halted {
		s.term.Flush()
	}
	if s.halted {
		return ErrHalted
	}
	return nil
}

func (s *system) onHalt(info kernel.HaltInfo) {
	s.halted = true
	if l := s.h.Logger(); l != nil {
		l.WriteLineString(fmt.Sprintf("newtcore halt: %s at %s", info.Reason, info.At))
	}
	if d := s.h.Display(); d != nil {
		if fb := d.Framebuffer(); fb != nil {
			drawHaltScreen(fb, info)
		}
	}
}
