package kernel

import "sort"

// IntID names an interrupt source.
type IntID uint8

const (
	// IntTimerAlarm is the timer compare match. It is the FIQ source: the
	// timer engine and port timeouts run from it.
	IntTimerAlarm IntID = iota + 1
	// IntSchedulerTick is the periodic quantum interrupt.
	IntSchedulerTick
)

func (id IntID) String() string {
	switch id {
	case IntTimerAlarm:
		return "timer_alarm"
	case IntSchedulerTick:
		return "scheduler_tick"
	default:
		return "unknown"
	}
}

type interruptSource struct {
	id       IntID
	priority int
	fiq      bool
	enabled  bool
	pending  bool
	handler  func()
	count    uint64
}

// InterruptController holds the registered sources and the IRQ/FIQ mask
// nesting state. Sources are serviced FIQ first, then by descending
// priority.
type InterruptController struct {
	sources []*interruptSource

	irqDepth int
	fiqDepth int

	dispatching bool
	deferred    []func()

	halt func(string)
}

func newInterruptController(halt func(string)) *InterruptController {
	return &InterruptController{halt: halt}
}

// Register adds a source. Sources start disabled.
func (ic *InterruptController) Register(id IntID, priority int, fiq bool, handler func()) {
	if ic.source(id) != nil {
		return
	}
	ic.sources = append(ic.sources, &interruptSource{
		id:       id,
		priority: priority,
		fiq:      fiq,
		handler:  handler,
	})
	sort.SliceStable(ic.sources, func(i, j int) bool {
		a, b := ic.sources[i], ic.sources[j]
		if a.fiq != b.fiq {
			return a.fiq
		}
		return a.priority > b.priority
	})
}

func (ic *InterruptController) source(id IntID) *interruptSource {
	for _, s := range ic.sources {
		if s.id == id {
			return s
		}
	}
	return nil
}

// Enable unmasks a source and services it if it is already pending.
func (ic *InterruptController) Enable(id IntID) {
	if s := ic.source(id); s != nil {
		s.enabled = true
		if s.pending {
			ic.Dispatch()
		}
	}
}

// Disable masks a source. A pending assertion stays latched.
func (ic *InterruptController) Disable(id IntID) {
	if s := ic.source(id); s != nil {
		s.enabled = false
	}
}

// Clear acknowledges a pending assertion without servicing it.
func (ic *InterruptController) Clear(id IntID) {
	if s := ic.source(id); s != nil {
		s.pending = false
	}
}

// Pending reports whether a source is latched.
func (ic *InterruptController) Pending(id IntID) bool {
	s := ic.source(id)
	return s != nil && s.pending
}

// Count reports how many times a source has been serviced.
func (ic *InterruptController) Count(id IntID) uint64 {
	if s := ic.source(id); s != nil {
		return s.count
	}
	return 0
}

// Raise latches a source and services it at once unless it is masked.
func (ic *InterruptController) Raise(id IntID) {
	s := ic.source(id)
	if s == nil {
		return
	}
	s.pending = true
	ic.Dispatch()
}

func (ic *InterruptController) masked(s *interruptSource) bool {
	if !s.enabled {
		return true
	}
	if s.fiq {
		return ic.fiqDepth > 0
	}
	return ic.irqDepth > 0 || ic.fiqDepth > 0
}

// Dispatch services every pending unmasked source. Handlers never nest: a
// source raised from inside a handler, FIQ included, stays latched until
// that handler returns and is then taken in the usual order.
func (ic *InterruptController) Dispatch() {
	if ic.dispatching {
		return
	}
	ic.dispatching = true
	defer func() { ic.dispatching = false }()
	for {
		var next *interruptSource
		for _, s := range ic.sources {
			if s.pending && !ic.masked(s) {
				next = s
				break
			}
		}
		if next == nil {
			return
		}
		next.pending = false
		next.count++
		if next.fiq {
			ic.fiqDepth++
		} else {
			ic.irqDepth++
		}
		next.handler()
		if next.fiq {
			ic.fiqDepth--
		} else {
			ic.irqDepth--
		}
		ic.runDeferred()
	}
}
