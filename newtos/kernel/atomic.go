package kernel

// EnterAtomic masks IRQ sources. Sections nest; task switching and IRQ
// handlers wait until the outermost ExitAtomic.
func (ic *InterruptController) EnterAtomic() { ic.irqDepth++ }

// ExitAtomic leaves one IRQ section. Leaving the outermost section services
// interrupts that were raised meanwhile, then runs deferred actions.
func (ic *InterruptController) ExitAtomic() {
	if ic.irqDepth == 0 {
		ic.halt("ExitAtomic without EnterAtomic")
		return
	}
	ic.irqDepth--
	ic.exited()
}

// EnterFIQAtomic masks FIQ and IRQ sources. It guards data the timer
// interrupt touches.
func (ic *InterruptController) EnterFIQAtomic() { ic.fiqDepth++ }

// ExitFIQAtomic leaves one FIQ section.
func (ic *InterruptController) ExitFIQAtomic() {
	if ic.fiqDepth == 0 {
		ic.halt("ExitFIQAtomic without EnterFIQAtomic")
		return
	}
	ic.fiqDepth--
	ic.exited()
}

// InAtomic reports whether any section is open.
func (ic *InterruptController) InAtomic() bool { return ic.irqDepth > 0 || ic.fiqDepth > 0 }

// Depth returns the IRQ and FIQ nesting levels.
func (ic *InterruptController) Depth() (irq, fiq int) { return ic.irqDepth, ic.fiqDepth }

func (ic *InterruptController) exited() {
	if ic.InAtomic() || ic.dispatching {
		return
	}
	ic.Dispatch()
	ic.runDeferred()
}

// deferUntilExit queues fn to run when the outermost section closes. Outside
// any section it runs immediately.
func (ic *InterruptController) deferUntilExit(fn func()) {
	if !ic.InAtomic() && !ic.dispatching {
		fn()
		return
	}
	ic.deferred = append(ic.deferred, fn)
}

func (ic *InterruptController) runDeferred() {
	if ic.InAtomic() {
		return
	}
	for len(ic.deferred) > 0 {
		fn := ic.deferred[0]
		ic.deferred = ic.deferred[1:]
		fn()
	}
}
