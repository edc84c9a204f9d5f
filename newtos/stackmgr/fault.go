package stackmgr

import "newtcore/newtos/proto"

// FaultState is the processor state captured at a data abort.
type FaultState struct {
	Addr  uint32
	Write bool
	Task  proto.ObjectID
}

// Fault is the page-fault entry point. It binds a sub-page for addr or
// reports why it cannot: ErrAddressOutOfRange outside every domain,
// ErrStackOverflow inside a domain but outside any area's faultable range,
// ErrPermissionViolation for writes to read-only areas, ErrNoPagesAvailable
// when even releasing pages could not produce one.
func (m *Manager) Fault(st FaultState) proto.Err {
	d := m.domainFor(st.Addr)
	if d == nil {
		return proto.ErrAddressOutOfRange
	}
	for _, fm := range d.fixed {
		if st.Addr >= fm.vaddr && st.Addr-fm.vaddr < fm.size {
			if st.Write && fm.readOnly {
				return proto.ErrPermissionViolation
			}
			off := (st.Addr - fm.vaddr) &^ (m.cfg.PageSize - 1)
			m.mmu.rememberFixed(fm.vaddr+off, fm.paddr+off, fm.readOnly)
			return proto.NoErr
		}
	}
	si := d.regions[(st.Addr-d.base)/d.regionSize]
	if si == nil || !si.covers(st.Addr) {
		m.logf("overflow task=%s addr=%#x", st.Task, st.Addr)
		return proto.ErrStackOverflow
	}
	if st.Write && si.readOnly {
		return proto.ErrPermissionViolation
	}
	return m.resolveFault(si, st.Addr)
}

func (m *Manager) slotIndex(si *StackInfo, addr uint32) int {
	return int((addr - si.start) / m.subSize)
}

func (m *Manager) slotAddr(si *StackInfo, k int) uint32 {
	return si.start + uint32(k)*m.subSize
}

func (m *Manager) subPos(addr uint32) uint {
	return uint((addr & (m.cfg.PageSize - 1)) / m.subSize)
}

// wantMask is the set of sub-page positions of addr's virtual page that lie
// inside si and so may eventually be bound.
func (m *Manager) wantMask(si *StackInfo, addr uint32) uint8 {
	vp := addr &^ (m.cfg.PageSize - 1)
	var want uint8
	for n := uint(0); n < SubPagesPerPage; n++ {
		a := vp + uint32(n)*m.subSize
		if si.covers(a) {
			want |= 1 << n
		}
	}
	return want
}

// boundMask is the set of sub-page positions of addr's virtual page si has
// already bound.
func (m *Manager) boundMask(si *StackInfo, addr uint32) uint8 {
	vp := addr &^ (m.cfg.PageSize - 1)
	p := si.vpages[vp]
	if p == nil {
		return 0
	}
	var bound uint8
	for n := uint(0); n < SubPagesPerPage; n++ {
		if p.owners[n] == si && p.vaddr[n] == vp {
			bound |= 1 << n
		}
	}
	return bound
}

// resolveFault binds the sub-page covering addr. An already-bound sub-page
// is only re-remembered with the MMU; it never allocates again.
func (m *Manager) resolveFault(si *StackInfo, addr uint32) proto.Err {
	k := m.slotIndex(si, addr)
	if p := si.slots[k].page; p != nil {
		m.mmu.RememberSub(m.slotAddr(si, k), p.phys, si.readOnly)
		return proto.NoErr
	}
	err := m.bindSlot(si, k)
	for err == proto.ErrNoPagesAvailable && m.RoundRobinPageRelease(1) > 0 {
		err = m.bindSlot(si, k)
	}
	return err
}

func (m *Manager) bindSlot(si *StackInfo, k int) proto.Err {
	addr := m.slotAddr(si, k)
	vp := addr &^ (m.cfg.PageSize - 1)
	pos := m.subPos(addr)

	p := m.getMatchingPage(si, addr)
	if p == nil {
		return proto.ErrNoPagesAvailable
	}
	if existing := si.vpages[vp]; existing != nil && existing != p {
		m.migrate(si, vp, existing, p)
	}
	p.free &^= 1 << pos
	p.owners[pos] = si
	p.vaddr[pos] = vp
	off := uint32(pos) * m.subSize
	clear(p.data[off : off+m.subSize])
	m.pool.update(p)
	si.vpages[vp] = p
	si.slots[k].page = p
	m.mmu.RememberSub(addr, p.phys, si.readOnly)
	return proto.NoErr
}

// getMatchingPage chooses the physical page for addr's sub-page. A virtual
// page maps to exactly one physical page, so once si has bound part of the
// virtual page the same page must be used; if its slot is taken by another
// area the bound sub-pages are moved to a page with room for all of them.
func (m *Manager) getMatchingPage(si *StackInfo, addr uint32) *StackPage {
	vp := addr &^ (m.cfg.PageSize - 1)
	pos := m.subPos(addr)
	if p := si.vpages[vp]; p != nil {
		if p.free&(1<<pos) != 0 {
			return p
		}
		need := m.boundMask(si, addr) | 1<<pos
		return m.pool.pageWithFree(need, p)
	}
	return m.pool.bestPage(m.wantMask(si, addr), pos)
}

// migrate moves si's sub-pages of virtual page vp from old to p, keeping
// their contents.
func (m *Manager) migrate(si *StackInfo, vp uint32, old, p *StackPage) {
	for n := uint(0); n < SubPagesPerPage; n++ {
		if old.owners[n] != si || old.vaddr[n] != vp {
			continue
		}
		off := uint32(n) * m.subSize
		copy(p.data[off:off+m.subSize], old.data[off:off+m.subSize])
		old.owners[n] = nil
		old.vaddr[n] = 0
		old.free |= 1 << n
		p.owners[n] = si
		p.vaddr[n] = vp
		p.free &^= 1 << n
		k := m.slotIndex(si, vp+off)
		si.slots[k].page = p
		m.mmu.ForgetSub(vp + off)
	}
	m.pool.update(old)
	m.pool.update(p)
	si.vpages[vp] = p
	for n := uint(0); n < SubPagesPerPage; n++ {
		if p.owners[n] == si && p.vaddr[n] == vp {
			m.mmu.RememberSub(vp+uint32(n)*m.subSize, p.phys, si.readOnly)
		}
	}
	m.logf("migrate owner=%s vpage=%#x %#x->%#x", si.owner, vp, old.phys, p.phys)
}

// unbind returns slot k of si to its page's free mask and forgets the
// mapping.
func (m *Manager) unbind(si *StackInfo, k int) {
	p := si.slots[k].page
	if p == nil {
		return
	}
	addr := m.slotAddr(si, k)
	vp := addr &^ (m.cfg.PageSize - 1)
	pos := m.subPos(addr)
	p.owners[pos] = nil
	p.vaddr[pos] = 0
	p.free |= 1 << pos
	m.pool.update(p)
	si.slots[k].page = nil
	m.mmu.ForgetSub(addr)
	if m.boundMask(si, addr) == 0 {
		delete(si.vpages, vp)
	}
}

func (m *Manager) notifyFreed() {
	if m.onFreed != nil {
		m.onFreed()
	}
}

// Access checks that addr is accessible, resolving a fault if not.
func (m *Manager) Access(task proto.ObjectID, addr uint32, write bool) proto.Err {
	if _, fault, violation := m.mmu.Lookup(addr, write); !fault {
		return proto.NoErr
	} else if violation {
		return proto.ErrPermissionViolation
	}
	return m.Fault(FaultState{Addr: addr, Write: write, Task: task})
}

// Store writes p at addr, faulting sub-pages in as needed.
func (m *Manager) Store(task proto.ObjectID, addr uint32, p []byte) proto.Err {
	return m.transfer(task, addr, p, true)
}

// Load reads len(p) bytes at addr, faulting sub-pages in as needed.
func (m *Manager) Load(task proto.ObjectID, addr uint32, p []byte) proto.Err {
	return m.transfer(task, addr, p, false)
}

func (m *Manager) transfer(task proto.ObjectID, addr uint32, p []byte, write bool) proto.Err {
	for len(p) > 0 {
		if err := m.Access(task, addr, write); err != proto.NoErr {
			return err
		}
		page := m.pageAt(addr)
		off := addr & (m.cfg.PageSize - 1)
		n := m.subSize - off%m.subSize
		if int(n) > len(p) {
			n = uint32(len(p))
		}
		if page == nil {
			// Fixed mappings have no backing data in the pool.
			p = p[n:]
			addr += n
			continue
		}
		if write {
			copy(page.data[off:off+n], p[:n])
		} else {
			copy(p[:n], page.data[off:off+n])
		}
		p = p[n:]
		addr += n
	}
	return proto.NoErr
}

func (m *Manager) pageAt(addr uint32) *StackPage {
	si := m.Area(addr)
	if si == nil || !si.covers(addr) {
		return nil
	}
	return si.slots[m.slotIndex(si, addr)].page
}

// CommittedSubPages reports how many sub-pages si has bound.
func (m *Manager) CommittedSubPages(si *StackInfo) int { return si.committed() }

// PageUse reports the number of distinct physical pages backing si.
func (m *Manager) PageUse(si *StackInfo) int {
	seen := make(map[*StackPage]struct{})
	for _, sl := range si.slots {
		if sl.page != nil {
			seen[sl.page] = struct{}{}
		}
	}
	return len(seen)
}
