package stackmgr

import "newtcore/newtos/proto"

// releasableRange returns the part of si that holds no live data. For a
// stack that is everything wholly below the owner's stack pointer; an
// installed remove routine overrides the heuristic; heaps without one
// release nothing.
func (m *Manager) releasableRange(si *StackInfo) (start, end uint32, ok bool) {
	if si.routine != nil {
		start, end, ok = si.routine(si.start, si.end)
		if !ok {
			return 0, 0, false
		}
		if start < si.start {
			start = si.start
		}
		if end > si.end {
			end = si.end
		}
		start = m.roundUp(start, m.subSize)
		end = end / m.subSize * m.subSize
		return start, end, start < end
	}
	if si.heap || m.owners == nil {
		return 0, 0, false
	}
	sp, ok := m.owners.StackPointer(si.owner)
	if !ok {
		return 0, 0, false
	}
	if sp <= si.start {
		return 0, 0, false
	}
	if sp > si.end {
		sp = si.end
	}
	return si.start, sp / m.subSize * m.subSize, true
}

// ReleasePagesInOneStack frees up to want unlocked sub-pages (0 = all) from
// the releasable part of si, lowest addresses first. It never touches data
// at or above the stack pointer.
func (m *Manager) ReleasePagesInOneStack(si *StackInfo, want int) int {
	start, end, ok := m.releasableRange(si)
	if !ok {
		return 0
	}
	freed := 0
	for addr := start; addr < end; addr += m.subSize {
		k := m.slotIndex(si, addr)
		sl := si.slots[k]
		if sl.page == nil || sl.locks > 0 {
			continue
		}
		m.unbind(si, k)
		freed++
		if want > 0 && freed >= want {
			break
		}
	}
	return freed
}

// RoundRobinPageRelease walks every area, continuing where the previous
// call stopped, until want sub-pages (0 = as many as possible) have been
// freed or every area has been visited once.
func (m *Manager) RoundRobinPageRelease(want int) int {
	total := 0
	for _, d := range m.domains {
		total += len(d.regions)
	}
	if total == 0 {
		return 0
	}
	if m.rrDomain >= len(m.domains) {
		m.rrDomain, m.rrRegion = 0, 0
	}
	freed := 0
	for visited := 0; visited < total; visited++ {
		d := m.domains[m.rrDomain]
		r := m.rrRegion
		m.rrRegion++
		if m.rrRegion >= len(d.regions) {
			m.rrRegion = 0
			m.rrDomain = (m.rrDomain + 1) % len(m.domains)
		}
		si := d.regions[r]
		if si == nil || si.firstRegion != r {
			continue
		}
		n := 0
		if want > 0 {
			n = want - freed
		}
		freed += m.ReleasePagesInOneStack(si, n)
		if want > 0 && freed >= want {
			break
		}
	}
	if freed > 0 {
		m.logf("released %d sub-pages", freed)
		m.notifyFreed()
	}
	return freed
}

// FreePagedMem releases the unlocked sub-pages of the area containing
// req.Area that fall inside [req.Start, req.End).
func (m *Manager) FreePagedMem(req proto.FreePagedMem) (int, proto.Err) {
	if err := req.Validate(); err != proto.NoErr {
		return 0, err
	}
	si := m.Area(req.Area)
	if si == nil {
		return 0, proto.ErrAddressOutOfRange
	}
	start := m.roundUp(max(req.Start, si.start), m.subSize)
	end := min(req.End, si.end) / m.subSize * m.subSize
	freed := 0
	for addr := start; addr < end; addr += m.subSize {
		k := m.slotIndex(si, addr)
		if si.slots[k].page == nil || si.slots[k].locks > 0 {
			continue
		}
		m.unbind(si, k)
		freed++
	}
	if freed > 0 {
		m.notifyFreed()
	}
	return freed, proto.NoErr
}

// GetSystemReleaseable reports how many bytes a full release pass could
// return to the pool right now.
func (m *Manager) GetSystemReleaseable() uint32 {
	n := 0
	for _, d := range m.domains {
		for r, si := range d.regions {
			if si == nil || si.firstRegion != r {
				continue
			}
			start, end, ok := m.releasableRange(si)
			if !ok {
				continue
			}
			for addr := start; addr < end; addr += m.subSize {
				sl := si.slots[m.slotIndex(si, addr)]
				if sl.page != nil && sl.locks == 0 {
					n++
				}
			}
		}
	}
	return uint32(n) * m.subSize
}

// LockHeapRange faults in every sub-page of [start, end) and pins it. On
// failure the sub-pages pinned by this call are unpinned again.
func (m *Manager) LockHeapRange(start, end uint32) proto.Err {
	if end < start {
		return proto.ErrBadParameters
	}
	start = start / m.subSize * m.subSize
	type pinned struct {
		si *StackInfo
		k  int
	}
	var done []pinned
	undo := func() {
		for _, p := range done {
			p.si.slots[p.k].locks--
		}
	}
	for addr := start; addr < end; addr += m.subSize {
		si := m.Area(addr)
		if si == nil || !si.covers(addr) {
			undo()
			return proto.ErrAddressOutOfRange
		}
		if err := m.resolveFault(si, addr); err != proto.NoErr {
			undo()
			return err
		}
		k := m.slotIndex(si, addr)
		si.slots[k].locks++
		done = append(done, pinned{si: si, k: k})
	}
	return proto.NoErr
}

// UnlockHeapRange drops one pin from every sub-page of [start, end). Either
// every sub-page is pinned and all are unpinned, or nothing changes.
func (m *Manager) UnlockHeapRange(start, end uint32) proto.Err {
	if end < start {
		return proto.ErrBadParameters
	}
	start = start / m.subSize * m.subSize
	for addr := start; addr < end; addr += m.subSize {
		si := m.Area(addr)
		if si == nil || !si.covers(addr) {
			return proto.ErrAddressOutOfRange
		}
		if si.slots[m.slotIndex(si, addr)].locks == 0 {
			return proto.ErrRangeNotLocked
		}
	}
	for addr := start; addr < end; addr += m.subSize {
		si := m.Area(addr)
		si.slots[m.slotIndex(si, addr)].locks--
	}
	return proto.NoErr
}
