package stackmgr

// Mapping is the MMU entry for one virtual page. Sub-page access bits gate
// each quarter of the page independently.
type Mapping struct {
	Phys     uint32
	Sub      uint8
	ReadOnly bool
	Fixed    bool
}

// MMU is the domain manager's record of remembered virtual-to-physical
// mappings, keyed by virtual page base.
type MMU struct {
	pageSize uint32
	subSize  uint32
	entries  map[uint32]Mapping
}

func newMMU(pageSize uint32) *MMU {
	return &MMU{
		pageSize: pageSize,
		subSize:  pageSize / SubPagesPerPage,
		entries:  make(map[uint32]Mapping),
	}
}

func (m *MMU) pageOf(addr uint32) uint32 { return addr &^ (m.pageSize - 1) }

func (m *MMU) subOf(addr uint32) uint { return uint((addr & (m.pageSize - 1)) / m.subSize) }

// Remember maps the whole page containing vaddr to the page at paddr.
func (m *MMU) Remember(vaddr, paddr uint32, readOnly bool) {
	m.entries[m.pageOf(vaddr)] = Mapping{
		Phys:     m.pageOf(paddr),
		Sub:      allSubPages,
		ReadOnly: readOnly,
	}
}

func (m *MMU) rememberFixed(vaddr, paddr uint32, readOnly bool) {
	m.entries[m.pageOf(vaddr)] = Mapping{
		Phys:     m.pageOf(paddr),
		Sub:      allSubPages,
		ReadOnly: readOnly,
		Fixed:    true,
	}
}

// RememberSub opens the sub-page containing vaddr. The virtual page is bound
// to paddr's page; any sub-pages already open for a different physical page
// are closed.
func (m *MMU) RememberSub(vaddr, paddr uint32, readOnly bool) {
	vp := m.pageOf(vaddr)
	e, ok := m.entries[vp]
	if !ok || e.Phys != m.pageOf(paddr) {
		e = Mapping{Phys: m.pageOf(paddr)}
	}
	e.Sub |= 1 << m.subOf(vaddr)
	e.ReadOnly = readOnly
	m.entries[vp] = e
}

// Forget drops the mapping for the page containing vaddr.
func (m *MMU) Forget(vaddr uint32) {
	delete(m.entries, m.pageOf(vaddr))
}

// ForgetSub closes one sub-page; the page entry goes away with its last
// open sub-page.
func (m *MMU) ForgetSub(vaddr uint32) {
	vp := m.pageOf(vaddr)
	e, ok := m.entries[vp]
	if !ok || e.Fixed {
		return
	}
	e.Sub &^= 1 << m.subOf(vaddr)
	if e.Sub == 0 {
		delete(m.entries, vp)
		return
	}
	m.entries[vp] = e
}

// Lookup translates addr. fault is true when the access must trap: either
// nothing is mapped or a write hit a read-only mapping (violation).
func (m *MMU) Lookup(addr uint32, write bool) (paddr uint32, fault, violation bool) {
	e, ok := m.entries[m.pageOf(addr)]
	if !ok || e.Sub&(1<<m.subOf(addr)) == 0 {
		return 0, true, false
	}
	if write && e.ReadOnly {
		return 0, true, true
	}
	return e.Phys | addr&(m.pageSize-1), false, false
}

// Entry returns the raw entry for the page containing vaddr.
func (m *MMU) Entry(vaddr uint32) (Mapping, bool) {
	e, ok := m.entries[m.pageOf(vaddr)]
	return e, ok
}

// Len reports the number of mapped virtual pages.
func (m *MMU) Len() int { return len(m.entries) }
