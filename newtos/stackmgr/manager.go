// Package stackmgr backs task stacks and heap areas with physical sub-pages
// on demand. Address space is carved into heap domains, each divided into
// fixed-size guarded regions; faults bind sub-pages lazily and memory
// pressure releases sub-pages that hold no live data.
package stackmgr

import (
	"fmt"
	"sort"

	"newtcore/hal"
	"newtcore/newtos/proto"
)

// Config sizes the stack manager. Zero fields take defaults.
type Config struct {
	Logger hal.Logger

	// PageSize is the physical page size; a power of two, default 4096.
	PageSize uint32
	// Twilight is the band below a stack's nominal base that may still be
	// faulted in. Default one sub-page.
	Twilight uint32
	// GuardBand is the never-mapped band at the low end of a stack's
	// reservation (the high end of a heap's). Default one page.
	GuardBand uint32
}

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = 4096
	}
	if c.Twilight == 0 {
		c.Twilight = c.PageSize / SubPagesPerPage
	}
	if c.GuardBand == 0 {
		c.GuardBand = c.PageSize
	}
	return c
}

// Owners resolves the live stack pointer of an area's owner.
type Owners interface {
	StackPointer(owner proto.ObjectID) (sp uint32, ok bool)
}

// Manager is the stack manager.
type Manager struct {
	cfg     Config
	subSize uint32

	domains []*HeapDomain
	pool    pagePool
	mmu     *MMU
	owners  Owners

	// round-robin release cursor
	rrDomain int
	rrRegion int

	onFreed func()
}

// New creates a stack manager with no domains and no pages.
func New(cfg Config, owners Owners) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:     cfg,
		subSize: cfg.PageSize / SubPagesPerPage,
		mmu:     newMMU(cfg.PageSize),
		owners:  owners,
	}
}

// MMU returns the mapping table faults are resolved into.
func (m *Manager) MMU() *MMU { return m.mmu }

// PageSize returns the configured page size.
func (m *Manager) PageSize() uint32 { return m.cfg.PageSize }

// SubPageSize returns the allocation granularity.
func (m *Manager) SubPageSize() uint32 { return m.subSize }

// OnPagesFreed installs a callback run whenever sub-pages return to the pool.
func (m *Manager) OnPagesFreed(fn func()) { m.onFreed = fn }

func (m *Manager) logf(format string, args ...any) {
	if m.cfg.Logger == nil {
		return
	}
	m.cfg.Logger.WriteLineString(fmt.Sprintf("stackmgr: "+format, args...))
}

// AddPages donates count physical pages starting at physBase to the pool.
func (m *Manager) AddPages(physBase uint32, count int) {
	for i := 0; i < count; i++ {
		m.pool.add(&StackPage{
			phys: physBase + uint32(i)*m.cfg.PageSize,
			data: make([]byte, m.cfg.PageSize),
			free: allSubPages,
		})
	}
}

// FreeSubPages reports how many sub-pages are unowned.
func (m *Manager) FreeSubPages() int { return m.pool.freeSubPages() }

// TotalPages reports how many physical pages the pool holds.
func (m *Manager) TotalPages() int { return m.pool.total }

func (m *Manager) roundUp(n, to uint32) uint32 { return (n + to - 1) / to * to }

// HeapDomain is an address range split into equal guarded regions.
type HeapDomain struct {
	id         proto.ObjectID
	base       uint32
	size       uint32
	regionSize uint32
	regions    []*StackInfo
	fixed      []fixedMapping
}

type fixedMapping struct {
	vaddr, paddr, size uint32
	readOnly           bool
}

// ID returns the kernel domain object the heap domain lives in.
func (d *HeapDomain) ID() proto.ObjectID { return d.id }

func (d *HeapDomain) contains(addr uint32) bool {
	return addr >= d.base && uint64(addr) < uint64(d.base)+uint64(d.size)
}

func (d *HeapDomain) regionBase(i int) uint32 { return d.base + uint32(i)*d.regionSize }

// NewHeapDomain registers [base, base+size) as a heap domain.
func (m *Manager) NewHeapDomain(id proto.ObjectID, base, size, regionSize uint32) (*HeapDomain, proto.Err) {
	if regionSize == 0 || regionSize%m.cfg.PageSize != 0 || size == 0 || size%regionSize != 0 {
		return nil, proto.ErrBadParameters
	}
	if base%m.cfg.PageSize != 0 || uint64(base)+uint64(size) > 1<<32 {
		return nil, proto.ErrBadParameters
	}
	end := uint64(base) + uint64(size)
	for _, d := range m.domains {
		if d.id == id {
			return nil, proto.ErrBadParameters
		}
		dEnd := uint64(d.base) + uint64(d.size)
		if uint64(base) < dEnd && uint64(d.base) < end {
			return nil, proto.ErrAddressOutOfRange
		}
	}
	d := &HeapDomain{
		id:         id,
		base:       base,
		size:       size,
		regionSize: regionSize,
		regions:    make([]*StackInfo, size/regionSize),
	}
	m.domains = append(m.domains, d)
	sort.Slice(m.domains, func(i, j int) bool { return m.domains[i].base < m.domains[j].base })
	m.logf("domain %s [%#x,%#x) regions=%d", id, base, end, len(d.regions))
	return d, proto.NoErr
}

// Domain returns the heap domain registered under id.
func (m *Manager) Domain(id proto.ObjectID) *HeapDomain {
	for _, d := range m.domains {
		if d.id == id {
			return d
		}
	}
	return nil
}

func (m *Manager) domainFor(addr uint32) *HeapDomain {
	i := sort.Search(len(m.domains), func(i int) bool {
		d := m.domains[i]
		return uint64(d.base)+uint64(d.size) > uint64(addr)
	})
	if i < len(m.domains) && m.domains[i].contains(addr) {
		return m.domains[i]
	}
	return nil
}

// StackInfo is one task's stack (or one heap area) reservation.
type StackInfo struct {
	domain      *HeapDomain
	firstRegion int
	regionCount int
	regionBase  uint32
	regionEnd   uint32

	start uint32 // lowest faultable address
	end   uint32 // one past the highest faultable address
	base  uint32 // nominal stack base (start + twilight for stacks)

	heap     bool
	readOnly bool
	owner    proto.ObjectID

	slots   []subSlot
	vpages  map[uint32]*StackPage
	routine proto.ReleaseRoutine
}

type subSlot struct {
	page  *StackPage
	locks uint16
}

// Start returns the lowest faultable address.
func (s *StackInfo) Start() uint32 { return s.start }

// End returns the top of the area.
func (s *StackInfo) End() uint32 { return s.end }

// Base returns the nominal base: for stacks the twilight band lies below it.
func (s *StackInfo) Base() uint32 { return s.base }

// RegionBase returns the start of the guarded reservation.
func (s *StackInfo) RegionBase() uint32 { return s.regionBase }

// Owner returns the task the area belongs to.
func (s *StackInfo) Owner() proto.ObjectID { return s.owner }

func (s *StackInfo) covers(addr uint32) bool { return addr >= s.start && addr < s.end }

func (s *StackInfo) committed() int {
	n := 0
	for _, sl := range s.slots {
		if sl.page != nil {
			n++
		}
	}
	return n
}

func (s *StackInfo) locked() int {
	n := 0
	for _, sl := range s.slots {
		if sl.locks > 0 {
			n++
		}
	}
	return n
}

func (m *Manager) findFreeRun(d *HeapDomain, n int, addr uint32) (int, proto.Err) {
	if n > len(d.regions) {
		return 0, proto.ErrNoFreeRegions
	}
	if addr != proto.AnyAddress {
		if !d.contains(addr) || (addr-d.base)%d.regionSize != 0 {
			return 0, proto.ErrBadParameters
		}
		first := int((addr - d.base) / d.regionSize)
		if first+n > len(d.regions) {
			return 0, proto.ErrNoFreeRegions
		}
		for i := first; i < first+n; i++ {
			if d.regions[i] != nil {
				return 0, proto.ErrNoFreeRegions
			}
		}
		return first, proto.NoErr
	}
	run := 0
	for i, r := range d.regions {
		if r != nil {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1, proto.NoErr
		}
	}
	return 0, proto.ErrNoFreeRegions
}

func (m *Manager) reserve(d *HeapDomain, first, n int) *StackInfo {
	si := &StackInfo{
		domain:      d,
		firstRegion: first,
		regionCount: n,
		regionBase:  d.regionBase(first),
		regionEnd:   d.regionBase(first + n),
		vpages:      make(map[uint32]*StackPage),
	}
	for i := first; i < first+n; i++ {
		d.regions[i] = si
	}
	return si
}

// NewStack reserves a stack of at least size bytes. The reservation is
// rounded up to whole regions and always leaves GuardBand unmapped below the
// twilight band, so running off the bottom faults as an overflow instead of
// landing in the neighbouring region.
func (m *Manager) NewStack(req proto.NewStack) (*StackInfo, proto.Err) {
	if err := req.Validate(); err != proto.NoErr {
		return nil, err
	}
	d := m.Domain(req.Domain)
	if d == nil {
		return nil, proto.ErrBadObjectID
	}
	size := m.roundUp(req.Size, m.subSize)
	need := size + m.cfg.Twilight + m.cfg.GuardBand
	n := int(m.roundUp(need, d.regionSize) / d.regionSize)
	first, err := m.findFreeRun(d, n, req.Addr)
	if err != proto.NoErr {
		return nil, err
	}
	si := m.reserve(d, first, n)
	si.end = si.regionEnd
	si.base = si.end - size
	si.start = si.base - m.cfg.Twilight
	si.readOnly = req.ReadOnly
	si.owner = req.Owner
	si.slots = make([]subSlot, (si.end-si.start)/m.subSize)
	m.logf("stack owner=%s [%#x,%#x) base=%#x regions=%d", si.owner, si.start, si.end, si.base, n)
	return si, proto.NoErr
}

// NewHeapArea reserves an upward-growing area of size bytes with the guard
// band above it.
func (m *Manager) NewHeapArea(req proto.NewHeapArea) (*StackInfo, proto.Err) {
	if err := req.Validate(); err != proto.NoErr {
		return nil, err
	}
	d := m.Domain(req.Domain)
	if d == nil {
		return nil, proto.ErrBadObjectID
	}
	size := m.roundUp(req.Size, m.subSize)
	n := int(m.roundUp(size+m.cfg.GuardBand, d.regionSize) / d.regionSize)
	first, err := m.findFreeRun(d, n, req.Addr)
	if err != proto.NoErr {
		return nil, err
	}
	si := m.reserve(d, first, n)
	si.heap = true
	si.start = si.regionBase
	si.base = si.start
	si.end = si.start + size
	si.owner = req.Owner
	si.slots = make([]subSlot, size/m.subSize)
	m.logf("heap owner=%s [%#x,%#x)", si.owner, si.start, si.end)
	return si, proto.NoErr
}

// Area returns the StackInfo whose reservation contains addr.
func (m *Manager) Area(addr uint32) *StackInfo {
	d := m.domainFor(addr)
	if d == nil {
		return nil
	}
	return d.regions[(addr-d.base)/d.regionSize]
}

// DisposeStack releases every sub-page of the area containing addr,
// including locked ones, and frees its regions.
func (m *Manager) DisposeStack(addr uint32) proto.Err {
	si := m.Area(addr)
	if si == nil {
		return proto.ErrAddressOutOfRange
	}
	freed := 0
	for k := range si.slots {
		if si.slots[k].page != nil {
			m.unbind(si, k)
			freed++
		}
		si.slots[k].locks = 0
	}
	for i := si.firstRegion; i < si.firstRegion+si.regionCount; i++ {
		si.domain.regions[i] = nil
	}
	m.logf("dispose owner=%s [%#x,%#x) freed=%d", si.owner, si.start, si.end, freed)
	if freed > 0 {
		m.notifyFreed()
	}
	return proto.NoErr
}

// AddPageMappingToDomain installs a permanent mapping of pages physical
// pages at vaddr. Faults inside it resolve without allocation.
func (m *Manager) AddPageMappingToDomain(req proto.AddPageMappingToDomain) proto.Err {
	if err := req.Validate(); err != proto.NoErr {
		return err
	}
	d := m.Domain(req.Domain)
	if d == nil {
		return proto.ErrBadObjectID
	}
	size := req.Pages * m.cfg.PageSize
	if req.VAddr%m.cfg.PageSize != 0 || req.PhysAddr%m.cfg.PageSize != 0 {
		return proto.ErrBadParameters
	}
	if !d.contains(req.VAddr) || !d.contains(req.VAddr+size-1) {
		return proto.ErrAddressOutOfRange
	}
	for off := uint32(0); off < size; off += m.cfg.PageSize {
		if si := m.Area(req.VAddr + off); si != nil {
			return proto.ErrAddressOutOfRange
		}
	}
	d.fixed = append(d.fixed, fixedMapping{vaddr: req.VAddr, paddr: req.PhysAddr, size: size, readOnly: req.ReadOnly})
	for off := uint32(0); off < size; off += m.cfg.PageSize {
		m.mmu.rememberFixed(req.VAddr+off, req.PhysAddr+off, req.ReadOnly)
	}
	return proto.NoErr
}

// SetRemoveRoutine installs the owner's own shrinkable-range report.
func (m *Manager) SetRemoveRoutine(addr uint32, fn proto.ReleaseRoutine) proto.Err {
	si := m.Area(addr)
	if si == nil {
		return proto.ErrAddressOutOfRange
	}
	si.routine = fn
	return proto.NoErr
}

// GetHeapAreaInfo describes the area containing addr.
func (m *Manager) GetHeapAreaInfo(addr uint32) (proto.AreaInfo, proto.Err) {
	si := m.Area(addr)
	if si == nil {
		return proto.AreaInfo{}, proto.ErrAddressOutOfRange
	}
	return proto.AreaInfo{
		Start:      si.start,
		End:        si.end,
		RegionBase: si.regionBase,
		RegionEnd:  si.regionEnd,
		Committed:  uint32(si.committed()) * m.subSize,
		Locked:     uint32(si.locked()),
		Heap:       si.heap,
		Owner:      si.owner,
	}, proto.NoErr
}

// SetHeapLimits narrows a heap area's faultable range to [start, end) and
// releases everything outside it.
func (m *Manager) SetHeapLimits(req proto.SetHeapLimits) proto.Err {
	if err := req.Validate(); err != proto.NoErr {
		return err
	}
	si := m.Area(req.Area)
	if si == nil {
		return proto.ErrAddressOutOfRange
	}
	if !si.heap {
		return proto.ErrBadParameters
	}
	start := req.Start / m.subSize * m.subSize
	end := m.roundUp(req.End, m.subSize)
	if start < si.regionBase || end > si.regionEnd-m.cfg.GuardBand {
		return proto.ErrAddressOutOfRange
	}
	// Rebuild the slot array over the new range, carrying bindings that
	// stay inside it.
	slots := make([]subSlot, (end-start)/m.subSize)
	for k, sl := range si.slots {
		addr := si.start + uint32(k)*m.subSize
		if addr >= start && addr < end {
			slots[(addr-start)/m.subSize] = sl
			continue
		}
		if sl.locks > 0 {
			return proto.ErrPermissionViolation
		}
	}
	freed := 0
	for k, sl := range si.slots {
		addr := si.start + uint32(k)*m.subSize
		if (addr < start || addr >= end) && sl.page != nil {
			m.unbind(si, k)
			freed++
		}
	}
	si.start, si.base, si.end, si.slots = start, start, end, slots
	if freed > 0 {
		m.notifyFreed()
	}
	return proto.NoErr
}
