package stackmgr

import (
	"bytes"
	"testing"

	"newtcore/newtos/proto"
)

const (
	testDomain     = proto.ObjectID(0x14)
	testBase       = 0x10000000
	testRegionSize = 0x4000
	testRegions    = 8
)

type fakeOwners map[proto.ObjectID]uint32

func (f fakeOwners) StackPointer(owner proto.ObjectID) (uint32, bool) {
	sp, ok := f[owner]
	return sp, ok
}

func newTestManager(t *testing.T, pages int, owners fakeOwners) *Manager {
	t.Helper()
	m := New(Config{}, owners)
	if _, err := m.NewHeapDomain(testDomain, testBase, testRegionSize*testRegions, testRegionSize); err != proto.NoErr {
		t.Fatalf("NewHeapDomain() = %v, want %v", err, proto.NoErr)
	}
	m.AddPages(0x00800000, pages)
	return m
}

func newTestStack(t *testing.T, m *Manager, owner proto.ObjectID, size uint32) *StackInfo {
	t.Helper()
	si, err := m.NewStack(proto.NewStack{Domain: testDomain, Size: size, Owner: owner})
	if err != proto.NoErr {
		t.Fatalf("NewStack() = %v, want %v", err, proto.NoErr)
	}
	return si
}

func TestNewStackLayout(t *testing.T) {
	m := newTestManager(t, 4, nil)
	si := newTestStack(t, m, 0x12, 4096)

	if si.End() != testBase+testRegionSize {
		t.Fatalf("End() = %#x, want %#x", si.End(), testBase+testRegionSize)
	}
	if si.Base() != si.End()-4096 {
		t.Fatalf("Base() = %#x, want %#x", si.Base(), si.End()-4096)
	}
	if si.Start() != si.Base()-m.SubPageSize() {
		t.Fatalf("Start() = %#x, want base minus one sub-page", si.Start())
	}
	if guard := si.Start() - si.RegionBase(); guard < m.PageSize() {
		t.Fatalf("guard band = %d bytes, want >= %d", guard, m.PageSize())
	}
}

func TestNewStackSpansRegions(t *testing.T) {
	m := newTestManager(t, 4, nil)
	si := newTestStack(t, m, 0x12, testRegionSize)
	if si.regionCount != 2 {
		t.Fatalf("regionCount = %d, want 2", si.regionCount)
	}
	if got := m.Area(si.RegionBase() + testRegionSize - 1); got != si {
		t.Fatalf("Area(first region) = %p, want %p", got, si)
	}
}

func TestNewStackRegionsExhausted(t *testing.T) {
	m := newTestManager(t, 4, nil)
	for i := 0; i < testRegions; i++ {
		newTestStack(t, m, proto.ObjectID(0x12+i<<4), 1024)
	}
	if _, err := m.NewStack(proto.NewStack{Domain: testDomain, Size: 1024}); err != proto.ErrNoFreeRegions {
		t.Fatalf("NewStack() = %v, want %v", err, proto.ErrNoFreeRegions)
	}
}

func TestNewStackFixedAddress(t *testing.T) {
	m := newTestManager(t, 4, nil)
	addr := uint32(testBase + 3*testRegionSize)
	si, err := m.NewStack(proto.NewStack{Domain: testDomain, Addr: addr, Size: 1024})
	if err != proto.NoErr {
		t.Fatalf("NewStack(fixed) = %v, want %v", err, proto.NoErr)
	}
	if si.RegionBase() != addr {
		t.Fatalf("RegionBase() = %#x, want %#x", si.RegionBase(), addr)
	}
	if _, err := m.NewStack(proto.NewStack{Domain: testDomain, Addr: addr, Size: 1024}); err != proto.ErrNoFreeRegions {
		t.Fatalf("NewStack(taken) = %v, want %v", err, proto.ErrNoFreeRegions)
	}
	if _, err := m.NewStack(proto.NewStack{Domain: testDomain, Addr: addr + 4, Size: 1024}); err != proto.ErrBadParameters {
		t.Fatalf("NewStack(unaligned) = %v, want %v", err, proto.ErrBadParameters)
	}
}

func TestFaultIdempotent(t *testing.T) {
	m := newTestManager(t, 4, nil)
	si := newTestStack(t, m, 0x12, 4096)
	before := m.FreeSubPages()

	addr := si.End() - 4
	for i := 0; i < 3; i++ {
		if err := m.Fault(FaultState{Addr: addr, Write: true}); err != proto.NoErr {
			t.Fatalf("Fault() #%d = %v, want %v", i, err, proto.NoErr)
		}
		if got := m.FreeSubPages(); got != before-1 {
			t.Fatalf("FreeSubPages() after fault #%d = %d, want %d", i, got, before-1)
		}
	}

	m.MMU().Forget(addr)
	if err := m.Fault(FaultState{Addr: addr}); err != proto.NoErr {
		t.Fatalf("Fault() after Forget = %v, want %v", err, proto.NoErr)
	}
	if got := m.FreeSubPages(); got != before-1 {
		t.Fatalf("FreeSubPages() after re-fault = %d, want %d", got, before-1)
	}
	if _, fault, _ := m.MMU().Lookup(addr, true); fault {
		t.Fatal("Lookup() faults after re-fault, want mapped")
	}
}

func TestFaultGuardBandOverflow(t *testing.T) {
	m := newTestManager(t, 4, nil)
	si := newTestStack(t, m, 0x12, 4096)
	before := m.FreeSubPages()

	for _, addr := range []uint32{si.RegionBase() + 1, si.Start() - 1} {
		if err := m.Fault(FaultState{Addr: addr, Write: true}); err != proto.ErrStackOverflow {
			t.Fatalf("Fault(%#x) = %v, want %v", addr, err, proto.ErrStackOverflow)
		}
	}
	if got := m.FreeSubPages(); got != before {
		t.Fatalf("FreeSubPages() = %d, want %d (no page mapped)", got, before)
	}
	if err := m.Fault(FaultState{Addr: si.Start(), Write: true}); err != proto.NoErr {
		t.Fatalf("Fault(twilight) = %v, want %v", err, proto.NoErr)
	}
}

func TestFaultOutsideDomain(t *testing.T) {
	m := newTestManager(t, 4, nil)
	if err := m.Fault(FaultState{Addr: 0x100}); err != proto.ErrAddressOutOfRange {
		t.Fatalf("Fault() = %v, want %v", err, proto.ErrAddressOutOfRange)
	}
	free := uint32(testBase + 5*testRegionSize + 8)
	if err := m.Fault(FaultState{Addr: free}); err != proto.ErrStackOverflow {
		t.Fatalf("Fault(unreserved region) = %v, want %v", err, proto.ErrStackOverflow)
	}
}

func TestFaultReadOnly(t *testing.T) {
	m := newTestManager(t, 4, nil)
	si, err := m.NewStack(proto.NewStack{Domain: testDomain, Size: 1024, ReadOnly: true})
	if err != proto.NoErr {
		t.Fatalf("NewStack() = %v", err)
	}
	if err := m.Fault(FaultState{Addr: si.End() - 4, Write: true}); err != proto.ErrPermissionViolation {
		t.Fatalf("Fault(write) = %v, want %v", err, proto.ErrPermissionViolation)
	}
	if err := m.Fault(FaultState{Addr: si.End() - 4}); err != proto.NoErr {
		t.Fatalf("Fault(read) = %v, want %v", err, proto.NoErr)
	}
	if err := m.Access(0, si.End()-4, true); err != proto.ErrPermissionViolation {
		t.Fatalf("Access(write) = %v, want %v", err, proto.ErrPermissionViolation)
	}
}

func TestSubPagesSharePage(t *testing.T) {
	m := newTestManager(t, 4, nil)
	heap, err := m.NewHeapArea(proto.NewHeapArea{Domain: testDomain, Size: 3072, Owner: 0x22})
	if err != proto.NoErr {
		t.Fatalf("NewHeapArea() = %v", err)
	}
	stack := newTestStack(t, m, 0x12, 4096)

	if err := m.Fault(FaultState{Addr: heap.Start()}); err != proto.NoErr {
		t.Fatalf("Fault(heap) = %v", err)
	}
	// The stack's lowest sub-page sits at position 3 of its virtual page,
	// the one slot the heap's page cannot use.
	if err := m.Fault(FaultState{Addr: stack.Start()}); err != proto.NoErr {
		t.Fatalf("Fault(stack) = %v", err)
	}
	if heap.slots[0].page != stack.slots[0].page {
		t.Fatal("heap and stack sub-pages landed on different pages, want shared")
	}
	if got, want := m.FreeSubPages(), 4*SubPagesPerPage-2; got != want {
		t.Fatalf("FreeSubPages() = %d, want %d", got, want)
	}
}

func TestConflictingSlotMigrates(t *testing.T) {
	m := newTestManager(t, 4, nil)
	stack := newTestStack(t, m, 0x12, 4096)
	heap, err := m.NewHeapArea(proto.NewHeapArea{Domain: testDomain, Size: 3072, Owner: 0x22})
	if err != proto.NoErr {
		t.Fatalf("NewHeapArea() = %v", err)
	}

	top := stack.End() - 4
	if err := m.Store(0x12, top, []byte("abcd")); err != proto.NoErr {
		t.Fatalf("Store(stack top) = %v", err)
	}
	if err := m.Store(0x22, heap.Start()+2048, []byte("x")); err != proto.NoErr {
		t.Fatalf("Store(heap) = %v", err)
	}
	first := stack.slots[len(stack.slots)-1].page
	if heap.slots[2].page != first {
		t.Fatal("heap did not pack into the stack's page")
	}

	// Position 2 of the stack's top page now belongs to the heap.
	if err := m.Store(0x12, stack.End()-1024-4, []byte("efgh")); err != proto.NoErr {
		t.Fatalf("Store(conflicting slot) = %v", err)
	}
	moved := stack.slots[len(stack.slots)-1].page
	if moved == first {
		t.Fatal("stack top page not migrated")
	}
	if m.PageUse(stack) != 1 {
		t.Fatalf("PageUse() = %d, want 1", m.PageUse(stack))
	}
	got := make([]byte, 4)
	if err := m.Load(0x12, top, got); err != proto.NoErr {
		t.Fatalf("Load() = %v", err)
	}
	if !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("Load() = %q, want %q", got, "abcd")
	}
	e, ok := m.MMU().Entry(top)
	if !ok || e.Phys != moved.Phys() {
		t.Fatalf("MMU entry = %+v, want phys %#x", e, moved.Phys())
	}
}

func faultAll(t *testing.T, m *Manager, si *StackInfo) {
	t.Helper()
	for addr := si.Start(); addr < si.End(); addr += m.SubPageSize() {
		if err := m.Fault(FaultState{Addr: addr, Write: true}); err != proto.NoErr {
			t.Fatalf("Fault(%#x) = %v", addr, err)
		}
	}
}

func TestReleaseKeepsLiveStack(t *testing.T) {
	owners := fakeOwners{}
	m := newTestManager(t, 4, owners)
	si := newTestStack(t, m, 0x12, 4096)
	faultAll(t, m, si)
	owners[0x12] = si.End() - 1024

	n := m.ReleasePagesInOneStack(si, 0)
	if n != len(si.slots)-1 {
		t.Fatalf("ReleasePagesInOneStack() = %d, want %d", n, len(si.slots)-1)
	}
	if si.slots[len(si.slots)-1].page == nil {
		t.Fatal("sub-page at the stack pointer was released")
	}
	if m.ReleasePagesInOneStack(si, 0) != 0 {
		t.Fatal("second release freed pages, want none")
	}
}

func TestReleaseUsesRemoveRoutine(t *testing.T) {
	m := newTestManager(t, 4, nil)
	heap, err := m.NewHeapArea(proto.NewHeapArea{Domain: testDomain, Size: 4096, Owner: 0x22})
	if err != proto.NoErr {
		t.Fatalf("NewHeapArea() = %v", err)
	}
	faultAll(t, m, heap)
	if m.ReleasePagesInOneStack(heap, 0) != 0 {
		t.Fatal("heap without routine released pages")
	}
	err = m.SetRemoveRoutine(heap.Start(), func(start, end uint32) (uint32, uint32, bool) {
		return start + 2048, end, true
	})
	if err != proto.NoErr {
		t.Fatalf("SetRemoveRoutine() = %v", err)
	}
	if n := m.ReleasePagesInOneStack(heap, 0); n != 2 {
		t.Fatalf("ReleasePagesInOneStack() = %d, want 2", n)
	}
	if heap.slots[0].page == nil || heap.slots[1].page == nil {
		t.Fatal("sub-pages below the routine's range were released")
	}
}

func TestRoundRobinRelease(t *testing.T) {
	owners := fakeOwners{}
	m := newTestManager(t, 8, owners)
	a := newTestStack(t, m, 0x12, 2048)
	b := newTestStack(t, m, 0x22, 2048)
	faultAll(t, m, a)
	faultAll(t, m, b)
	owners[0x12] = a.End()
	owners[0x22] = b.End()

	if n := m.RoundRobinPageRelease(1); n != 1 {
		t.Fatalf("RoundRobinPageRelease() = %d, want 1", n)
	}
	if n := m.RoundRobinPageRelease(1); n != 1 {
		t.Fatalf("RoundRobinPageRelease() = %d, want 1", n)
	}
	if a.committed() != len(a.slots)-1 || b.committed() != len(b.slots)-1 {
		t.Fatalf("committed a=%d b=%d, want one released from each", a.committed(), b.committed())
	}
}

func TestNoPagesAvailable(t *testing.T) {
	owners := fakeOwners{}
	m := newTestManager(t, 1, owners)
	a := newTestStack(t, m, 0x12, 4096)
	b := newTestStack(t, m, 0x22, 4096)
	owners[0x12] = a.Start()
	for addr := a.End() - 4096; addr < a.End(); addr += m.SubPageSize() {
		if err := m.Fault(FaultState{Addr: addr}); err != proto.NoErr {
			t.Fatalf("Fault(%#x) = %v", addr, err)
		}
	}
	if err := m.Fault(FaultState{Addr: b.End() - 4}); err != proto.ErrNoPagesAvailable {
		t.Fatalf("Fault() = %v, want %v", err, proto.ErrNoPagesAvailable)
	}

	freed := 0
	m.OnPagesFreed(func() { freed++ })
	owners[0x12] = a.End()
	if err := m.Fault(FaultState{Addr: b.End() - 4}); err != proto.NoErr {
		t.Fatalf("Fault() after release = %v, want %v", err, proto.NoErr)
	}
	if freed == 0 {
		t.Fatal("OnPagesFreed callback not run")
	}
}

func TestLockHeapRange(t *testing.T) {
	m := newTestManager(t, 4, nil)
	heap, err := m.NewHeapArea(proto.NewHeapArea{Domain: testDomain, Size: 4096, Owner: 0x22})
	if err != proto.NoErr {
		t.Fatalf("NewHeapArea() = %v", err)
	}
	_ = m.SetRemoveRoutine(heap.Start(), func(start, end uint32) (uint32, uint32, bool) { return start, end, true })

	if err := m.LockHeapRange(heap.Start(), heap.Start()+2048); err != proto.NoErr {
		t.Fatalf("LockHeapRange() = %v", err)
	}
	if heap.committed() != 2 {
		t.Fatalf("committed = %d, want 2", heap.committed())
	}
	if n := m.ReleasePagesInOneStack(heap, 0); n != 0 {
		t.Fatalf("ReleasePagesInOneStack() = %d, want 0 for locked range", n)
	}
	if err := m.UnlockHeapRange(heap.Start(), heap.Start()+3072); err != proto.ErrRangeNotLocked {
		t.Fatalf("UnlockHeapRange(partly unlocked) = %v, want %v", err, proto.ErrRangeNotLocked)
	}
	if heap.locked() != 2 {
		t.Fatalf("locked = %d, want 2 after failed unlock", heap.locked())
	}
	if err := m.UnlockHeapRange(heap.Start(), heap.Start()+2048); err != proto.NoErr {
		t.Fatalf("UnlockHeapRange() = %v", err)
	}
	if n := m.ReleasePagesInOneStack(heap, 0); n != 2 {
		t.Fatalf("ReleasePagesInOneStack() = %d, want 2", n)
	}
}

func TestLockHeapRangeUnwinds(t *testing.T) {
	m := newTestManager(t, 4, nil)
	heap, err := m.NewHeapArea(proto.NewHeapArea{Domain: testDomain, Size: 2048, Owner: 0x22})
	if err != proto.NoErr {
		t.Fatalf("NewHeapArea() = %v", err)
	}
	if err := m.LockHeapRange(heap.Start(), heap.End()+1024); err != proto.ErrAddressOutOfRange {
		t.Fatalf("LockHeapRange() = %v, want %v", err, proto.ErrAddressOutOfRange)
	}
	info, _ := m.GetHeapAreaInfo(heap.Start())
	if info.Locked != 0 {
		t.Fatalf("Locked = %d, want 0 after unwind", info.Locked)
	}
}

func TestSetHeapLimits(t *testing.T) {
	m := newTestManager(t, 4, nil)
	heap, err := m.NewHeapArea(proto.NewHeapArea{Domain: testDomain, Size: 4096, Owner: 0x22})
	if err != proto.NoErr {
		t.Fatalf("NewHeapArea() = %v", err)
	}
	faultAll(t, m, heap)
	start := heap.Start()
	if err := m.SetHeapLimits(proto.SetHeapLimits{Area: start, Start: start, End: start + 1024}); err != proto.NoErr {
		t.Fatalf("SetHeapLimits() = %v", err)
	}
	if heap.End() != start+1024 || heap.committed() != 1 {
		t.Fatalf("End() = %#x committed = %d, want %#x and 1", heap.End(), heap.committed(), start+1024)
	}
	if err := m.Fault(FaultState{Addr: start + 2048}); err != proto.ErrStackOverflow {
		t.Fatalf("Fault(beyond limit) = %v, want %v", err, proto.ErrStackOverflow)
	}
}

func TestDisposeStack(t *testing.T) {
	m := newTestManager(t, 4, nil)
	si := newTestStack(t, m, 0x12, 4096)
	faultAll(t, m, si)
	if err := m.DisposeStack(si.End() - 1); err != proto.NoErr {
		t.Fatalf("DisposeStack() = %v", err)
	}
	if got, want := m.FreeSubPages(), 4*SubPagesPerPage; got != want {
		t.Fatalf("FreeSubPages() = %d, want %d", got, want)
	}
	if m.MMU().Len() != 0 {
		t.Fatalf("MMU().Len() = %d, want 0", m.MMU().Len())
	}
	if m.Area(si.End()-1) != nil {
		t.Fatal("region still reserved after dispose")
	}
}

func TestFixedMapping(t *testing.T) {
	m := newTestManager(t, 4, nil)
	vaddr := uint32(testBase + 7*testRegionSize)
	req := proto.AddPageMappingToDomain{Domain: testDomain, VAddr: vaddr, PhysAddr: 0x00F00000, Pages: 1, ReadOnly: true}
	if err := m.AddPageMappingToDomain(req); err != proto.NoErr {
		t.Fatalf("AddPageMappingToDomain() = %v", err)
	}
	before := m.FreeSubPages()
	m.MMU().Forget(vaddr)
	if err := m.Fault(FaultState{Addr: vaddr + 16}); err != proto.NoErr {
		t.Fatalf("Fault(read) = %v", err)
	}
	if err := m.Fault(FaultState{Addr: vaddr + 16, Write: true}); err != proto.ErrPermissionViolation {
		t.Fatalf("Fault(write) = %v, want %v", err, proto.ErrPermissionViolation)
	}
	if m.FreeSubPages() != before {
		t.Fatal("fixed mapping fault allocated a page")
	}
}

func TestHandle(t *testing.T) {
	owners := fakeOwners{}
	m := newTestManager(t, 4, owners)

	r := m.Handle(proto.NewStack{Domain: testDomain, Size: 2048, Owner: 0x12})
	if r.Err != proto.NoErr || r.End-r.Start != 2048+m.SubPageSize() {
		t.Fatalf("Handle(NewStack) = %+v", r)
	}
	if r := m.Handle(proto.LockHeapRange{Start: r.End - 1024, End: r.End}); r.Err != proto.NoErr {
		t.Fatalf("Handle(LockHeapRange) = %+v", r)
	}
	info := m.Handle(proto.GetHeapAreaInfo{Area: r.Start})
	if info.Err != proto.NoErr || info.Info.Locked != 1 || info.Info.Owner != 0x12 {
		t.Fatalf("Handle(GetHeapAreaInfo) = %+v", info)
	}
	owners[0x12] = r.End
	if got := m.Handle(proto.GetSystemReleaseable{}); got.Count != 0 {
		t.Fatalf("GetSystemReleaseable = %d, want 0 (only a locked sub-page is bound)", got.Count)
	}
	if got := m.Handle(nil); got.Err != proto.ErrBadMessage {
		t.Fatalf("Handle(nil) = %v, want %v", got.Err, proto.ErrBadMessage)
	}
	if got := m.Handle(proto.NewHeapDomain{Domain: 0x24, Base: 0x20000000, Size: 100, RegionSize: 64}); got.Err != proto.ErrBadParameters {
		t.Fatalf("Handle(NewHeapDomain) = %v, want %v", got.Err, proto.ErrBadParameters)
	}
}
