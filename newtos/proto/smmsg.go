package proto

// SMOp is a stack-manager monitor opcode.
type SMOp uint8

const (
	SMNewStack SMOp = iota + 1
	SMNewHeapArea
	SMSetHeapLimits
	SMFreePagedMem
	SMLockHeapRange
	SMUnlockHeapRange
	SMNewHeapDomain
	SMAddPageMappingToDomain
	SMSetRemoveRoutine
	SMGetHeapAreaInfo
	SMGetSystemReleaseable
	SMDisposeStack
)

func (op SMOp) String() string {
	switch op {
	case SMNewStack:
		return "new_stack"
	case SMNewHeapArea:
		return "new_heap_area"
	case SMSetHeapLimits:
		return "set_heap_limits"
	case SMFreePagedMem:
		return "free_paged_mem"
	case SMLockHeapRange:
		return "lock_heap_range"
	case SMUnlockHeapRange:
		return "unlock_heap_range"
	case SMNewHeapDomain:
		return "new_heap_domain"
	case SMAddPageMappingToDomain:
		return "add_page_mapping_to_domain"
	case SMSetRemoveRoutine:
		return "set_remove_routine"
	case SMGetHeapAreaInfo:
		return "get_heap_area_info"
	case SMGetSystemReleaseable:
		return "get_system_releaseable"
	case SMDisposeStack:
		return "dispose_stack"
	default:
		return "unknown"
	}
}

// SMRequest is one stack-manager request.
type SMRequest interface {
	Op() SMOp
	Validate() Err
}

// AnyAddress asks the stack manager to choose the placement.
const AnyAddress uint32 = 0

// ReleaseRoutine reports the range of an area that may be released without
// losing live data. ok=false means nothing may be released.
type ReleaseRoutine func(areaStart, areaEnd uint32) (start, end uint32, ok bool)

// AreaInfo describes one stack or heap area.
type AreaInfo struct {
	Start      uint32 // lowest faultable address
	End        uint32 // one past the highest faultable address
	RegionBase uint32
	RegionEnd  uint32
	Committed  uint32 // bytes currently backed by sub-pages
	Locked     uint32 // sub-pages currently pinned
	Heap       bool
	Owner      ObjectID
}

// SMReply is the stack-manager response.
type SMReply struct {
	Err   Err
	Start uint32
	End   uint32
	Count uint32
	Info  AreaInfo
}

type NewStack struct {
	Domain   ObjectID
	Addr     uint32
	Size     uint32
	Owner    ObjectID
	ReadOnly bool
}

type NewHeapArea struct {
	Domain ObjectID
	Addr   uint32
	Size   uint32
	Owner  ObjectID
}

type SetHeapLimits struct {
	Area  uint32
	Start uint32
	End   uint32
}

type FreePagedMem struct {
	Area  uint32
	Start uint32
	End   uint32
}

type LockHeapRange struct {
	Start uint32
	End   uint32
}

type UnlockHeapRange struct {
	Start uint32
	End   uint32
}

type NewHeapDomain struct {
	Domain     ObjectID
	Base       uint32
	Size       uint32
	RegionSize uint32
}

type AddPageMappingToDomain struct {
	Domain   ObjectID
	VAddr    uint32
	PhysAddr uint32
	Pages    uint32
	ReadOnly bool
}

type SetRemoveRoutine struct {
	Area    uint32
	Routine ReleaseRoutine
}

type GetHeapAreaInfo struct {
	Area uint32
}

type GetSystemReleaseable struct{}

type DisposeStack struct {
	Area uint32
}

func (NewStack) Op() SMOp               { return SMNewStack }
func (NewHeapArea) Op() SMOp            { return SMNewHeapArea }
func (SetHeapLimits) Op() SMOp          { return SMSetHeapLimits }
func (FreePagedMem) Op() SMOp           { return SMFreePagedMem }
func (LockHeapRange) Op() SMOp          { return SMLockHeapRange }
func (UnlockHeapRange) Op() SMOp        { return SMUnlockHeapRange }
func (NewHeapDomain) Op() SMOp          { return SMNewHeapDomain }
func (AddPageMappingToDomain) Op() SMOp { return SMAddPageMappingToDomain }
func (SetRemoveRoutine) Op() SMOp       { return SMSetRemoveRoutine }
func (GetHeapAreaInfo) Op() SMOp        { return SMGetHeapAreaInfo }
func (GetSystemReleaseable) Op() SMOp   { return SMGetSystemReleaseable }
func (DisposeStack) Op() SMOp           { return SMDisposeStack }

func (r NewStack) Validate() Err {
	if r.Size == 0 {
		return ErrBadParameters
	}
	return NoErr
}

func (r NewHeapArea) Validate() Err {
	if r.Size == 0 {
		return ErrBadParameters
	}
	return NoErr
}

func (r SetHeapLimits) Validate() Err { return validRange(r.Start, r.End) }
func (r FreePagedMem) Validate() Err  { return validRange(r.Start, r.End) }

func (r LockHeapRange) Validate() Err   { return validRange(r.Start, r.End) }
func (r UnlockHeapRange) Validate() Err { return validRange(r.Start, r.End) }

func (r NewHeapDomain) Validate() Err {
	if r.Size == 0 || r.RegionSize == 0 || r.Size%r.RegionSize != 0 {
		return ErrBadParameters
	}
	if uint64(r.Base)+uint64(r.Size) > 1<<32 {
		return ErrBadParameters
	}
	return NoErr
}

func (r AddPageMappingToDomain) Validate() Err {
	if r.Pages == 0 {
		return ErrBadParameters
	}
	return NoErr
}

func (SetRemoveRoutine) Validate() Err     { return NoErr }
func (GetHeapAreaInfo) Validate() Err      { return NoErr }
func (GetSystemReleaseable) Validate() Err { return NoErr }
func (DisposeStack) Validate() Err         { return NoErr }

func validRange(start, end uint32) Err {
	if end < start {
		return ErrBadParameters
	}
	return NoErr
}
