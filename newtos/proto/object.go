package proto

import "fmt"

// ObjectID is an opaque kernel object handle: a type tag in the low bits and
// a generation counter above it.
type ObjectID uint32

// NoID never names a live object.
const NoID ObjectID = 0

const (
	IDTypeBits = 4
	IDTypeMask = 1<<IDTypeBits - 1
)

// ObjectType is the type tag carried in an ObjectID.
type ObjectType uint8

const (
	TypeUnknown ObjectType = iota
	TypePort
	TypeTask
	TypeEnvironment
	TypeDomain
	TypeSemList
	TypeSemGroup
	TypeSharedMem
	TypeSharedMemMsg
	TypeMonitor
	TypePhysMem
)

func (t ObjectType) String() string {
	switch t {
	case TypePort:
		return "port"
	case TypeTask:
		return "task"
	case TypeEnvironment:
		return "environment"
	case TypeDomain:
		return "domain"
	case TypeSemList:
		return "semlist"
	case TypeSemGroup:
		return "semgroup"
	case TypeSharedMem:
		return "sharedmem"
	case TypeSharedMemMsg:
		return "sharedmemmsg"
	case TypeMonitor:
		return "monitor"
	case TypePhysMem:
		return "physmem"
	default:
		return "unknown"
	}
}

// Type returns the type tag of id.
func (id ObjectID) Type() ObjectType { return ObjectType(id & IDTypeMask) }

// Counter returns the generation counter of id.
func (id ObjectID) Counter() uint32 { return uint32(id) >> IDTypeBits }

func (id ObjectID) String() string {
	if id == NoID {
		return "none"
	}
	return fmt.Sprintf("%s#%d", id.Type(), id.Counter())
}

// MakeID combines a counter and a type tag.
func MakeID(counter uint32, t ObjectType) ObjectID {
	return ObjectID(counter<<IDTypeBits | uint32(t)&IDTypeMask)
}
