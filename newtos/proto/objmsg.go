package proto

// ObjectOp is the object-manager opcode.
type ObjectOp uint8

const (
	ObjCreate ObjectOp = iota + 1
	ObjDestroy
	ObjStart
	ObjSuspend
	ObjSetRegister
	ObjGetRegister
	ObjAddDomain
	ObjGetContent
	ObjRemoveDomain
	ObjSetDomainFaultMonitor
	ObjAssignOwnership
	ObjAcceptOwnership
)

func (op ObjectOp) String() string {
	switch op {
	case ObjCreate:
		return "create"
	case ObjDestroy:
		return "destroy"
	case ObjStart:
		return "start"
	case ObjSuspend:
		return "suspend"
	case ObjSetRegister:
		return "set_register"
	case ObjGetRegister:
		return "get_register"
	case ObjAddDomain:
		return "add_domain"
	case ObjGetContent:
		return "get_content"
	case ObjRemoveDomain:
		return "remove_domain"
	case ObjSetDomainFaultMonitor:
		return "set_domain_fault_monitor"
	case ObjAssignOwnership:
		return "assign_ownership"
	case ObjAcceptOwnership:
		return "accept_ownership"
	default:
		return "unknown"
	}
}

// ObjectRequest is one object-manager request. Each variant validates its
// own shape; the manager never dispatches a request that fails Validate.
type ObjectRequest interface {
	Op() ObjectOp
	Validate() Err
}

// ObjectReply is the object-manager response.
type ObjectReply struct {
	Err   Err
	ID    ObjectID
	Value uint32
	Flag  bool
}

const (
	MinPriority = 0
	MaxPriority = 31
	NumRegs     = 16
)

// SemOp is one element of a semaphore op list.
type SemOp struct {
	Num uint16
	Op  int16
}

// SharedMem permission flags.
const (
	PermReadOnly uint32 = 1 << iota
	PermReadWrite
	PermNoResizeOnCopy
)

type CreateTask struct {
	Name      string
	Entry     string
	Priority  int
	StackSize uint32
	Globals   uint32
	Args      [4]uint32
}

type CreatePort struct{}

type CreateSemList struct {
	Ops []SemOp
}

type CreateSemGroup struct {
	Count int
}

type CreateSharedMem struct {
	Size  uint32
	Perms uint32
}

type CreateSharedMemMsg struct {
	Size  uint32
	Perms uint32
}

type CreateMonitor struct {
	Name      string
	Entry     string
	Priority  int
	StackSize uint32
	Refcon    uint32
}

type CreateEnvironment struct{}

type CreateDomain struct {
	Base uint32
	Size uint32
}

type CreatePhys struct {
	Base     uint32
	Size     uint32
	ReadOnly bool
}

type Destroy struct{ ID ObjectID }

type Start struct{ Task ObjectID }

type Suspend struct{ Task ObjectID }

type SetRegister struct {
	Task  ObjectID
	Reg   int
	Value uint32
}

type GetRegister struct {
	Task ObjectID
	Reg  int
}

type AddDomain struct {
	Env     ObjectID
	Domain  ObjectID
	Manager bool
}

type GetContent struct {
	Env    ObjectID
	Domain ObjectID
}

type RemoveDomain struct {
	Env    ObjectID
	Domain ObjectID
}

type SetDomainFaultMonitor struct {
	Domain  ObjectID
	Monitor ObjectID
}

type AssignOwnership struct {
	Object ObjectID
	To     ObjectID
}

type AcceptOwnership struct {
	Object ObjectID
}

func (CreateTask) Op() ObjectOp            { return ObjCreate }
func (CreatePort) Op() ObjectOp            { return ObjCreate }
func (CreateSemList) Op() ObjectOp         { return ObjCreate }
func (CreateSemGroup) Op() ObjectOp        { return ObjCreate }
func (CreateSharedMem) Op() ObjectOp       { return ObjCreate }
func (CreateSharedMemMsg) Op() ObjectOp    { return ObjCreate }
func (CreateMonitor) Op() ObjectOp         { return ObjCreate }
func (CreateEnvironment) Op() ObjectOp     { return ObjCreate }
func (CreateDomain) Op() ObjectOp          { return ObjCreate }
func (CreatePhys) Op() ObjectOp            { return ObjCreate }
func (Destroy) Op() ObjectOp               { return ObjDestroy }
func (Start) Op() ObjectOp                 { return ObjStart }
func (Suspend) Op() ObjectOp               { return ObjSuspend }
func (SetRegister) Op() ObjectOp           { return ObjSetRegister }
func (GetRegister) Op() ObjectOp           { return ObjGetRegister }
func (AddDomain) Op() ObjectOp             { return ObjAddDomain }
func (GetContent) Op() ObjectOp            { return ObjGetContent }
func (RemoveDomain) Op() ObjectOp          { return ObjRemoveDomain }
func (SetDomainFaultMonitor) Op() ObjectOp { return ObjSetDomainFaultMonitor }
func (AssignOwnership) Op() ObjectOp       { return ObjAssignOwnership }
func (AcceptOwnership) Op() ObjectOp       { return ObjAcceptOwnership }

func validPriority(p int) bool { return p >= MinPriority && p <= MaxPriority }

func (r CreateTask) Validate() Err {
	if r.Entry == "" || !validPriority(r.Priority) {
		return ErrBadParameters
	}
	return NoErr
}

func (CreatePort) Validate() Err { return NoErr }

func (r CreateSemList) Validate() Err {
	if len(r.Ops) == 0 {
		return ErrBadParameters
	}
	return NoErr
}

func (r CreateSemGroup) Validate() Err {
	if r.Count <= 0 || r.Count > 0xFFFF {
		return ErrBadParameters
	}
	return NoErr
}

func validPerms(p uint32) bool {
	return p&^(PermReadOnly|PermReadWrite|PermNoResizeOnCopy) == 0 &&
		p&(PermReadOnly|PermReadWrite) != PermReadOnly|PermReadWrite
}

func (r CreateSharedMem) Validate() Err {
	if !validPerms(r.Perms) {
		return ErrBadParameters
	}
	return NoErr
}

func (r CreateSharedMemMsg) Validate() Err {
	if !validPerms(r.Perms) {
		return ErrBadParameters
	}
	return NoErr
}

func (r CreateMonitor) Validate() Err {
	if r.Entry == "" || !validPriority(r.Priority) {
		return ErrBadParameters
	}
	return NoErr
}

func (CreateEnvironment) Validate() Err { return NoErr }

func (r CreateDomain) Validate() Err {
	if r.Size == 0 || uint64(r.Base)+uint64(r.Size) > 1<<32 {
		return ErrBadParameters
	}
	return NoErr
}

func (r CreatePhys) Validate() Err {
	if r.Size == 0 || uint64(r.Base)+uint64(r.Size) > 1<<32 {
		return ErrBadParameters
	}
	return NoErr
}

func (r Destroy) Validate() Err { return requireID(r.ID) }
func (r Start) Validate() Err   { return requireType(r.Task, TypeTask) }
func (r Suspend) Validate() Err { return requireType(r.Task, TypeTask) }

func (r SetRegister) Validate() Err {
	if r.Reg < 0 || r.Reg >= NumRegs {
		return ErrBadParameters
	}
	return requireType(r.Task, TypeTask)
}

func (r GetRegister) Validate() Err {
	if r.Reg < 0 || r.Reg >= NumRegs {
		return ErrBadParameters
	}
	return requireType(r.Task, TypeTask)
}

func (r AddDomain) Validate() Err    { return envDomain(r.Env, r.Domain) }
func (r GetContent) Validate() Err   { return envDomain(r.Env, r.Domain) }
func (r RemoveDomain) Validate() Err { return envDomain(r.Env, r.Domain) }

func (r SetDomainFaultMonitor) Validate() Err {
	if err := requireType(r.Domain, TypeDomain); err != NoErr {
		return err
	}
	if r.Monitor == NoID {
		return NoErr
	}
	return requireType(r.Monitor, TypeMonitor)
}

func (r AssignOwnership) Validate() Err {
	if err := requireID(r.Object); err != NoErr {
		return err
	}
	return requireType(r.To, TypeTask)
}

func (r AcceptOwnership) Validate() Err { return requireID(r.Object) }

func requireID(id ObjectID) Err {
	if id == NoID {
		return ErrBadObjectID
	}
	return NoErr
}

func requireType(id ObjectID, t ObjectType) Err {
	if id == NoID || id.Type() != t {
		return ErrBadObjectID
	}
	return NoErr
}

func envDomain(env, domain ObjectID) Err {
	if err := requireType(env, TypeEnvironment); err != NoErr {
		return err
	}
	return requireType(domain, TypeDomain)
}
