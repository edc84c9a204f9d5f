package proto

// SWI is a trap number. Arguments travel in R1..R7 of the calling task; the
// result code comes back in R0 and any return values in R1..R3. Go values
// that have no register form (buffers, requests, replies) ride in the
// task's SWI argument slot.
//
//	port_send     R1 port, R2 msg, R3 reply mem, R4 type, R5 flags, R6 timeout µs, R7 notify port
//	port_receive  R1 port, R2 msg, R3 filter, R4 flags, R5 timeout µs, R6 notify port
//	              -> R1 size, R2 type, R3 sender msg
//	port_reset    R1 port, R2 sender action, R3 receiver action
//	port_reply    R1 sender msg, R2 reply source mem, R3 result code
//	port_cancel   R1 msg
//	sem_op        R1 group, R2 list, R3 blocking mode
//	monitor_entry R1 monitor, R2 selector, R3 context
//	set_buffer    R1 mem, R2 size, R3 perms; slot []byte
//	get_size      R1 mem -> R1 size, R2 allocated, R3 message status
//	copy_*_shared R1 mem, R2 offset; slot []byte -> R1 bytes copied
//	fault         R1 address, R2 write
type SWI uint8

const (
	SWIGeneric SWI = iota + 1 // R1 = GenericSelector
	SWIPortSend
	SWIPortReceive
	SWIPortReset
	SWIPortReply
	SWIPortCancel
	SWISemOp
	SWIMonitorEntry
	SWIObjectManager
	SWIStackManager
	SWISetBuffer
	SWIGetSize
	SWICopyToShared
	SWICopyFromShared
	SWIFault
)

func (s SWI) String() string {
	switch s {
	case SWIGeneric:
		return "generic"
	case SWIPortSend:
		return "port_send"
	case SWIPortReceive:
		return "port_receive"
	case SWIPortReset:
		return "port_reset"
	case SWIPortReply:
		return "port_reply"
	case SWIPortCancel:
		return "port_cancel"
	case SWISemOp:
		return "sem_op"
	case SWIMonitorEntry:
		return "monitor_entry"
	case SWIObjectManager:
		return "object_manager"
	case SWIStackManager:
		return "stack_manager"
	case SWISetBuffer:
		return "set_buffer"
	case SWIGetSize:
		return "get_size"
	case SWICopyToShared:
		return "copy_to_shared"
	case SWICopyFromShared:
		return "copy_from_shared"
	case SWIFault:
		return "fault"
	default:
		return "unknown"
	}
}

// GenericSelector picks an entry of the generic SWI table.
type GenericSelector uint32

const (
	GenGetCurrentTaskID GenericSelector = iota + 1
	GenGetTaskPriority
	GenSetTaskPriority
	GenYield
	GenDelay
	GenSetBequeath
	GenGetBequeath
	GenExitTask
	GenRemember
	GenRememberPerm
	GenForget
	GenSemGroupGetRefCon
	GenSemGroupSetRefCon
	GenGetCurrentEnvironment
	GenAddDomainToEnvironment
	GenRemoveDomainFromEnvironment
	GenEnvironmentHasDomain
	GenGetRealTime
	GenSetRealTimeAlarm
	GenGetTicks
	GenGetCPUTime
	GenLockHeapRange
	GenUnlockHeapRange
	GenGetSystemReleaseable
	GenPowerOff
	GenReboot
	GenScavenge
	GenObjectExists
	GenGetObjectOwner
)

func (s GenericSelector) String() string {
	switch s {
	case GenGetCurrentTaskID:
		return "get_current_task_id"
	case GenGetTaskPriority:
		return "get_task_priority"
	case GenSetTaskPriority:
		return "set_task_priority"
	case GenYield:
		return "yield"
	case GenDelay:
		return "delay"
	case GenSetBequeath:
		return "set_bequeath"
	case GenGetBequeath:
		return "get_bequeath"
	case GenExitTask:
		return "exit_task"
	case GenRemember:
		return "remember"
	case GenRememberPerm:
		return "remember_perm"
	case GenForget:
		return "forget"
	case GenSemGroupGetRefCon:
		return "sem_group_get_refcon"
	case GenSemGroupSetRefCon:
		return "sem_group_set_refcon"
	case GenGetCurrentEnvironment:
		return "get_current_environment"
	case GenAddDomainToEnvironment:
		return "add_domain_to_environment"
	case GenRemoveDomainFromEnvironment:
		return "remove_domain_from_environment"
	case GenEnvironmentHasDomain:
		return "environment_has_domain"
	case GenGetRealTime:
		return "get_real_time"
	case GenSetRealTimeAlarm:
		return "set_real_time_alarm"
	case GenGetTicks:
		return "get_ticks"
	case GenGetCPUTime:
		return "get_cpu_time"
	case GenLockHeapRange:
		return "lock_heap_range"
	case GenUnlockHeapRange:
		return "unlock_heap_range"
	case GenGetSystemReleaseable:
		return "get_system_releaseable"
	case GenPowerOff:
		return "power_off"
	case GenReboot:
		return "reboot"
	case GenScavenge:
		return "scavenge"
	case GenObjectExists:
		return "object_exists"
	case GenGetObjectOwner:
		return "get_object_owner"
	default:
		return "unknown"
	}
}

// Port call flags.
const (
	PortUrgent uint32 = 1 << iota
	PortAsync
	PortRPC
	PortIsMsgAvail
	PortWantTimer
)

// Port reset actions, chosen per direction.
const (
	ResetNone uint32 = iota
	ResetAbort
	ResetTimeout
)

// NotifyMsgType tags the completion notices the kernel posts to an
// asynchronous sender's notify port. The payload is the completed message id
// and its result code, both little-endian uint32.
const NotifyMsgType uint32 = 1 << 31

// MatchAll is the receive filter that accepts any message type.
const MatchAll uint32 = 0xFFFFFFFF

// Semaphore blocking modes.
const (
	SemNoWait uint32 = iota
	SemWaitOk
)
