package proto

import "strconv"

// Err is a kernel result code. 0 is success; negative values are named
// outcomes. Positive values are reserved for kernel-internal signalling.
type Err int32

const errBase Err = -10000

const (
	NoErr Err = 0

	ErrBadObjectID Err = errBase - iota
	ErrObjectNotOwned
	ErrObjectNotAssigned
	ErrBadParameters
	ErrBadMessage
	ErrUnknownOpcode
	ErrNoMemory
	ErrNoSuchMonitor
	ErrAlreadyInProgress
	ErrSemaphoreWouldBlock
	ErrSemGroupGone
	ErrBadSemaphoreNumber
	ErrCallAborted
	ErrTimedOut
	ErrNoMessageWaiting
	ErrObjectDestroyed
	ErrCopyTruncated
	ErrReadOnly
	ErrTimerFailed
	ErrNotInMonitor
	ErrTaskNotSuspended
	ErrStackOverflow
	ErrAddressOutOfRange
	ErrPermissionViolation
	ErrNoPagesAvailable
	ErrNoFreeRegions
	ErrRangeNotLocked
	ErrHalted
)

// Suspended is returned by a kernel call that parked the calling task. The
// real result is written to the task's R0 when it is resumed.
const Suspended Err = 1

func (e Err) Error() string { return e.String() }

// Ok reports whether e is NoErr.
func (e Err) Ok() bool { return e == NoErr }

func (e Err) String() string {
	switch e {
	case NoErr:
		return "no error"
	case Suspended:
		return "suspended"
	case ErrBadObjectID:
		return "bad object id"
	case ErrObjectNotOwned:
		return "object not owned by task"
	case ErrObjectNotAssigned:
		return "object not assigned to task"
	case ErrBadParameters:
		return "bad parameters"
	case ErrBadMessage:
		return "bad message"
	case ErrUnknownOpcode:
		return "unknown opcode"
	case ErrNoMemory:
		return "no memory"
	case ErrNoSuchMonitor:
		return "no such monitor"
	case ErrAlreadyInProgress:
		return "call already in progress"
	case ErrSemaphoreWouldBlock:
		return "semaphore would block"
	case ErrSemGroupGone:
		return "semaphore group deleted"
	case ErrBadSemaphoreNumber:
		return "bad semaphore number"
	case ErrCallAborted:
		return "call aborted"
	case ErrTimedOut:
		return "timed out"
	case ErrNoMessageWaiting:
		return "no message waiting"
	case ErrObjectDestroyed:
		return "object destroyed"
	case ErrCopyTruncated:
		return "copy truncated"
	case ErrReadOnly:
		return "shared memory is read-only"
	case ErrTimerFailed:
		return "timer registration failed"
	case ErrNotInMonitor:
		return "not running in a monitor"
	case ErrTaskNotSuspended:
		return "task not suspended"
	case ErrStackOverflow:
		return "stack overflow"
	case ErrAddressOutOfRange:
		return "address out of range"
	case ErrPermissionViolation:
		return "permission violation"
	case ErrNoPagesAvailable:
		return "no pages available"
	case ErrNoFreeRegions:
		return "no free stack regions"
	case ErrRangeNotLocked:
		return "range not locked"
	case ErrHalted:
		return "kernel halted"
	default:
		return "err(" + strconv.Itoa(int(e)) + ")"
	}
}
