package tcmu

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

// errShortTransfer is the sentinel ErrnoToStatus maps to an I/O-error sense
// when a backend's ReadAt/WriteAt returns fewer bytes than the CDB
// requested without an explicit error (spec.md §4.3/§7's short-transfer rule).
var errShortTransfer = errors.New("tcmu: short transfer")

// Status is the SCSI status code a command completes with, plus the two
// internal sentinels the dispatch engine uses to signal control flow to
// its own callers (they must never reach Transport.CommandComplete).
type Status int

// SCSI status codes (spec.md §6) and the engine's internal sentinels.
const (
	// StatusGood indicates successful completion.
	StatusGood Status = iota
	// StatusCheckCondition indicates an error is reported via sense data.
	StatusCheckCondition
	// StatusBusy indicates the device is temporarily unable to accept the command.
	StatusBusy
	// StatusTaskSetFull indicates resource exhaustion (mapped from -ENOMEM).
	StatusTaskSetFull

	// StatusAsyncHandled is returned by Dispatch to mean "do nothing more;
	// completion will arrive out-of-band." It is never a terminal status
	// delivered to a transport.
	StatusAsyncHandled
	// StatusNotHandled is returned by the router/passthrough path to mean
	// "this path declines; try another." It is never a terminal status
	// delivered to a transport.
	StatusNotHandled
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "GOOD"
	case StatusCheckCondition:
		return "CHECK_CONDITION"
	case StatusBusy:
		return "BUSY"
	case StatusTaskSetFull:
		return "TASK_SET_FULL"
	case StatusAsyncHandled:
		return "ASYNC_HANDLED"
	case StatusNotHandled:
		return "NOT_HANDLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is a status a caller may hand to
// Transport.CommandComplete. The two internal sentinels are not.
func (s Status) Terminal() bool {
	return s != StatusAsyncHandled && s != StatusNotHandled
}

// SenseKey is the SCSI sense key, the first classification level of a
// CHECK CONDITION's sense data.
type SenseKey uint8

const (
	SenseNoSense        SenseKey = 0x00
	SenseNotReady       SenseKey = 0x02
	SenseMediumError    SenseKey = 0x03
	SenseMiscompare     SenseKey = 0x0E
)

// ASC is an additional sense code, the second classification level.
type ASC uint16 // high byte = ASC, low byte = ASCQ

const (
	ASCReadError                     ASC = 0x1100 // MEDIUM ERROR / READ ERROR
	ASCWriteError                    ASC = 0x0C00 // MEDIUM ERROR / WRITE ERROR
	ASCMiscompareDuringVerify        ASC = 0x1D00 // MISCOMPARE DURING VERIFY OPERATION
	ASCStateTransition               ASC = 0x040A // LOGICAL UNIT NOT ACCESSIBLE, ASYMMETRIC ACCESS STATE TRANSITION
)

// SetSense fills cmd's sense buffer with fixed-format sense data for the
// given key/ASC and returns StatusCheckCondition. When info is non-nil its
// value is written into the sense data's INFORMATION field with the VALID
// bit set — this is how CAW/write-verify miscompares carry the mismatch
// byte offset (spec.md §4.6/§4.7).
func SetSense(cmd *Command, key SenseKey, asc ASC, info *uint32) Status {
	sense := cmd.Sense
	for i := range sense {
		sense[i] = 0
	}
	if len(sense) < 18 {
		return StatusCheckCondition
	}
	sense[0] = 0x70 // current errors, fixed format
	sense[2] = byte(key)
	sense[7] = byte(len(sense) - 8) // additional sense length
	sense[12] = byte(asc >> 8)
	sense[13] = byte(asc & 0xFF)
	if info != nil {
		sense[0] |= 0x80 // VALID bit
		binary.BigEndian.PutUint32(sense[3:7], *info)
	}
	return StatusCheckCondition
}

// MapTransferResult maps a ReadAt/WriteAt outcome to a terminal Status,
// implementing spec.md §4.3's "short return maps to an I/O-error sense"
// rule: an explicit error is mapped first, then a byte count short of what
// was requested is treated as -EIO. Exported so a native-async Backend
// that completes cmd itself (outside the worker pool) can compute the same
// status its synchronous counterpart would.
func MapTransferResult(cmd *Command, n, want int, err error, op OpKind) Status {
	if err != nil {
		return ErrnoToStatus(cmd, err, op)
	}
	if n != want {
		return ErrnoToStatus(cmd, errShortTransfer, op)
	}
	return StatusGood
}

// ErrnoToStatus maps a backend's negative-errno (or short-transfer) failure
// to a terminal Status, filling cmd's sense buffer as needed. opKind
// selects which ASC applies to an I/O error (spec.md §4.3's "short return /
// negative return -> I/O-error sense" rule, and §7's errno->sense table).
func ErrnoToStatus(cmd *Command, err error, opKind OpKind) Status {
	if err == nil {
		return StatusGood
	}
	if errno, ok := err.(unix.Errno); ok {
		switch errno {
		case unix.ENOMEM:
			return StatusTaskSetFull
		case unix.ESHUTDOWN, unix.ETIMEDOUT:
			return SetSense(cmd, SenseNotReady, ASCStateTransition, nil)
		}
	}
	switch opKind {
	case OpRead:
		return SetSense(cmd, SenseMediumError, ASCReadError, nil)
	case OpWrite:
		return SetSense(cmd, SenseMediumError, ASCWriteError, nil)
	default:
		return SetSense(cmd, SenseMediumError, ASCReadError, nil)
	}
}

// TransportLoss classifies whether a backend failure represents a lost HA
// lock or a lost connection to the backing store, per rbd.c's
// tcmu_rbd_handle_timedout_cmd / tcmu_rbd_handle_blacklisted_cmd pattern.
type TransportLoss int

const (
	// LossNone indicates the error is an ordinary I/O failure.
	LossNone TransportLoss = iota
	// LossLock indicates the device's HA lock was lost (-ETIMEDOUT).
	LossLock
	// LossConn indicates the connection to the backing store was lost (-ESHUTDOWN).
	LossConn
)

// ClassifyTransportLoss inspects err for the errno values that indicate an
// HA escalation is warranted, so a backend adapter can call
// Transport.NotifyLockLost/NotifyConnLost without re-deriving the mapping.
func ClassifyTransportLoss(err error) TransportLoss {
	errno, ok := err.(unix.Errno)
	if !ok {
		return LossNone
	}
	switch errno {
	case unix.ETIMEDOUT:
		return LossLock
	case unix.ESHUTDOWN:
		return LossConn
	default:
		return LossNone
	}
}
