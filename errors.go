package tcmu

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Error represents a structured dispatch-engine error with context and
// errno mapping, carried separately from the SCSI-facing Status/sense pair
// (status.go): this is for errors the engine itself returns to Go callers
// (NewDevice, Registry.Add), not for errors reported to the SCSI
// initiator. Programmer-invariant violations panic instead.
type Error struct {
	Op    string        // Operation that failed (e.g., "dispatch", "enqueue")
	DevID string        // Device name (empty if not applicable)
	Code  ErrorCode      // High-level error category
	Errno unix.Errno    // Backend errno (0 if not applicable)
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.DevID != "" {
		parts = append(parts, fmt.Sprintf("dev=%s", e.DevID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("tcmu: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("tcmu: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support for comparing by error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories returned to Go callers.
type ErrorCode string

const (
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeDeviceBusy         ErrorCode = "device busy"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeTimeout            ErrorCode = "timeout"
	ErrCodeUnsupported        ErrorCode = "unsupported operation"
)

// Sentinel errors for common, equality-comparable failure cases.
var (
	// ErrInvalidParameters is returned for malformed device params.
	ErrInvalidParameters = &Error{Code: ErrCodeInvalidParameters, Msg: string(ErrCodeInvalidParameters)}
	// ErrUnknownOpcode describes an unrecognized CDB opcode. The router
	// itself reports that case as StatusNotHandled, not as this error.
	ErrUnknownOpcode = &Error{Code: ErrCodeUnsupported, Msg: "unknown opcode"}
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewDeviceError creates a new device-specific error.
func NewDeviceError(op, devID string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, DevID: devID, Code: code, Msg: msg}
}

// WrapError wraps an existing error with dispatch-engine context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ue, ok := inner.(*Error); ok {
		return &Error{Op: op, DevID: ue.DevID, Code: ue.Code, Errno: ue.Errno, Msg: ue.Msg, Inner: ue.Inner}
	}
	code := ErrCodeIOError
	if errno, ok := inner.(unix.Errno); ok {
		code = mapErrnoToCode(errno)
		return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a backend errno to a high-level error code.
func mapErrnoToCode(errno unix.Errno) ErrorCode {
	switch errno {
	case unix.EINVAL, unix.E2BIG:
		return ErrCodeInvalidParameters
	case unix.EBUSY:
		return ErrCodeDeviceBusy
	case unix.ENOMEM, unix.ENOSPC:
		return ErrCodeInsufficientMemory
	case unix.ETIMEDOUT:
		return ErrCodeTimeout
	case unix.ENOSYS, unix.EOPNOTSUPP:
		return ErrCodeUnsupported
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
