package protocol

import (
	"errors"
	"fmt"
	"golang.org/x/sys/unix"
	"math"
)

// --------------------------------------------------------------------------
// Status Codes
// --------------------------------------------------------------------------

// Status is a binder status_t. Zero is success; negative values are either
// negated errno values or one of the binder-specific codes below INT32_MIN+8.
// A non-zero Status is returned as an error by every engine operation.
type Status int32

const (
	StatusOK                 Status = 0
	StatusUnknownError       Status = math.MinInt32
	StatusNoMemory           Status = -Status(unix.ENOMEM)
	StatusInvalidOperation   Status = -Status(unix.ENOSYS)
	StatusBadValue           Status = -Status(unix.EINVAL)
	StatusBadType            Status = math.MinInt32 + 1
	StatusNameNotFound       Status = -Status(unix.ENOENT)
	StatusPermissionDenied   Status = -Status(unix.EPERM)
	StatusNoInit             Status = -Status(unix.ENODEV)
	StatusAlreadyExists      Status = -Status(unix.EEXIST)
	StatusDeadObject         Status = -Status(unix.EPIPE)
	StatusFailedTransaction  Status = math.MinInt32 + 2
	StatusBadIndex           Status = -Status(unix.EOVERFLOW)
	StatusNotEnoughData      Status = -Status(unix.ENODATA)
	StatusWouldBlock         Status = -Status(unix.EAGAIN)
	StatusTimedOut           Status = -Status(unix.ETIMEDOUT)
	StatusUnknownTransaction Status = -Status(unix.EBADMSG)
	StatusFdsNotAllowed      Status = math.MinInt32 + 7
	StatusBadDescriptor      Status = -Status(unix.EBADF)
	StatusConnectionRefused  Status = -Status(unix.ECONNREFUSED)
)

var statusNames = map[Status]string{
	StatusOK:                 "OK",
	StatusUnknownError:       "UNKNOWN_ERROR",
	StatusNoMemory:           "NO_MEMORY",
	StatusInvalidOperation:   "INVALID_OPERATION",
	StatusBadValue:           "BAD_VALUE",
	StatusBadType:            "BAD_TYPE",
	StatusNameNotFound:       "NAME_NOT_FOUND",
	StatusPermissionDenied:   "PERMISSION_DENIED",
	StatusNoInit:             "NO_INIT",
	StatusAlreadyExists:      "ALREADY_EXISTS",
	StatusDeadObject:         "DEAD_OBJECT",
	StatusFailedTransaction:  "FAILED_TRANSACTION",
	StatusBadIndex:           "BAD_INDEX",
	StatusNotEnoughData:      "NOT_ENOUGH_DATA",
	StatusWouldBlock:         "WOULD_BLOCK",
	StatusTimedOut:           "TIMED_OUT",
	StatusUnknownTransaction: "UNKNOWN_TRANSACTION",
	StatusFdsNotAllowed:      "FDS_NOT_ALLOWED",
	StatusBadDescriptor:      "BAD_DESCRIPTOR",
	StatusConnectionRefused:  "CONNECTION_REFUSED",
}

// Error implements the error interface.
func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("binder status %s (%d)", name, int32(s))
	}
	return fmt.Sprintf("binder status %d", int32(s))
}

// String returns the status name, or its numeric value for unknown codes.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

// Err returns nil for StatusOK and the status itself otherwise.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return s
}

// StatusFromErrno converts a syscall errno into the negated status form.
func StatusFromErrno(errno unix.Errno) Status {
	if errno == 0 {
		return StatusOK
	}
	return -Status(errno)
}

// StatusOf extracts a status from err. A nil error is StatusOK; an error
// that does not wrap a Status is StatusUnknownError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusUnknownError
}
