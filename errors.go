package bake

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates the closed set of error kinds a BAKE operation can
// return, per the wire contract every endpoint shares.
type ErrorCode int

const (
	// Success indicates the operation completed normally.
	Success ErrorCode = iota
	// Allocation indicates the log allocator failed to reserve an extent.
	Allocation
	// InvalidArg indicates a malformed or illegal argument, including
	// configuration values rejected at target attach.
	InvalidArg
	// Mercury stands in for a transport-layer failure (decode, send, or
	// the underlying RPC framework reporting an error).
	Mercury
	// Argobots stands in for a task-runtime failure in the handler or
	// async-I/O worker pool.
	Argobots
	// Pmem indicates a persistent-memory backend engine failure.
	Pmem
	// UnknownTarget indicates the requested target id is not attached to
	// this provider.
	UnknownTarget
	// UnknownProvider indicates the RPC framework found no provider bound
	// to the endpoint's provider id.
	UnknownProvider
	// UnknownRegion indicates the region id does not resolve to a live
	// region (never allocated, or already removed).
	UnknownRegion
	// OutOfBounds indicates an access beyond the region's allocated size.
	OutOfBounds
	// Remi stands in for a file-set migration service failure.
	Remi
	// OpUnsupported indicates the backend does not implement this
	// operation or this variant of it (e.g. unaligned non-zero offset
	// writes in the file backend).
	OpUnsupported
	// Noent indicates a missing file or path at the storage layer.
	Noent
	// Exist indicates a target or path already exists where a fresh one
	// was expected.
	Exist
	// BackendType indicates an operation was routed to a target whose
	// backend tag does not support it.
	BackendType
	// IO indicates a generic, otherwise-unclassified I/O failure.
	IO
)

// String renders the error code using its symbolic name.
func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Allocation:
		return "ALLOCATION"
	case InvalidArg:
		return "INVALID_ARG"
	case Mercury:
		return "MERCURY"
	case Argobots:
		return "ARGOBOTS"
	case Pmem:
		return "PMEM"
	case UnknownTarget:
		return "UNKNOWN_TARGET"
	case UnknownProvider:
		return "UNKNOWN_PROVIDER"
	case UnknownRegion:
		return "UNKNOWN_REGION"
	case OutOfBounds:
		return "OUT_OF_BOUNDS"
	case Remi:
		return "REMI"
	case OpUnsupported:
		return "OP_UNSUPPORTED"
	case Noent:
		return "NOENT"
	case Exist:
		return "EXIST"
	case BackendType:
		return "BACKEND_TYPE"
	case IO:
		return "IO"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error is the error type returned by every BAKE operation. It carries a
// closed-enumeration code plus the wrapped underlying error, following the
// shape used throughout the codebase: a code for callers to switch on, and
// Err for diagnostics via %w/errors.Is/errors.Unwrap.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Errorf("%s: %w", e.Code, e.Err).Error()
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e Error) Unwrap() error {
	return e.Err
}

// NewError constructs a bake.Error with the given code wrapping err.
func NewError(code ErrorCode, err error) Error {
	return Error{Code: code, Err: err}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) a bake.Error,
// otherwise returns bake.IO for a non-nil, unclassified error, or Success
// for a nil error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var be Error
	if errors.As(err, &be) {
		return be.Code
	}
	return IO
}
