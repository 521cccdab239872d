// Package rpcengine maps a single evaluate/ping call onto the wire protocol
// and classifies every way it can fail into the error kinds spec'd for the
// proxy subsystem.
package rpcengine

import "fmt"

// ErrorCode classifies why an evaluate/get call failed, independent of any
// particular language binding.
type ErrorCode string

const (
	// CodeDeadlock: the calling session already holds handles from this pool.
	CodeDeadlock ErrorCode = "DEADLOCK"
	// CodeNoHandle: reservation could not be satisfied in time, or the pool
	// has no capacity.
	CodeNoHandle ErrorCode = "NOHANDLE"
	// CodeExec: spawning the worker process failed.
	CodeExec ErrorCode = "EXEC"
	// CodeDead: an RPC was attempted on a handle the calling session does
	// not hold.
	CodeDead ErrorCode = "DEAD"
	// CodeSendFail: writing the request frame failed or timed out.
	CodeSendFail ErrorCode = "SENDFAIL"
	// CodeTimeout: the evaluation deadline was exceeded waiting for a reply.
	CodeTimeout ErrorCode = "TIMEOUT"
	// CodeRecvFail: reading the response frame failed, hit EOF, or timed out.
	CodeRecvFail ErrorCode = "RECVFAIL"
	// CodeInvalid: the response frame was malformed.
	CodeInvalid ErrorCode = "INVALID"
)

// Recoverable reports whether a caller may sensibly retry after this error
// (per spec.md §7's recoverability table). Worker-closing kinds are not
// recoverable for the handle that produced them, though the handle itself
// can spawn a fresh worker on the next evaluate.
func (c ErrorCode) Recoverable() bool {
	switch c {
	case CodeNoHandle, CodeExec, CodeDead:
		return true
	default:
		return false
	}
}

// ClosesWorker reports whether an error of this kind requires the worker
// that produced it to be closed rather than reused.
func (c ErrorCode) ClosesWorker() bool {
	switch c {
	case CodeSendFail, CodeTimeout, CodeRecvFail, CodeInvalid:
		return true
	default:
		return false
	}
}

// Error is the error type surfaced to callers for both RPC-level failures
// (synthesized here) and worker-reported script failures (passed through
// from the wire response).
type Error struct {
	Code    ErrorCode
	Info    string
	Message string
	Err     error // underlying cause, if any (nil for worker-reported errors)
}

func (e *Error) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Info)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, rpcengine.Code(...)) style comparisons by
// matching on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return false
	}
	return e.Code == t.Code
}

// Code builds a sentinel *Error carrying only a code, suitable for use with
// errors.Is(err, rpcengine.Code(rpcengine.CodeTimeout)).
func Code(c ErrorCode) *Error {
	return &Error{Code: c}
}

func newError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// WithMessage returns a copy of e with Message set, for building a concrete
// error from a Code(...) sentinel at the call site.
func (e *Error) WithMessage(message string) *Error {
	cp := *e
	cp.Message = message
	return &cp
}

// WithInfo returns a copy of e with Info and Message set from a worker's
// reported error-code/error-info blobs.
func (e *Error) WithInfo(codeString, infoString string) *Error {
	cp := *e
	cp.Info = infoString
	cp.Message = codeString
	return &cp
}
