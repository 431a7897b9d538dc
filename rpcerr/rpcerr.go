// Package rpcerr implements the closed error taxonomy that crosses the wire
// as a (portable class name, message) pair (spec §6, §7). Every error that
// escapes a blocking arpc operation is a member of this taxonomy; handlers
// and transports classify with the Is* helpers the way moby/errdefs
// classifies daemon errors, and reconstruct a taxonomy member on the
// receiving side with FromWire.
package rpcerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the closed set of wire error classes named in spec §6.
type Kind string

const (
	Unknown         Kind = "unknown_error"
	Cancelled       Kind = "cancelled"
	DataMismatch    Kind = "data_mismatch"
	DeadlineExceeded Kind = "deadline_exceeded"
	EOF             Kind = "eof"
	InvalidArgument Kind = "invalid_argument"
	InvalidState    Kind = "invalid_state"
	IOError         Kind = "io_error"
	NotImplemented  Kind = "not_implemented"
	NotFound        Kind = "not_found"
	OutOfRange      Kind = "out_of_range"
	ShuttingDown    Kind = "shutting_down"
	TryAgain        Kind = "try_again"
)

// wireError is the concrete type behind every taxonomy member. It always
// unwraps to its cause so errors.Is/As and pkg/errors.Cause keep working
// across the classification boundary, matching the wrap-not-replace
// discipline of moby's errdefs helpers.
type wireError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *wireError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	}
	return e.msg
}

func (e *wireError) Unwrap() error { return e.cause }

func (e *wireError) Kind() Kind { return e.kind }

func newErr(kind Kind, cause error) error {
	msg := string(kind)
	if cause != nil {
		msg = cause.Error()
	}
	return &wireError{kind: kind, msg: msg, cause: cause}
}

// Each constructor wraps cause (which may be nil) into a taxonomy member.
func New(kind Kind, cause error) error   { return newErr(kind, cause) }
func Cancelled(cause error) error        { return newErr(Cancelled, cause) }
func DataMismatch(cause error) error     { return newErr(DataMismatch, cause) }
func DeadlineExceeded(cause error) error { return newErr(DeadlineExceeded, cause) }
func EOFErr(cause error) error           { return newErr(EOF, cause) }
func InvalidArgument(cause error) error  { return newErr(InvalidArgument, cause) }
func InvalidState(cause error) error     { return newErr(InvalidState, cause) }
func IOError(cause error) error          { return newErr(IOError, cause) }
func NotImplemented(cause error) error   { return newErr(NotImplemented, cause) }
func NotFound(cause error) error         { return newErr(NotFound, cause) }
func OutOfRange(cause error) error       { return newErr(OutOfRange, cause) }
func ShuttingDown(cause error) error     { return newErr(ShuttingDown, cause) }
func TryAgain(cause error) error         { return newErr(TryAgain, cause) }

// Errorf builds a taxonomy member whose message is formatted directly,
// without an underlying cause, grounded on pkg/errors.Errorf so the stack
// is captured at the point of detection (spec §7 "thrown at the point of
// detection").
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &wireError{kind: kind, msg: pkgerrors.Errorf(format, args...).Error(), cause: pkgerrors.Errorf(format, args...)}
}

// KindOf classifies err, walking its Unwrap chain. Unrecognized errors
// classify as Unknown, never as a bare nil kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var we *wireError
	if errors.As(err, &we) {
		return we.kind
	}
	return Unknown
}

func is(err error, k Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == k
}

func IsCancelled(err error) bool        { return is(err, Cancelled) }
func IsDataMismatch(err error) bool     { return is(err, DataMismatch) }
func IsDeadlineExceeded(err error) bool { return is(err, DeadlineExceeded) }
func IsEOF(err error) bool              { return is(err, EOF) }
func IsInvalidArgument(err error) bool  { return is(err, InvalidArgument) }
func IsInvalidState(err error) bool     { return is(err, InvalidState) }
func IsIOError(err error) bool          { return is(err, IOError) }
func IsNotImplemented(err error) bool   { return is(err, NotImplemented) }
func IsNotFound(err error) bool         { return is(err, NotFound) }
func IsOutOfRange(err error) bool       { return is(err, OutOfRange) }
func IsShuttingDown(err error) bool     { return is(err, ShuttingDown) }
func IsTryAgain(err error) bool         { return is(err, TryAgain) }

// ToWire renders err as the (portable_class_name, message) pair that
// travels inside a result_holder (spec §3 "Response payload").
func ToWire(err error) (class string, message string) {
	if err == nil {
		return "", ""
	}
	k := KindOf(err)
	if k == "" {
		k = Unknown
	}
	return string(k), err.Error()
}

// FromWire reconstructs a taxonomy member from a decoded (class, message)
// pair, the receiving side's half of §7 "reconstructs and rethrows through
// a registration table keyed by class name". Unrecognized classes become
// Unknown rather than failing decode — a future peer may add taxonomy
// members this build doesn't know about.
func FromWire(class string, message string) error {
	k := Kind(class)
	switch k {
	case Unknown, Cancelled, DataMismatch, DeadlineExceeded, EOF, InvalidArgument,
		InvalidState, IOError, NotImplemented, NotFound, OutOfRange, ShuttingDown, TryAgain:
		return &wireError{kind: k, msg: message}
	default:
		return &wireError{kind: Unknown, msg: message}
	}
}
