// Package xfault defines the error kinds surfaced by the translator core
// (spec §7) and a small typed-error wrapper so callers can branch on kind
// without string matching.
package xfault

import "fmt"

// Kind classifies an error the way the control plane and dataplane verdict
// logic need to distinguish them.
type Kind int

const (
	// InvalidArg covers malformed requests, out-of-range values, overlapping
	// prefixes, and length/suffix mismatches.
	InvalidArg Kind = iota
	// NotFound is returned when an exact entry is missing on remove/get.
	NotFound
	// AlreadyExists is returned for a duplicate add.
	AlreadyExists
	// PermissionDenied is returned when a non-admin caller attempts a
	// mutating operation.
	PermissionDenied
	// OutOfMemory is returned on allocation failure in tables or buffers.
	OutOfMemory
	// Unsupported is returned when an operation is incompatible with the
	// current stateful/stateless build.
	Unsupported
	// VersionMismatch is returned when a request header's magic, type or
	// version check fails.
	VersionMismatch
	// PacketDropped marks a dataplane DROP verdict; it is never reported to
	// the control plane, only used internally to short-circuit a pipeline
	// stage.
	PacketDropped
)

func (k Kind) String() string {
	switch k {
	case InvalidArg:
		return "InvalidArg"
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case PermissionDenied:
		return "PermissionDenied"
	case OutOfMemory:
		return "OutOfMemory"
	case Unsupported:
		return "Unsupported"
	case VersionMismatch:
		return "VersionMismatch"
	case PacketDropped:
		return "PacketDropped"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a typed error carrying a Kind plus the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a *Error with no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf constructs a *Error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and operation name to an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: err.Error(), Err: err}
}

// KindOf extracts the Kind from err, defaulting to InvalidArg if err does
// not wrap an *Error (the common case for a bug elsewhere that should still
// surface as a control-plane rejection rather than panic).
func KindOf(err error) Kind {
	var e *Error
	if ok := as(err, &e); ok {
		return e.Kind
	}
	return InvalidArg
}

// Is reports whether err is, or wraps, an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind && err != nil
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
