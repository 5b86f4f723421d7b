// Package stackerr defines the error taxonomy shared by every layer of the
// stack (spec.md §7). It is deliberately a closed set of Codes rather than
// an open string space so that callers can switch on cause, the same way
// the teacher's FIDL error-conversion layer maps POSIX errno onto a fixed
// internal enum.
package stackerr

import (
	"errors"
	"fmt"
)

// Code enumerates the error kinds from spec.md §7. It is a taxonomy, not a
// concrete platform error type.
type Code int

const (
	// Unknown is the zero value; it should never be returned deliberately.
	Unknown Code = iota
	InvalidParameter
	InvalidLength
	InvalidAddress
	InvalidInterface
	OutOfRange
	OutOfResources
	OutOfMemory
	NotImplemented
	TransmitterBusy
	BufferEmpty
	WrongIdentifier
	NotOnLink
	NoBinding
	NoAddress
	WaitCanceled
	Timeout
	MessageTooLong
	InvalidPacket
	InvalidChecksum
	Failure
)

func (c Code) String() string {
	switch c {
	case InvalidParameter:
		return "invalid-parameter"
	case InvalidLength:
		return "invalid-length"
	case InvalidAddress:
		return "invalid-address"
	case InvalidInterface:
		return "invalid-interface"
	case OutOfRange:
		return "out-of-range"
	case OutOfResources:
		return "out-of-resources"
	case OutOfMemory:
		return "out-of-memory"
	case NotImplemented:
		return "not-implemented"
	case TransmitterBusy:
		return "transmitter-busy"
	case BufferEmpty:
		return "buffer-empty"
	case WrongIdentifier:
		return "wrong-identifier"
	case NotOnLink:
		return "not-on-link"
	case NoBinding:
		return "no-binding"
	case NoAddress:
		return "no-address"
	case WaitCanceled:
		return "wait-canceled"
	case Timeout:
		return "timeout"
	case MessageTooLong:
		return "message-too-long"
	case InvalidPacket:
		return "invalid-packet"
	case InvalidChecksum:
		return "invalid-checksum"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Error wraps a Code with an optional cause and free-form context (the
// interface name, socket index, ...).
type Error struct {
	Code    Code
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Context != "" {
			return fmt.Sprintf("%s: %s: %v", e.Code, e.Context, e.Cause)
		}
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Context)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no context and no cause.
func New(code Code) error { return &Error{Code: code} }

// Newf builds an *Error with a formatted context string.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Context: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Code to an existing cause.
func Wrap(code Code, cause error, context string) error {
	if cause == nil {
		return &Error{Code: code, Context: context}
	}
	return &Error{Code: code, Context: context, Cause: cause}
}

// Is reports whether the first *Error in err's chain carries the given
// Code; a *Error wrapped inside that one is not examined.
func Is(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// CodeOf extracts the Code carried by err, Unknown if err is nil, or
// Failure if a non-nil err does not wrap a *Error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	if err == nil {
		return Unknown
	}
	return Failure
}
