// Package polyjuiceerr defines the single error sum type threaded through
// every package boundary in this module: DB, Rpc, Data, Rlp, Secp,
// MalformedData, InvalidOutPoint, and EVM.
package polyjuiceerr

import (
	"errors"
	"fmt"
)

// Kind tags the category of failure. Callers branch on Kind rather than
// matching error strings.
type Kind int

const (
	DB Kind = iota
	Rpc
	Data
	Rlp
	Secp
	MalformedData
	InvalidOutPoint
	EVM
)

func (k Kind) String() string {
	switch k {
	case DB:
		return "DB"
	case Rpc:
		return "Rpc"
	case Data:
		return "Data"
	case Rlp:
		return "Rlp"
	case Secp:
		return "Secp"
	case MalformedData:
		return "MalformedData"
	case InvalidOutPoint:
		return "InvalidOutPoint"
	case EVM:
		return "EVM"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried across the module. It wraps an
// optional cause so %w-style unwrapping keeps working.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message context to an existing error.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// As unwraps err, walking its cause chain, into a *Error. It reports
// whether one was found.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// Is reports whether err carries (anywhere in its chain) a *Error of the
// given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if !As(err, &pe) {
		return false
	}
	return pe.Kind == kind
}

// InvalidOutPointErr is the sentinel used when a cell disappeared and the
// caller declined to fall back to a historical copy.
var InvalidOutPointErr = New(InvalidOutPoint, "outpoint is neither live nor an accepted historical spend")
