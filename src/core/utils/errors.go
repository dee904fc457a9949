package utils

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the subsystem that produced it.
type Kind string

const (
	KindProtocol   Kind = "protocol"
	KindConnection Kind = "connection"
	KindAuth       Kind = "auth"
	KindTurn       Kind = "turn"
	KindArgument   Kind = "argument"
	KindDisposed   Kind = "disposed"
	KindUnknown    Kind = "unknown"
)

// Sentinel errors shared across the stream and promise primitives.
var (
	ErrObjectDisposed = errors.New("object has been disposed")
	ErrStreamClosed   = errors.New("stream is closed for writing")
	ErrAlreadySettled = errors.New("deferred already settled")
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func WrapError(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind == kind
	}
	return false
}

// ArgumentNil builds the standard error for a missing mandatory argument.
func ArgumentNil(op, name string) *Error {
	return &Error{Kind: KindArgument, Op: op, Message: name + " must not be empty"}
}
