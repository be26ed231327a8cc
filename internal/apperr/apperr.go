// Package apperr classifies failures into the small set of kinds callers
// act on: background paths absorb them, user-initiated paths surface them.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is an error class.
type Kind string

const (
	KindUnknown            Kind = "unknown"
	KindNetworkTimeout     Kind = "network_timeout"
	KindNetwork            Kind = "network_error"
	KindParse              Kind = "parse_error"
	KindValidation         Kind = "validation_error"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindThrottled          Kind = "throttled"
)

// Error carries a Kind, the operation that failed, and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation builds a validation error with a plain message.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is of kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify wraps a transport-level error as NetworkTimeout or NetworkError.
// Errors that already carry a kind are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if IsTimeout(err) {
		return New(KindNetworkTimeout, op, err)
	}
	return New(KindNetwork, op, err)
}

// IsTimeout reports whether err is a deadline or transport timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Surfaced reports whether a failure of this kind should reach the user
// when the action was user-initiated. Storage failures never do.
func Surfaced(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindStorageUnavailable
}
