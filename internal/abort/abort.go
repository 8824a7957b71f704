// Package abort defines the revert error used by every state-changing operation.
//
// A revert carries a stable, human-readable reason that callers pattern-match on, plus a
// kind sentinel for programmatic handling via errors.Is.
package abort

import "errors"

var (
	ErrUnauthorized = errors.New("abort: unauthorized")
	ErrInvalid      = errors.New("abort: invalid argument")
	ErrTemporal     = errors.New("abort: outside time window")
	ErrPrecondition = errors.New("abort: precondition not met")
	ErrCapacity     = errors.New("abort: capacity exhausted")
	ErrTransfer     = errors.New("abort: transfer failed")
)

// Error is a reverted operation.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func (e *Error) Unwrap() error { return e.Kind }

func Unauthorized(reason string) error { return &Error{Kind: ErrUnauthorized, Reason: reason} }

func Invalid(reason string) error { return &Error{Kind: ErrInvalid, Reason: reason} }

func Temporal(reason string) error { return &Error{Kind: ErrTemporal, Reason: reason} }

func Precondition(reason string) error { return &Error{Kind: ErrPrecondition, Reason: reason} }

func Capacity(reason string) error { return &Error{Kind: ErrCapacity, Reason: reason} }

func Transfer(reason string) error { return &Error{Kind: ErrTransfer, Reason: reason} }

// Reason returns the revert reason carried by err, or err.Error() for foreign errors.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}

// IsRevert reports whether err is a domain revert rather than an infrastructure failure.
func IsRevert(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
