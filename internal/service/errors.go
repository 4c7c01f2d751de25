package service

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindRejected  ErrorKind = "REJECTED"
	KindExhausted ErrorKind = "EXHAUSTED"
	KindConflict  ErrorKind = "CONFLICT"
	KindFailed    ErrorKind = "FAILED"
)

var (
	ErrExhausted = errors.New("no authorized branch has remaining capacity today")
	ErrConflict  = errors.New("lost every reservation attempt to concurrent requests")

	// errLostRace rolls back a unit of work whose conditional increment was refused.
	errLostRace = errors.New("capacity slot taken concurrently")
)

// AllocationError is returned by IssueCase for every failure. Reason is safe
// to show to the caller; Err carries the underlying cause for logs.
type AllocationError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *AllocationError) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same call may succeed if repeated unchanged.
func (e *AllocationError) Retryable() bool {
	return e.Kind == KindConflict
}

// KindOf extracts the allocation error kind, treating unknown errors as failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *AllocationError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindFailed
}

func rejected(reason string, err error) *AllocationError {
	return &AllocationError{Kind: KindRejected, Reason: reason, Err: err}
}

func failed(reason string, err error) *AllocationError {
	return &AllocationError{Kind: KindFailed, Reason: reason, Err: err}
}
