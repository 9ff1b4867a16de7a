package depot

import (
	"errors"

	"bus-depot-backend/internal/store"
)

// Kind classifies a failed depot operation.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindValidationFailed Kind = "validation_failed"
	KindStoreFailure     Kind = "store_failure"
	// KindPartiallyApplied means an earlier step of a multi-step operation was
	// persisted before a later one failed.
	KindPartiallyApplied Kind = "partially_applied"
)

// Error is the failure value of every depot operation. Msg is a human readable
// status line; Err carries the underlying store error, if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && (e.Kind == KindStoreFailure || e.Kind == KindPartiallyApplied) {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Errors not produced by this package are
// reported as store failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreFailure
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// fromStore classifies a store error, using msg as the status line for lookups
// that found nothing and as the prefix for raw failures.
func fromStore(msg string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Msg: msg, Err: err}
	case errors.Is(err, store.ErrBayUnavailable):
		return &Error{Kind: KindConflict, Msg: "Bay is no longer available.", Err: err}
	case errors.Is(err, store.ErrOpenAllocationExists):
		return &Error{Kind: KindConflict, Msg: "Bus already has an open allocation.", Err: err}
	case errors.Is(err, store.ErrStaleAllocation):
		return &Error{Kind: KindConflict, Msg: "Allocation was changed by another request. Please retry.", Err: err}
	default:
		return &Error{Kind: KindStoreFailure, Msg: msg, Err: err}
	}
}

func partial(msg string, err error) error {
	return &Error{Kind: KindPartiallyApplied, Msg: msg, Err: err}
}
