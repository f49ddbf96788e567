// Package swaperr defines the error taxonomy of spec.md §7 and the
// propagation rule attached to it: transient errors are retried by their
// caller and never surface here, everything else is wrapped with a Kind so
// the executor can decide whether a swap is auto-recoverable or must be
// marked failed and surfaced to an operator.
package swaperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of propagation and recovery.
type Kind uint8

const (
	// TransientConnector is retryable I/O or a malformed response from a
	// chain connector. Swallowed by the inner retry loop; never expected
	// to reach the executor.
	TransientConnector Kind = iota

	// PermanentConnector is an auth failure or wrong network fingerprint.
	PermanentConnector

	// InvariantViolation is an expiry ordering failure, a params mismatch
	// between sides, or a secret hash mismatch on an observed preimage.
	InvariantViolation

	// StateCorruption means the event store is unreadable or internally
	// inconsistent.
	StateCorruption

	// WalletRejected covers insufficient funds or a signing refusal.
	WalletRejected

	// Cancelled means the owning task was dropped.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case TransientConnector:
		return "transient_connector"
	case PermanentConnector:
		return "permanent_connector"
	case InvariantViolation:
		return "invariant_violation"
	case StateCorruption:
		return "state_corruption"
	case WalletRejected:
		return "wallet_rejected"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Recoverable reports whether a swap in this error state can be retried
// automatically. InvariantViolation and StateCorruption never recover
// automatically (spec.md §7).
func (k Kind) Recoverable() bool {
	switch k {
	case InvariantViolation, StateCorruption:
		return false
	default:
		return true
	}
}

// Error wraps an underlying error with a Kind for propagation decisions.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf formats a message and wraps it with the given kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// As is a thin wrapper around errors.As for pulling the Kind out of an
// arbitrary error chain.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ErrSwapNotFound is returned by the event store when no record exists
// for a swap id.
var ErrSwapNotFound = errors.New("swap: no record for swap id")

// ErrDuplicateEvent names a repeated save of an already-recorded event.
// swapdb's Save does not return it: a duplicate save is a no-op that
// returns nil (save is idempotent on (swap_id, event_variant) per
// spec.md §4.6).
var ErrDuplicateEvent = errors.New("swap: event already recorded")
