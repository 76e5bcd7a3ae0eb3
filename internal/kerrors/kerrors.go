// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kerrors defines the error kinds KATO's core surfaces to callers.
//
// Every store adapter, filter stage, and the processor orchestrator returns
// errors wrapped as *KATOError so callers can branch on Kind via errors.As.
// There is no broad exception catching that returns empty results: storage
// errors and invariant violations always propagate.
package kerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way §7 of the specification does.
type Kind string

const (
	// KindValidation marks malformed input: wrong vector dimension,
	// non-numeric emotive values, an empty observation.
	KindValidation Kind = "validation"

	// KindSessionNotFound marks a session_id that does not exist.
	KindSessionNotFound Kind = "session_not_found"

	// KindSessionExpired marks a session_id whose TTL has elapsed.
	KindSessionExpired Kind = "session_expired"

	// KindStorageUnavailable marks an underlying store returning a
	// non-retriable error, or retries exhausted.
	KindStorageUnavailable Kind = "storage_unavailable"

	// KindTimeout marks a predict call exceeding its deployment deadline.
	KindTimeout Kind = "timeout"

	// KindInvariantViolation marks a violation of a data-model invariant
	// (e.g. a store returning frequency 0 for a pattern known to exist).
	// Fatal: must be logged at critical severity and never swallowed.
	KindInvariantViolation Kind = "invariant_violation"

	// KindConflict marks a concurrent-writer race the session lock did
	// not prevent. Retriable by the orchestrator up to a small bound.
	KindConflict Kind = "conflict"
)

// KATOError wraps an error with a Kind so callers can branch without
// string-matching messages.
type KATOError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *KATOError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *KATOError) Unwrap() error {
	return e.Cause
}

// New creates a KATOError with no wrapped cause.
func New(kind Kind, message string) *KATOError {
	return &KATOError{Kind: kind, Message: message}
}

// Wrap creates a KATOError of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *KATOError {
	return &KATOError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a KATOError of the given kind.
func Is(err error, kind Kind) bool {
	var ke *KATOError
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a KATOError.
func KindOf(err error) Kind {
	var ke *KATOError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}
