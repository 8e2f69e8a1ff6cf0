// Package syncerr defines the error taxonomy shared by the store, the
// remote client and the sync orchestrator.
//
// Every failure that crosses a component boundary is an *Error carrying a
// Kind. Callers branch on the kind with the IsXxx helpers, which see through
// wrapping.
package syncerr

import (
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/record"
)

// Kind categorizes sync failures.
type Kind string

const (
	// KindValidation: the remote rejected the payload. Never retried; the
	// user must fix the data.
	KindValidation Kind = "VALIDATION"

	// KindTransient: network failure, timeout or server overload. Retried
	// with backoff up to the retry cap.
	KindTransient Kind = "TRANSIENT"

	// KindConflict: both sides changed the same record. Routed to the
	// conflict resolver rather than reported.
	KindConflict Kind = "CONFLICT"

	// KindAuth: the remote rejected the credentials. Fatal for the cycle.
	KindAuth Kind = "AUTH"

	// KindStorage: local persistence failed. Always surfaced.
	KindStorage Kind = "STORAGE"
)

// Error is a classified sync failure.
type Error struct {
	Kind Kind

	// Op names the operation that failed, e.g. "write with mutation".
	Op string

	// EntityType and ID identify the affected record or mutation, if any.
	EntityType record.EntityType
	ID         string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.EntityType != "" && e.ID != "" {
		msg += fmt.Sprintf(" (%s/%s)", e.EntityType, e.ID)
	} else if e.ID != "" {
		msg += fmt.Sprintf(" (%s)", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Storage wraps a local persistence failure. A nil err returns nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// Validation builds a permanent remote rejection.
func Validation(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// Transient builds a retryable remote failure.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Auth builds a credential rejection.
func Auth(op string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

// Conflict builds a conflict marker for a record.
func Conflict(entityType record.EntityType, localID string) *Error {
	return &Error{
		Kind:       KindConflict,
		Op:         "pull",
		EntityType: entityType,
		ID:         localID,
		Err:        errors.New("local and remote versions diverged"),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsConflict reports whether err marks a conflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsAuth reports whether err is a credential rejection.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsStorage reports whether err is a local persistence failure.
func IsStorage(err error) bool { return KindOf(err) == KindStorage }
