package domain

import (
	"errors"
	"fmt"
)

// ErrorKind groups error codes into the families callers branch on.
type ErrorKind string

// Error families. Only StoreUnavailable is worth retrying, and the core never
// retries on its own.
const (
	KindValidation       ErrorKind = "validation"
	KindNotFound         ErrorKind = "not_found"
	KindConflict         ErrorKind = "conflict"
	KindStoreUnavailable ErrorKind = "store_unavailable"
	KindInvalidSnapshot  ErrorKind = "invalid_snapshot"
)

// Error is a typed failure returned by core operations. Values are compared
// by identity, so wrap them with fmt.Errorf("%w") to add detail.
type Error struct {
	Code string
	Kind ErrorKind
}

func (e *Error) Error() string { return e.Code }

// Sentinel errors surfaced by the core operations.
var (
	ErrValidation        = &Error{Code: "validation_error", Kind: KindValidation}
	ErrRunnerNotFound    = &Error{Code: "runner_not_found", Kind: KindNotFound}
	ErrNoActiveRace      = &Error{Code: "no_active_race", Kind: KindNotFound}
	ErrNothingToUndo     = &Error{Code: "nothing_to_undo", Kind: KindNotFound}
	ErrAlreadyFinished   = &Error{Code: "already_finished", Kind: KindConflict}
	ErrInvalidTransition = &Error{Code: "invalid_transition", Kind: KindConflict}
	ErrDuplicateIdentity = &Error{Code: "duplicate_identity", Kind: KindConflict}
	ErrStoreUnavailable  = &Error{Code: "store_unavailable", Kind: KindStoreUnavailable}
	ErrInvalidSnapshot   = &Error{Code: "invalid_snapshot", Kind: KindInvalidSnapshot}
)

// KindOf returns the family of the first domain Error in err's chain, or the
// empty kind when err carries none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// ErrNotFound is returned by stores when a keyed lookup matches zero rows.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrConflict is returned by stores when a uniqueness constraint rejects a write.
type ErrConflict struct {
	Entity EntityType
	Key    string
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
