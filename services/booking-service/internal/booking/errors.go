package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the appointment or rule id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means the requested status change is not legal
	// from the appointment's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPermissionDenied means the acting role may not perform the operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStorageUnavailable wraps transient infrastructure faults. Callers may
	// retry after re-checking availability; the engine itself never retries.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrSlotConflict is the store-level signal that an insert collided with an
	// existing blocking appointment. The ledger translates it to a
	// ConflictError; it does not escape the package.
	ErrSlotConflict = errors.New("slot conflict")
)

// ValidationError reports caller-fixable bad input with field-level detail.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

// ConflictReason discriminates the two expected, non-fatal conflicts.
type ConflictReason string

const (
	SlotTaken   ConflictReason = "slot_taken"
	RuleOverlap ConflictReason = "rule_overlap"
)

// ConflictError tells the caller to pick another slot or time window.
type ConflictError struct {
	Reason ConflictReason
	Detail string
}

func (e *ConflictError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
