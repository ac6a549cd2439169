package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a missing or invalid required field.
	ErrValidation = errors.New("validation failed")
	// ErrOverpayment indicates an installment larger than the remaining balance.
	ErrOverpayment = errors.New("amount exceeds remaining balance")
	// ErrPermissionDenied indicates the access-control gate rejected the call.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPersistence indicates the backing store failed.
	ErrPersistence = errors.New("persistence failure")
	// ErrVersionConflict indicates a concurrent writer changed the document first.
	ErrVersionConflict = errors.New("version conflict")
	// ErrConfirmationRequired indicates a destructive call made without confirm.
	ErrConfirmationRequired = errors.New("confirmation required")
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PersistenceError wraps a store failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %s: %v", e.Op, e.Err)
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Unwrap exposes the underlying cause.
func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err unless it already belongs to the taxonomy.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// UserSafeMessage returns a message that can be shown to an operator.
func UserSafeMessage(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, ErrOverpayment):
		return "Amount exceeds the remaining balance"
	case errors.Is(err, ErrPermissionDenied):
		return "You do not have permission to perform this action"
	case errors.Is(err, ErrNotFound):
		return "Record not found"
	case errors.Is(err, ErrVersionConflict):
		return "The record was changed by someone else, please retry"
	case errors.Is(err, ErrConfirmationRequired):
		return "Please confirm this action"
	case errors.Is(err, ErrPersistence):
		return "Could not save changes, please try again"
	default:
		return "Unexpected error"
	}
}
