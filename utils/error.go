package utils

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError rejects a malformed write before anything is persisted:
// missing required key, invalid enum value, non-serializable snapshot payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageError wraps a persistence failure on a durability-sensitive write.
// The caller decides whether to retry or alert; it must never crash the
// primary invoice operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// WrapReadError classifies a read failure: a missing row maps to
// ErrorRecordNotFound, anything else is a storage failure. Without the split
// a database outage would surface to API clients as a 404.
func WrapReadError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrorRecordNotFound
	}
	return NewStorageError(op, err)
}
