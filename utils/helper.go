package utils

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// ProcessValidationErrors turns binding failures into a field->tag map for
// the API response. Returns nil when err carries no field-level validation
// errors (malformed JSON, type mismatch), so callers can fall back to the
// raw message.
func ProcessValidationErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

func NewFalse() *bool {
	b := false
	return &b
}

// NonNilString reports whether a string pointer carries a usable value.
// The summary projection's merge rule treats "" the same as NULL.
func NonNilString(ptr *string) bool {
	return ptr != nil && *ptr != ""
}
