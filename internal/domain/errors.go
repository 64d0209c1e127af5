package domain

import "errors"

// ValidationError reports a malformed input; it never wraps a storage error.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return "invalid " + e.Field + ": " + e.Reason
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
