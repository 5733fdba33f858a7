package validator

import (
	"fmt"
	"strings"
)

// ValidationError - Errors for tags validation.
type ValidationError struct {
	errors []*ValidationErrorResponse
}

// ValidationErrorResponse - Struct for the validation error.
type ValidationErrorResponse struct {
	FailedField string
	Tag         string
	Value       string
}

// NewValidationError - ValidationError constructor.
func NewValidationError(errors []*ValidationErrorResponse) *ValidationError {
	return &ValidationError{errors: errors}
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.errors))
	for _, e := range v.errors {
		parts = append(parts, fmt.Sprintf("%s failed on '%s %s'", e.FailedField, e.Tag, e.Value))
	}

	return "validation failed: " + strings.Join(parts, "; ")
}

// GetErrorsDetails - return the errors.
func (v *ValidationError) GetErrorsDetails() []*ValidationErrorResponse {
	return v.errors
}
