// Package validator applies struct-tag validation to loaded configuration,
// reporting every violated constraint rather than the first one.
package validator

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Validator - struct-tag validator. A single underlying validate instance is
// shared process-wide so tag parsing caches are reused.
type Validator struct {
	validate *validator.Validate
}

//nolint:gochecknoglobals
var validatorInstance *Validator

// NewValidator - return the shared Validator, creating it on first use.
func NewValidator() *Validator {
	if validatorInstance == nil {
		validatorInstance = &Validator{validate: validator.New()}
	}

	return validatorInstance
}

// ValidateStruct - validate every tagged field of cfg, nested structs
// included. Each violation becomes one ValidationErrorResponse carrying the
// field path (for ex. "BaseConfig.Database.Password"), the failed tag and
// its parameter; a nil result means the config is valid.
func (v *Validator) ValidateStruct(cfg interface{}) []*ValidationErrorResponse {
	var violations []*ValidationErrorResponse

	err := v.validate.Struct(cfg)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fieldErr := range validationErrors {
				violations = append(violations, &ValidationErrorResponse{
					FailedField: fieldErr.StructNamespace(),
					Tag:         fieldErr.Tag(),
					Value:       fieldErr.Param(),
				})
			}
		}
	}

	return violations
}
