// Package validator provides request validation infrastructure.
// This is part of the platform layer and contains no business logic.
package validator

import (
	"github.com/go-playground/validator/v10"
)

// Validate is the shared validator instance used by transport handlers.
var Validate = validator.New(validator.WithRequiredStructEnabled())

// Validator wraps the go-playground validator for dependency injection.
type Validator struct {
	v *validator.Validate
}

// New creates a new Validator.
func New() *Validator {
	return &Validator{v: Validate}
}

// Struct validates a struct using its validate tags.
func (val *Validator) Struct(s interface{}) error {
	return val.v.Struct(s)
}
