package api

import (
	"github.com/go-playground/validator/v10"
)

// Validator plugs go-playground/validator into echo's c.Validate.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate returns validator.ValidationErrors unchanged so response.Error can
// report field details.
func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
