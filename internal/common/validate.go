package common

import (
	"github.com/go-playground/validator/v10"
)

// Validate validates cfg using go-playground/validator struct tags.
// Returns an error if any required field is missing or invalid.
func (c *Config) Validate() error {
	v := validator.New()
	return v.Struct(c)
}
