package validation

import (
	"fmt"
	"strings"

	"calsync/internal/common/errors"

	"go.uber.org/multierr"
)

// Validator accumulates validation failures through a fluent API
type Validator struct {
	errs   error
	count  int
	prefix string
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// NewValidatorWithPrefix creates a validator that prefixes field names, e.g. "config"
func NewValidatorWithPrefix(prefix string) *Validator {
	return &Validator{prefix: prefix}
}

// RequireString validates that a string is not blank
func (v *Validator) RequireString(value, name string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.addError("%s is required", name)
	}
	return v
}

// RequirePositive validates that an integer is positive
func (v *Validator) RequirePositive(value int, name string) *Validator {
	if value <= 0 {
		v.addError("%s must be positive", name)
	}
	return v
}

// RequireRange validates that an integer is within [min, max]
func (v *Validator) RequireRange(value, min, max int, name string) *Validator {
	if value < min || value > max {
		v.addError("%s must be between %d and %d", name, min, max)
	}
	return v
}

// RequireURL validates an absolute http(s) URL
func (v *Validator) RequireURL(value, name string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.addError("%s is required", name)
		return v
	}
	if !IsHTTPURL(value) {
		v.addError("%s must be a valid http(s) URL", name)
	}
	return v
}

// RequireOneOf validates that value is one of allowed
func (v *Validator) RequireOneOf(value string, allowed []string, name string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.addError("%s must be one of: %s", name, strings.Join(allowed, ", "))
	return v
}

// Validate runs a custom check
func (v *Validator) Validate(fn func() error) *Validator {
	if err := fn(); err != nil {
		v.add(err.Error())
	}
	return v
}

// ValidateIf runs fn only when condition holds
func (v *Validator) ValidateIf(condition bool, fn func() error) *Validator {
	if condition {
		return v.Validate(fn)
	}
	return v
}

// Merge appends the failures of other
func (v *Validator) Merge(other *Validator) *Validator {
	if other != nil && other.errs != nil {
		v.errs = multierr.Append(v.errs, other.errs)
		v.count += other.count
	}
	return v
}

// HasErrors reports whether any check failed
func (v *Validator) HasErrors() bool {
	return v.count > 0
}

// Errors returns the individual failures
func (v *Validator) Errors() []error {
	return multierr.Errors(v.errs)
}

// Error returns nil, or a validation AppError joining every failure
func (v *Validator) Error() error {
	if v.count == 0 {
		return nil
	}
	errs := multierr.Errors(v.errs)
	if len(errs) == 1 {
		return errors.ValidationError(errs[0].Error())
	}

	messages := make([]string, len(errs))
	for i, e := range errs {
		messages[i] = e.Error()
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (v *Validator) addError(format string, args ...interface{}) {
	v.add(fmt.Sprintf(format, args...))
}

func (v *Validator) add(msg string) {
	if v.prefix != "" {
		msg = v.prefix + "." + msg
	}
	v.errs = multierr.Append(v.errs, fmt.Errorf("%s", msg))
	v.count++
}
