// Package validation provides struct-tag validation built on
// go-playground/validator and a fluent validator for hand-written checks.
package validation

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"calsync/internal/common/errors"
	"calsync/internal/common/utils"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// FieldError describes one failed field
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// StructValidator validates structs by their `validate` tags
type StructValidator struct {
	validate *validator.Validate
}

// NewStructValidator creates a validator with the calendar-specific tags registered
func NewStructValidator() *StructValidator {
	v := validator.New()
	registerCalendarValidators(v)

	// Report json names, which is what API callers send
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &StructValidator{validate: v}
}

// Struct validates s and returns a validation AppError listing every failed field
func (sv *StructValidator) Struct(s interface{}) error {
	err := sv.validate.Struct(s)
	if err == nil {
		return nil
	}
	return toAppError(fieldErrors(err))
}

// Var validates a single value against a tag expression
func (sv *StructValidator) Var(field interface{}, tag string) error {
	err := sv.validate.Var(field, tag)
	if err == nil {
		return nil
	}
	return toAppError(fieldErrors(err))
}

// FieldErrors returns the structured failures for s, or nil
func (sv *StructValidator) FieldErrors(s interface{}) []FieldError {
	err := sv.validate.Struct(s)
	if err == nil {
		return nil
	}
	return fieldErrors(err)
}

func fieldErrors(err error) []FieldError {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	result := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		result = append(result, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: formatFieldError(fe),
			Param:   fe.Param(),
		})
	}
	return result
}

func toAppError(failures []FieldError) error {
	if len(failures) == 1 {
		return errors.ValidationError(failures[0].Message).WithContext("field", failures[0].Field)
	}

	messages := make([]string, len(failures))
	for i, f := range failures {
		messages[i] = f.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "url", "caldav_url":
		return fmt.Sprintf("%s must be a valid http(s) URL", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "cron_expression":
		return fmt.Sprintf("%s must be a valid cron expression", fe.Field())
	case "duration":
		return fmt.Sprintf("%s must be a valid duration", fe.Field())
	default:
		return fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag())
	}
}

func registerCalendarValidators(v *validator.Validate) {
	// Server URLs must be absolute http(s) with a host
	_ = v.RegisterValidation("caldav_url", func(fl validator.FieldLevel) bool {
		return IsHTTPURL(fl.Field().String())
	})

	// Accepts robfig descriptors such as "@every 5m" as well as 5-field specs
	_ = v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		_, err := parser.Parse(fl.Field().String())
		return err == nil
	})

	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := utils.ParseDuration(fl.Field().String())
		return err == nil
	})
}

// IsHTTPURL reports whether raw is an absolute http or https URL with a host
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

var defaultValidator = NewStructValidator()

// ValidateStruct validates s with the shared validator
func ValidateStruct(s interface{}) error {
	return defaultValidator.Struct(s)
}

// ValidateVar validates a value with the shared validator
func ValidateVar(field interface{}, tag string) error {
	return defaultValidator.Var(field, tag)
}
