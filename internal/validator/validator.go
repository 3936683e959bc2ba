package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator represents a validator instance
type Validator struct {
	validate *validator.Validate
}

// New creates a new validator instance
func New() *Validator {
	once.Do(func() {
		validate = validator.New()

		// Register custom validation functions
		_ = validate.RegisterValidation("tlsmode", validateTLSMode)
		_ = validate.RegisterValidation("dbhost", validateHost)

		// Use mapstructure tag names in error messages, they match the config keys
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})

	return &Validator{
		validate: validate,
	}
}

// Struct validates a struct
func (v *Validator) Struct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("invalid validation error: %w", err)
		}

		var errMsgs []string
		for _, err := range err.(validator.ValidationErrors) {
			errMsgs = append(errMsgs, formatError(err))
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errMsgs, "; "))
	}
	return nil
}

// Var validates a single variable
func (v *Validator) Var(field any, tag string) error {
	return v.validate.Var(field, tag)
}

// formatError formats a validation error
func formatError(err validator.FieldError) string {
	field := err.Field()
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, err.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, err.Param())
	case "gte", "gtefield":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, err.Param())
	case "tlsmode":
		return fmt.Sprintf("%s must be one of disable, require, verify-ca, verify-full", field)
	case "dbhost":
		return fmt.Sprintf("%s must be a valid host name or address", field)
	default:
		return fmt.Sprintf("%s failed on tag %s", field, err.Tag())
	}
}

func validateTLSMode(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "disable", "require", "verify-ca", "verify-full":
		return true
	}
	return false
}

func validateHost(fl validator.FieldLevel) bool {
	host := fl.Field().String()
	if host == "" {
		return true
	}

	if len(host) > 255 || strings.ContainsAny(host, " \t\n/") {
		return false
	}

	for _, part := range strings.Split(host, ".") {
		if len(part) > 63 {
			return false
		}
	}

	return true
}
