package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	slugRegex       = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)
	cardNumberRegex = regexp.MustCompile(`^[0-9]{12,19}$`)
	cardExpiryRegex = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2}|[0-9]{4})$`)
	cvcRegex        = regexp.MustCompile(`^[0-9]{3,4}$`)
	gatewayRegex    = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ValidationError is a single field failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects field failures.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(ve))
	for _, e := range ve {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field failed.
func (ve ValidationErrors) Has(field string) bool {
	for _, e := range ve {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Fields groups messages by field.
func (ve ValidationErrors) Fields() map[string][]string {
	out := make(map[string][]string, len(ve))
	for _, e := range ve {
		out[e.Field] = append(out[e.Field], e.Message)
	}
	return out
}

// IsValidationError reports whether err carries ValidationErrors.
func IsValidationError(err error) bool {
	var ve ValidationErrors
	return errors.As(err, &ve)
}

// Validator wraps go-playground/validator with the billing tags:
// slug, card_number, card_expiry, cvc and gateway.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator. Field names in errors follow json tags.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("slug", matchString(slugRegex))
	_ = v.RegisterValidation("card_number", func(fl validator.FieldLevel) bool {
		value := strings.NewReplacer(" ", "", "-", "").Replace(fl.Field().String())
		return value == "" || cardNumberRegex.MatchString(value)
	})
	_ = v.RegisterValidation("card_expiry", matchString(cardExpiryRegex))
	_ = v.RegisterValidation("cvc", matchString(cvcRegex))
	_ = v.RegisterValidation("gateway", matchString(gatewayRegex))

	return &Validator{validate: v}
}

// Validate validates a struct and returns ValidationErrors on failure.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		out = append(out, ValidationError{Field: e.Field(), Message: message(e)})
	}
	return out
}

// matchString builds a rule that accepts empty values so "required" stays
// in charge of presence.
func matchString(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return value == "" || re.MatchString(value)
	}
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", e.Param())
		}
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", e.Param())
		}
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be %s or more", e.Param())
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "slug":
		return "must contain only lowercase letters, digits, hyphens and underscores"
	case "card_number":
		return "must be 12 to 19 digits"
	case "card_expiry":
		return "must be in MM/YY or MM/YYYY format"
	case "cvc":
		return "must be 3 or 4 digits"
	case "gateway":
		return "must be a gateway name"
	}
	return fmt.Sprintf("failed on %s", e.Tag())
}
