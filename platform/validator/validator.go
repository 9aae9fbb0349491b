// Package validator wraps go-playground/validator for request DTOs. Field
// names in messages follow the json (or form) tag so clients see the names
// they sent.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator validates tagged structs. Enumerations such as stage names are
// registered at startup with RegisterOneOf.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(fieldName)
	return &Validator{v: v}
}

func (val *Validator) Struct(s any) error { return val.v.Struct(s) }

// RegisterOneOf registers tag as a string validator that accepts only the
// values allowed reports true for. Empty strings pass; combine with
// "required" to reject them.
func (val *Validator) RegisterOneOf(tag string, allowed func(string) bool) error {
	return val.v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		value := strings.TrimSpace(fl.Field().String())
		return value == "" || allowed(value)
	})
}

// Messages flattens validation errors into one readable line per field.
func Messages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+": "+describe(fe))
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", strings.ReplaceAll(fe.Param(), " ", " is "))
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "uuid":
		return "must be a UUID"
	default:
		return "failed " + fe.Tag()
	}
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}
