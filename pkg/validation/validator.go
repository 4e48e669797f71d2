package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dd0wney/cluso-flowroute/pkg/routeerr"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their table/config column name when one is declared.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"csv", "yaml"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})
}

// Struct validates v against its `validate` struct tags and returns a
// configuration error describing the first failing field.
func Struct(op string, v any) error {
	if v == nil {
		return routeerr.Configuration(op, "nil value")
	}
	if err := validate.Struct(v); err != nil {
		return routeerr.New(op, routeerr.ErrConfiguration).Cause(formatValidationError(err)).Err()
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}

	e := validationErrs[0]
	field, param := e.Field(), e.Param()

	switch e.Tag() {
	case "required":
		return fmt.Errorf("%s: field is required", field)
	case "gt":
		return fmt.Errorf("%s: must be greater than %s, got %v", field, param, e.Value())
	case "gte", "min":
		return fmt.Errorf("%s: must be at least %s, got %v", field, param, e.Value())
	case "lte", "max":
		return fmt.Errorf("%s: must not exceed %s, got %v", field, param, e.Value())
	case "oneof":
		return fmt.Errorf("%s: must be one of [%s], got %v", field, param, e.Value())
	default:
		return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
	}
}
