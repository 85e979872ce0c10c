// Package val validates configuration structs against their `validate`
// struct tags.
package val

import (
	"errors"
	"reflect"
	"strings"

	"github.com/code19m/errx"
	"github.com/go-playground/validator/v10"
)

// CodeInvalidConfig marks configuration that failed validation.
const CodeInvalidConfig = "INVALID_CONFIG"

var validate *validator.Validate //nolint:gochecknoglobals // one shared validator instance

func init() { //nolint:gochecknoinits // validator setup happens once
	validate = validator.New()
	validate.RegisterTagNameFunc(tagName)
}

// tagName resolves a struct field to its yaml name so validation errors
// speak the same language as the configuration file.
func tagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	if name != "" && name != "-" {
		return name
	}
	return fld.Name
}

// Struct validates v and reports every failing field in one error.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errx.Wrap(err)
	}

	details := make(errx.D, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = "failed validation rule: " + fe.Tag()
	}

	return errx.New("configuration is invalid",
		errx.WithCode(CodeInvalidConfig),
		errx.WithDetails(details),
	)
}
