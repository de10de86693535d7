package store

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/snowcrash/internal/model"
)

// recordValidate checks model structs before they are written.
// Field names in errors come from the json tags, which match column names.
var recordValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("nodetype", func(fl validator.FieldLevel) bool {
		return model.NodeType(fl.Field().Int()).Valid()
	})

	return v
}

// validateRecord runs struct validation and converts the first failure into
// a *ValidationError.
func validateRecord(record any) error {
	err := recordValidate.Struct(record)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: validationMessage(fe)}
	}
	return err
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "can't be blank"
	case "nodetype":
		return "is not a known node type"
	case "hexcolor":
		return "must be a hex color"
	case "max":
		return "is too long"
	case "ne":
		return "is reserved"
	default:
		return "is invalid"
	}
}
