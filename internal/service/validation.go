package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/storefront-auth/internal/apperror"
)

// Validation limits shared by signup and password reset.
const (
	DefaultMinPasswordLength = 8
	MaxPasswordBytes         = 72 // bcrypt input limit
	MinNameLength            = 3
	MaxNameLength            = 100
)

// phonePattern accepts E.164-style numbers: optional '+', no leading zero,
// 7 to 15 digits.
var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

// inputValidator wraps go-playground/validator with the two custom tags this
// service needs and turns failures into field-attributed apperrors.
type inputValidator struct {
	validate          *validator.Validate
	minPasswordLength int
}

func newInputValidator(minPasswordLength int) *inputValidator {
	if minPasswordLength <= 0 {
		minPasswordLength = DefaultMinPasswordLength
	}

	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names so the client can highlight them.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		// Minimum in characters, maximum in bytes.
		pw := fl.Field().String()
		return utf8.RuneCountInString(pw) >= minPasswordLength && len(pw) <= MaxPasswordBytes
	})

	return &inputValidator{validate: v, minPasswordLength: minPasswordLength}
}

// Struct validates s and returns the first failure as an
// apperror.ErrValidation error, or nil.
func (iv *inputValidator) Struct(s any) error {
	err := iv.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("service: validating input: %w", err)
	}

	fe := fieldErrs[0]
	return apperror.ValidationFailed(fe.Field(), iv.message(fe))
}

func (iv *inputValidator) message(fe validator.FieldError) string {
	field := fe.Field()

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "invalid email format"
	case "phone":
		return "invalid phone number"
	case "password":
		if len(fe.Value().(string)) > MaxPasswordBytes {
			return fmt.Sprintf("password must be %d bytes or fewer", MaxPasswordBytes)
		}
		return fmt.Sprintf("password must be at least %d characters", iv.minPasswordLength)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be %s characters or fewer", field, fe.Param())
	default:
		return field + " is invalid"
	}
}
