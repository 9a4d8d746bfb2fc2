package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// ErrValidatorInit is returned when custom validator registration fails.
var ErrValidatorInit = errors.New("validator initialization failed")

// ValidationError describes the first field that failed validation.
type ValidationError struct {
	Field string
	Tag   string
}

func (e ValidationError) Error() string {
	switch e.Tag {
	case "required":
		return fmt.Sprintf("%s is required", e.Field)
	case "identity":
		return fmt.Sprintf("%s must be a 20-byte hex address", e.Field)
	case "max":
		return fmt.Sprintf("%s is too long", e.Field)
	default:
		return fmt.Sprintf("%s is invalid (%s)", e.Field, e.Tag)
	}
}

// Unwrap maps every validation failure to the invalid request code.
func (e ValidationError) Unwrap() error {
	return constant.ErrInvalidRequest
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidators() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	vld.RegisterTagNameFunc(jsonName)

	if err := vld.RegisterValidation("identity", func(fl validator.FieldLevel) bool {
		return common.IsHexAddress(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("%w: failed to register 'identity': %w", ErrValidatorInit, err)
	}

	return vld, nil
}

// GetValidator returns the shared validator instance.
func GetValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidators()
	})

	return validate, errValidate
}

// ValidateStruct validates payload and returns the first failure as a
// ValidationError.
func ValidateStruct(payload any) error {
	vld, err := GetValidator()
	if err != nil {
		return err
	}

	if err := vld.Struct(payload); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			return ValidationError{Field: validationErrors[0].Field(), Tag: validationErrors[0].Tag()}
		}

		return fmt.Errorf("%w: %w", constant.ErrInvalidRequest, err)
	}

	return nil
}

// jsonName reports fields by their JSON name so messages match the payload.
func jsonName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")

	switch name {
	case "-":
		return ""
	case "":
		return field.Name
	default:
		return name
	}
}
