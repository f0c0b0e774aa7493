package intake

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// DefaultRegion is the region used to parse mobile numbers without a country code.
const DefaultRegion = "IN"

func newValidator() *validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Money is compared as a float for range tags only; arithmetic stays decimal.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return &validate{v: v}
}

type validate struct {
	v *validator.Validate
}

// check validates a struct and returns an error wrapping ledger.ErrValidation
// that names every failing field.
func (val *validate) check(label string, s interface{}) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	fields := FieldErrors(err)
	if len(fields) == 0 {
		return fmt.Errorf("%s: %v: %w", label, err, ledger.ErrValidation)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+fields[name])
	}
	return fmt.Errorf("%s: invalid %s: %w", label, strings.Join(parts, ", "), ledger.ErrValidation)
}

// FieldErrors maps each failing field to the tag it failed.
func FieldErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	out := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// NormalizeMobile parses raw as a phone number in DefaultRegion and returns its
// national significant number, e.g. "+91 98765 43210" -> "9876543210".
func NormalizeMobile(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("mobile number is required: %w", ledger.ErrValidation)
	}
	num, err := libphonenumber.Parse(raw, DefaultRegion)
	if err != nil {
		return "", fmt.Errorf("mobile number %q: %v: %w", raw, err, ledger.ErrValidation)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("mobile number %q is not valid: %w", raw, ledger.ErrValidation)
	}
	return libphonenumber.GetNationalSignificantNumber(num), nil
}
