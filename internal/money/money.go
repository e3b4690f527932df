// Package money validates fixed-point monetary amounts. Amounts carry two
// decimal places and are never rounded: extra precision is an error.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places stored for every amount.
const Scale = 2

// maxDigits is the total precision of a stored amount, numeric(18,2).
const maxDigits = 18

var (
	ErrMalformed   = errors.New("amount is not a decimal number")
	ErrNotPositive = errors.New("amount must be greater than zero")
	ErrPrecision   = errors.New("amount has more than 2 decimal places")
	ErrOutOfRange  = errors.New("amount exceeds the maximum allowed value")
)

// Parse reads a decimal string and validates it against limit.
func Parse(s string, limit decimal.Decimal) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrMalformed
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if err := Validate(d, limit); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Validate checks sign, precision and upper bound of an operation amount.
func Validate(d, limit decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNotPositive
	}
	// extreme exponents are settled from the digit count, before any rescale
	exp, digits := int64(d.Exponent()), int64(d.NumDigits())
	if exp > 0 && digits+exp > maxDigits {
		return fmt.Errorf("%w (%s)", ErrOutOfRange, limit.StringFixed(Scale))
	}
	if exp < -Scale && -exp-Scale >= digits {
		return ErrPrecision
	}
	if !d.Equal(d.Truncate(Scale)) {
		return ErrPrecision
	}
	if d.GreaterThan(limit) {
		return fmt.Errorf("%w (%s)", ErrOutOfRange, limit.StringFixed(Scale))
	}
	return nil
}

// Format renders d with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
