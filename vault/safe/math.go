package safe

import (
	"errors"
	"math"
	"math/bits"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a sum does not fit in uint64.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrUnderflow is returned when a difference would be negative.
	ErrUnderflow = errors.New("arithmetic underflow")
	// ErrDivisionByZero is returned when attempting to divide by zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrNotAnAmount is returned when text is not a non-negative integer.
	ErrNotAnAmount = errors.New("not a non-negative integer amount")
)

var (
	hundredDecimal   = decimal.NewFromInt(100)
	maxAmountDecimal = decimal.NewFromUint64(math.MaxUint64)
)

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}

	return sum, nil
}

// Sub returns a-b or ErrUnderflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}

	return diff, nil
}

// Sum adds every value, failing on the first overflow.
func Sum(values ...uint64) (uint64, error) {
	var total uint64

	for _, v := range values {
		next, err := Add(total, v)
		if err != nil {
			return 0, err
		}

		total = next
	}

	return total, nil
}

// ToDecimal converts a base-unit amount into a decimal with the given number
// of fractional digits. ToDecimal(12345, 2) is 123.45.
func ToDecimal(amount uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(amount).Shift(-decimals)
}

// PercentageOrZero returns (numerator / denominator) * 100 rounded to two
// places, or zero when denominator is zero.
func PercentageOrZero(numerator, denominator uint64) decimal.Decimal {
	if denominator == 0 {
		return decimal.Zero
	}

	return decimal.NewFromUint64(numerator).
		Div(decimal.NewFromUint64(denominator)).
		Mul(hundredDecimal).
		Round(2)
}

// Divide performs decimal division with a zero check.
func Divide(numerator, denominator decimal.Decimal) (decimal.Decimal, error) {
	if denominator.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}

	return numerator.Div(denominator), nil
}

// ParseAmount reads a base-unit amount written as a decimal integer, such as
// "500" or "5e2". Values above math.MaxUint64 fail with ErrOverflow.
func ParseAmount(raw string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrNotAnAmount
	}

	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return 0, ErrNotAnAmount
	}

	if d.GreaterThan(maxAmountDecimal) {
		return 0, ErrOverflow
	}

	return d.BigInt().Uint64(), nil
}
