package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value stored as BIGINT cents to avoid floating point
// errors. Settlement matching relies on exact equality of cent values.
type Amount int64

// AmountFromDecimal converts a decimal yuan value to cents, rounding to the
// protocol's two decimal places.
func AmountFromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Round(2).Mul(decimal.NewFromInt(100)).IntPart())
}

// ParseAmount parses a decimal string such as "10.01" into cents.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	return AmountFromDecimal(d), nil
}

// ToDecimal converts cents back to a two-decimal value.
func (a Amount) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(int64(a)).Div(decimal.NewFromInt(100))
}

// Cents returns the raw cent count.
func (a Amount) Cents() int64 {
	return int64(a)
}

// String formats the amount the way the callback protocol expects, always
// with two decimal places.
func (a Amount) String() string {
	return a.ToDecimal().StringFixed(2)
}
