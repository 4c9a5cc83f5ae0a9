// Package core provides money parsing and handling utilities.
//
// Amounts are kept as integer cents everywhere; floats only appear when a
// value crosses an input or display boundary.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units.
type Money struct {
	Cents int64
}

// ToCents converts a decimal amount to a non-negative number of cents,
// rounding half-up on the third decimal place.
//
//	ToCents(12.345) -> 1235
//	ToCents(-3.5)   -> 350
func ToCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Abs().Round(0).IntPart()
}

// ToAmount converts cents back to a decimal amount for display or for
// payloads that still expect one.
func ToAmount(cents int64) float64 {
	return decimal.New(cents, -2).InexactFloat64()
}

// ParseDecimalToCents converts a decimal string to cents with half-up
// rounding. Both dot and comma separators are accepted. Negative, zero and
// malformed values are rejected.
//
//	ParseDecimalToCents("12,34")  -> 1234
//	ParseDecimalToCents("12.345") -> 1235
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents := d.Shift(2).Round(0)
	if !cents.IsPositive() || cents.GreaterThan(decimal.New(1<<62, 0)) {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// String formats the amount with two decimals, e.g. "1450.00".
func (m Money) String() string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}

// Amount returns the value as a float64 for display purposes only.
func (m Money) Amount() float64 {
	return ToAmount(m.Cents)
}
