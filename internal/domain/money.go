package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrencyExponent is used for currencies not listed in currencyExponents.
const DefaultCurrencyExponent int32 = 2

// Number of decimal places of the smallest unit, ISO 4217.
var currencyExponents = map[string]int32{
	"BHD": 3,
	"CLP": 0,
	"ISK": 0,
	"JPY": 0,
	"JOD": 3,
	"KRW": 0,
	"KWD": 3,
	"OMR": 3,
	"PYG": 0,
	"TND": 3,
	"VND": 0,
}

// CurrencyExponent returns the minor unit exponent for an ISO currency code.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return DefaultCurrencyExponent
}

// MinorUnit returns one unit of the smallest denomination (0.01 for exponent 2).
func MinorUnit(exponent int32) decimal.Decimal {
	return decimal.New(1, -exponent)
}

// ToMinorUnits converts an amount to integer minor units. ok is false when the
// amount carries precision below the minor unit or does not fit in an int64.
func ToMinorUnits(amount decimal.Decimal, exponent int32) (units int64, ok bool) {
	shifted := amount.Shift(exponent)
	if !shifted.IsInteger() || !shifted.BigInt().IsInt64() {
		return 0, false
	}
	return shifted.IntPart(), true
}

// FromMinorUnits converts integer minor units back to a decimal amount.
func FromMinorUnits(units int64, exponent int32) decimal.Decimal {
	return decimal.New(units, -exponent)
}

// WithinMinorUnits reports whether |a-b| is at most tolerance minor units.
func WithinMinorUnits(a, b decimal.Decimal, tolerance int64, exponent int32) bool {
	diff := a.Sub(b).Abs()
	return diff.LessThanOrEqual(FromMinorUnits(tolerance, exponent))
}
