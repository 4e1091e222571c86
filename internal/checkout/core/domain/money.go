package domain

import "github.com/shopspring/decimal"

// MinorUnits converts a two-decimal currency amount to integer cents,
// rounding half away from zero.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}
