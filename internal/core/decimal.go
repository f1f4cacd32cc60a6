// Package core holds the pure domain of the association's bookkeeping:
// ledger rows, members, dividend results, period encoding and the decimal
// arithmetic rules all computations share.
//
// All money math goes through shopspring/decimal; float64 appears only at
// the storage boundary where SQLite REAL columns are scanned.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DecimalContext fixes the working precision and final scale of money
// arithmetic. It is passed explicitly into every computation so that
// concurrent runs can never interfere through package-level rounding state.
type DecimalContext struct {
	// DivisionPrecision is the number of decimal digits kept when dividing.
	DivisionPrecision int32
	// Scale is the number of decimal places of a final amount.
	Scale int32
}

// DefaultDecimalContext returns the context used across the application:
// divisions keep 20 digits, amounts settle at 2 decimal places.
func DefaultDecimalContext() DecimalContext {
	return DecimalContext{DivisionPrecision: 20, Scale: 2}
}

// Ratio divides a by b at the context's working precision, without touching
// the decimal package's global division precision.
func (c DecimalContext) Ratio(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, c.DivisionPrecision)
}

// RoundAmount rounds half away from zero to the context scale. This is the
// single place a computed amount loses precision.
func (c DecimalContext) RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(c.Scale)
}

// ParseAmount parses a user-supplied amount, accepting both dot and comma
// decimal separators.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}
