package core

import "github.com/shopspring/decimal"

// ConversionDirection selects which way ConvertCurrency converts.
type ConversionDirection string

const (
	RONToEUR ConversionDirection = "RON_EUR"
	EURToRON ConversionDirection = "EUR_RON"
)

// MonthlyInterest returns the simple monthly interest on a principal,
// rounded half-up to two decimal places. A rate of 0.004 means 4‰.
func MonthlyInterest(principal, rate decimal.Decimal) decimal.Decimal {
	return principal.Mul(rate).Round(2)
}

// BalanceWithInterest returns the principal plus one month of interest.
func BalanceWithInterest(principal, rate decimal.Decimal) decimal.Decimal {
	return principal.Add(MonthlyInterest(principal, rate)).Round(2)
}

// ConvertCurrency converts an amount between RON and EUR at the given
// exchange rate (lei per euro), rounding half-up to two decimal places.
func ConvertCurrency(amount, rate decimal.Decimal, dir ConversionDirection) (decimal.Decimal, error) {
	switch dir {
	case RONToEUR:
		if !rate.IsPositive() {
			return decimal.Decimal{}, ErrInvalidRate
		}
		return amount.DivRound(rate, DefaultDecimalContext().DivisionPrecision).Round(2), nil
	case EURToRON:
		return amount.Mul(rate).Round(2), nil
	default:
		return decimal.Decimal{}, ErrInvalidDirection
	}
}
