package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"carfond/internal/core"
)

// LoanLedger exposes the loan-side queries interest computation needs.
type LoanLedger interface {
	// LastLoanPeriod returns the latest period at or before maxPeriod in
	// which the member received a loan.
	LastLoanPeriod(ctx context.Context, memberID int64, maxPeriod int) (int, bool, error)
	// LoanActivityAt returns the interest charged and loan granted in one period.
	LoanActivityAt(ctx context.Context, memberID int64, period int) (interest, loanDebit decimal.Decimal, found bool, err error)
	// LastSettledPeriodBefore returns the latest period strictly before the
	// given one with a loan balance at or below the zeroing epsilon.
	LastSettledPeriodBefore(ctx context.Context, memberID int64, period int) (int, bool, error)
	// SumLoanBalances sums positive loan balances over [startPeriod, endPeriod].
	SumLoanBalances(ctx context.Context, memberID int64, startPeriod, endPeriod int) (decimal.Decimal, error)
}

// InterestResult is the outcome of an interest-to-date computation.
// StartPeriod is zero when the member never had a loan.
type InterestResult struct {
	Interest    decimal.Decimal
	StartPeriod int
	BalanceSum  decimal.Decimal
}

// InterestCalculator computes the interest accrued on a member's loan up to
// a given month.
//
// The accrual window starts at the member's last loan-grant month. When that
// month did not charge interest and grant a loan at the same time, the start
// moves back to the last month before it with a settled (≈0) balance, so the
// window covers the whole life of the current loan.
type InterestCalculator struct {
	ledger LoanLedger
	dec    core.DecimalContext
}

func NewInterestCalculator(ledger LoanLedger, dec core.DecimalContext) *InterestCalculator {
	return &InterestCalculator{ledger: ledger, dec: dec}
}

// InterestToDate computes the member's accrued loan interest through the
// given month at the given monthly rate (0.004 means 4‰).
func (c *InterestCalculator) InterestToDate(ctx context.Context, memberID int64, month, year int, rate decimal.Decimal) (*InterestResult, error) {
	if memberID <= 0 {
		return nil, core.ErrInvalidMemberID
	}
	if err := core.ValidateMonth(month); err != nil {
		return nil, err
	}
	if err := core.ValidateYear(year); err != nil {
		return nil, err
	}

	end := core.Period(year, month)

	lastLoan, found, err := c.ledger.LastLoanPeriod(ctx, memberID, end)
	if err != nil {
		return nil, fmt.Errorf("resolve last loan period: %w", err)
	}
	if !found {
		// Member never borrowed: nothing accrues.
		return &InterestResult{Interest: decimal.Zero, BalanceSum: decimal.Zero}, nil
	}

	start := lastLoan
	interest, loanDebit, rowFound, err := c.ledger.LoanActivityAt(ctx, memberID, lastLoan)
	if err != nil {
		return nil, fmt.Errorf("inspect loan month: %w", err)
	}
	// Interest and a fresh loan in the same month means the previous loan
	// was refinanced there; the window stays at that month. Otherwise it
	// stretches back to the last settled month before the loan.
	if rowFound && !(interest.IsPositive() && loanDebit.IsPositive()) {
		settled, ok, err := c.ledger.LastSettledPeriodBefore(ctx, memberID, lastLoan)
		if err != nil {
			return nil, fmt.Errorf("resolve settled period: %w", err)
		}
		if ok {
			start = settled
		}
	}

	sum, err := c.ledger.SumLoanBalances(ctx, memberID, start, end)
	if err != nil {
		return nil, fmt.Errorf("sum loan balances: %w", err)
	}
	if !sum.IsPositive() {
		return &InterestResult{StartPeriod: start, Interest: decimal.Zero, BalanceSum: decimal.Zero}, nil
	}

	return &InterestResult{
		StartPeriod: start,
		BalanceSum:  sum,
		Interest:    c.dec.RoundAmount(sum.Mul(rate)),
	}, nil
}
