package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"carfond/internal/core"
)

// GenerationLedger exposes the depcred operations month generation needs.
type GenerationLedger interface {
	MonthExists(ctx context.Context, month, year int) (bool, error)
	DeleteMonth(ctx context.Context, month, year int) error
	ResetPrima(ctx context.Context, month, year int) error
	// MemberMonth loads one member's ledger row, nil when absent.
	MemberMonth(ctx context.Context, memberID int64, month, year int) (*core.LedgerRow, error)
	InsertLedgerRow(ctx context.Context, row core.LedgerRow) error
	LastLoanPeriod(ctx context.Context, memberID int64, maxPeriod int) (int, bool, error)
	SumLoanBalances(ctx context.Context, memberID int64, startPeriod, endPeriod int) (decimal.Decimal, error)
}

// MemberRoster lists the directory members with their standard contribution.
type MemberRoster interface {
	ActiveMembers(ctx context.Context) ([]core.Member, error)
}

// DividendSource returns a member's stored dividend, zero when absent.
type DividendSource interface {
	BenefitFor(ctx context.Context, memberID int64) (decimal.Decimal, error)
}

// GenerateInput configures one month generation run. Liquidated and
// Dividends are optional; OnProgress, when set, receives human-readable
// progress lines.
type GenerateInput struct {
	Month                  int
	Year                   int
	ExtinctionRatePermille int64
	Liquidated             LiquidationSet
	Dividends              DividendSource
	OnProgress             func(msg string)
}

// GenerateSummary reports what a generation run produced.
type GenerateSummary struct {
	Month                  int
	Year                   int
	ActiveMembers          int
	GeneratedRows          int
	SkippedMissingSource   int
	TotalLoanInterestCount int
	TotalLoanInterestSum   decimal.Decimal
	TotalLoanBalance       decimal.Decimal
	TotalDepositBalance    decimal.Decimal
}

// MonthGenerator rolls the ledger forward one month: each active member's
// row for month M is derived from their M-1 row — inherited loan payment
// rate, standard contribution, the January dividend, and interest charged
// when a loan is fully extinguished.
type MonthGenerator struct {
	ledger GenerationLedger
	roster MemberRoster
	dec    core.DecimalContext
}

func NewMonthGenerator(ledger GenerationLedger, roster MemberRoster, dec core.DecimalContext) *MonthGenerator {
	return &MonthGenerator{ledger: ledger, roster: roster, dec: dec}
}

// Generate creates the target month's ledger rows. The target must not
// exist yet; callers wanting to regenerate delete it first.
func (g *MonthGenerator) Generate(ctx context.Context, in GenerateInput) (*GenerateSummary, error) {
	if err := core.ValidateMonth(in.Month); err != nil {
		return nil, err
	}
	if err := core.ValidateYear(in.Year); err != nil {
		return nil, err
	}
	rate := decimal.New(in.ExtinctionRatePermille, -3) // 4‰ → 0.004

	sourceYear, sourceMonth := core.PreviousPeriod(in.Year, in.Month)
	if sourceYear < 1 {
		return nil, core.ErrInvalidYear
	}
	sourcePeriod := core.Period(sourceYear, sourceMonth)

	progress := in.OnProgress
	if progress == nil {
		progress = func(string) {}
	}
	progress(fmt.Sprintf("Generating %02d-%d from %02d-%d", in.Month, in.Year, sourceMonth, sourceYear))

	exists, err := g.ledger.MonthExists(ctx, in.Month, in.Year)
	if err != nil {
		return nil, fmt.Errorf("check target month: %w", err)
	}
	if exists {
		return nil, &core.MonthExistsError{Month: in.Month, Year: in.Year}
	}

	liquidated := map[int64]struct{}{}
	if in.Liquidated != nil {
		liquidated, err = in.Liquidated.LiquidatedIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("load liquidated members: %w", err)
		}
	}

	roster, err := g.roster.ActiveMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	members := roster[:0:0]
	for _, m := range roster {
		if _, gone := liquidated[m.ID]; gone {
			continue
		}
		members = append(members, m)
	}

	summary := &GenerateSummary{
		Month:                in.Month,
		Year:                 in.Year,
		ActiveMembers:        len(members),
		TotalLoanInterestSum: decimal.Zero,
		TotalLoanBalance:     decimal.Zero,
		TotalDepositBalance:  decimal.Zero,
	}
	if len(members) == 0 {
		progress("No active members, nothing to generate")
		return summary, nil
	}
	progress(fmt.Sprintf("Processing %d members", len(members)))

	// The source month stops being the freshest one.
	if err := g.ledger.ResetPrima(ctx, sourceMonth, sourceYear); err != nil {
		return nil, fmt.Errorf("reset prima on source month: %w", err)
	}

	for _, member := range members {
		src, err := g.ledger.MemberMonth(ctx, member.ID, sourceMonth, sourceYear)
		if err != nil {
			return nil, fmt.Errorf("load source row for member %d: %w", member.ID, err)
		}
		if src == nil {
			summary.SkippedMissingSource++
			continue
		}

		// Payment rate carries over from the source month unless a new loan
		// was granted there; a fresh loan starts with no inherited rate.
		payment := decimal.Zero
		if !src.LoanDebit.IsPositive() {
			payment = src.LoanCredit.Round(2)
		}

		contribution := member.StandardDue
		if in.Month == 1 && in.Dividends != nil {
			dividend, err := in.Dividends.BenefitFor(ctx, member.ID)
			if err != nil {
				return nil, fmt.Errorf("load dividend for member %d: %w", member.ID, err)
			}
			if dividend.IsPositive() {
				progress(fmt.Sprintf("Member %d (%s): contribution %s + dividend %s",
					member.ID, member.Name, contribution.StringFixed(2), dividend.StringFixed(2)))
				contribution = contribution.Add(dividend)
			}
		}

		// Never pay more than the outstanding balance.
		if src.LoanBalance.LessThanOrEqual(core.LoanZeroEpsilon) {
			payment = decimal.Zero
		} else {
			payment = decimal.Min(src.LoanBalance, payment)
		}

		newLoanBalance := src.LoanBalance.Sub(payment)
		if newLoanBalance.LessThanOrEqual(core.LoanZeroEpsilon) {
			newLoanBalance = decimal.Zero
		}
		newDepositBalance := src.DepositBalance.Add(contribution)

		// Full extinction charges interest over the life of the loan: the
		// sum of its monthly balances times the extinction rate.
		loanInterest := decimal.Zero
		if src.LoanBalance.GreaterThan(core.LoanZeroEpsilon) && newLoanBalance.IsZero() {
			loanStart, found, err := g.ledger.LastLoanPeriod(ctx, member.ID, sourcePeriod)
			if err != nil {
				return nil, fmt.Errorf("resolve loan start for member %d: %w", member.ID, err)
			}
			if found {
				balanceSum, err := g.ledger.SumLoanBalances(ctx, member.ID, loanStart, sourcePeriod)
				if err != nil {
					return nil, fmt.Errorf("sum loan balances for member %d: %w", member.ID, err)
				}
				if balanceSum.IsPositive() {
					loanInterest = g.dec.RoundAmount(balanceSum.Mul(rate))
					summary.TotalLoanInterestSum = summary.TotalLoanInterestSum.Add(loanInterest)
					summary.TotalLoanInterestCount++
					progress(fmt.Sprintf("Member %d (%s): extinction interest %s over %s",
						member.ID, member.Name, loanInterest.StringFixed(2), core.FormatPeriod(loanStart)))
				}
			}
		}

		row := core.LedgerRow{
			MemberID:       member.ID,
			Month:          in.Month,
			Year:           in.Year,
			Interest:       loanInterest,
			LoanDebit:      decimal.Zero,
			LoanCredit:     payment,
			LoanBalance:    newLoanBalance,
			DepositDebit:   contribution,
			DepositCredit:  decimal.Zero,
			DepositBalance: newDepositBalance,
			Prima:          true,
		}
		if err := g.ledger.InsertLedgerRow(ctx, row); err != nil {
			return nil, fmt.Errorf("insert row for member %d: %w", member.ID, err)
		}

		summary.GeneratedRows++
		summary.TotalLoanBalance = summary.TotalLoanBalance.Add(newLoanBalance)
		summary.TotalDepositBalance = summary.TotalDepositBalance.Add(newDepositBalance)
	}

	slog.InfoContext(ctx, "Month generated",
		"month", in.Month,
		"year", in.Year,
		"rows", summary.GeneratedRows,
		"skipped_missing_source", summary.SkippedMissingSource,
		"loan_interest_count", summary.TotalLoanInterestCount)

	return summary, nil
}

// Remove deletes every ledger row of the given month. Removing a month that
// does not exist is not an error.
func (g *MonthGenerator) Remove(ctx context.Context, month, year int) error {
	if err := core.ValidateMonth(month); err != nil {
		return err
	}
	if err := core.ValidateYear(year); err != nil {
		return err
	}
	return g.ledger.DeleteMonth(ctx, month, year)
}
