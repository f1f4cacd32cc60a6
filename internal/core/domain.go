package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type (
	// LedgerRow is one depcred row: a member's monthly position. Deposit
	// columns track contributions, loan columns track borrowing; balances
	// are running end-of-month values.
	LedgerRow struct {
		MemberID       int64
		Month          int
		Year           int
		Interest       decimal.Decimal // dobanda
		LoanDebit      decimal.Decimal // impr_deb: loan granted this month
		LoanCredit     decimal.Decimal // impr_cred: loan payment this month
		LoanBalance    decimal.Decimal // impr_sold
		DepositDebit   decimal.Decimal // dep_deb: contribution paid in
		DepositCredit  decimal.Decimal // dep_cred: withdrawal
		DepositBalance decimal.Decimal // dep_sold
		Prima          bool            // marks the most recently generated month
	}

	// Member is a membrii row.
	Member struct {
		ID          int64
		Name        string
		StandardDue decimal.Decimal // cotizatie_standard
	}

	// BenefitBase is the per-member yearly aggregate dividend allocation
	// works from: the sum of positive monthly deposit balances and the
	// December balance of the reference year.
	BenefitBase struct {
		MemberID        int64
		AnnualSum       decimal.Decimal
		DecemberBalance decimal.Decimal
	}

	// MemberBenefit is one computed dividend row (an activi row).
	MemberBenefit struct {
		MemberID        int64
		Name            string
		DecemberBalance decimal.Decimal
		AnnualSum       decimal.Decimal
		Benefit         decimal.Decimal
	}

	// AllocationResult is the outcome of a dividend allocation run.
	// MissingNames lists members that had ledger activity but no membrii
	// entry; their result rows carry a synthesized name.
	AllocationResult struct {
		Members      []MemberBenefit
		TotalBalance decimal.Decimal
		MissingNames []int64
	}

	// RunRecord is an audit journal entry for a completed computation run.
	RunRecord struct {
		Type    string
		Month   int
		Year    int
		Details any
	}
)

// Run types recorded in the audit journal.
const (
	RunTypeBenefits = "benefit_allocation"
	RunTypeMonth    = "month_generation"
)

// LoanZeroEpsilon is the threshold under which a loan balance counts as
// extinguished. Month generation zeroes balances at or below it.
var LoanZeroEpsilon = decimal.New(5, -3) // 0.005

var (
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidYear      = errors.New("invalid year")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidRate      = errors.New("invalid rate")
	ErrInvalidMemberID  = errors.New("invalid member id")
	ErrInvalidDirection = errors.New("invalid conversion direction")

	// ErrDegenerateTotal guards the division: it fires when eligible members
	// exist but their combined yearly sums are not positive, which implies
	// inconsistent ledger data.
	ErrDegenerateTotal = errors.New("total of monthly deposit balances is zero or negative")
)

// NoEligibleMembersError reports that no member qualified for dividends in
// the requested year.
type NoEligibleMembersError struct {
	Year int
}

func (e *NoEligibleMembersError) Error() string {
	return fmt.Sprintf("no members with positive deposit balances found in %d", e.Year)
}

// MonthExistsError reports an attempt to generate a ledger month that is
// already present.
type MonthExistsError struct {
	Month int
	Year  int
}

func (e *MonthExistsError) Error() string {
	return fmt.Sprintf("month %02d-%d already exists in the ledger", e.Month, e.Year)
}

// FallbackName synthesizes a display name for a member missing from membrii.
func FallbackName(memberID int64) string {
	return fmt.Sprintf("Fișa %d", memberID)
}

// ValidateMonth checks a calendar month value.
func ValidateMonth(month int) error {
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// ValidateYear checks a ledger year value.
func ValidateYear(year int) error {
	if year < 1 {
		return ErrInvalidYear
	}
	return nil
}
