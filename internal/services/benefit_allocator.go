// Package services implements the association's computations: annual
// dividend allocation, monthly ledger roll-forward and loan interest to
// date, plus the orchestration layer that wires them to storage and the
// run event publisher.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"carfond/internal/core"
)

// Store contracts the allocator pulls from and writes to. The SQLite
// repository satisfies all of them; tests substitute in-memory fakes.
type (
	// BenefitLedger aggregates the reference year's positive-balance ledger
	// rows per member. Implementations must keep the December condition as a
	// per-group postcondition so that non-December months still count toward
	// the sum.
	BenefitLedger interface {
		AnnualBenefitBases(ctx context.Context, year int) ([]core.BenefitBase, error)
	}

	// MemberDirectory resolves member ids to display names.
	MemberDirectory interface {
		MemberNames(ctx context.Context) (map[int64]string, error)
	}

	// LiquidationSet lists members permanently excluded from computations.
	LiquidationSet interface {
		LiquidatedIDs(ctx context.Context) (map[int64]struct{}, error)
	}

	// BenefitSink receives the computed dividend rows.
	BenefitSink interface {
		ClearBenefits(ctx context.Context) error
		InsertBenefit(ctx context.Context, b core.MemberBenefit) error
	}
)

// AllocateInput carries one allocation run's inputs. Liquidated is optional:
// nil means no exclusions, the same as an empty set.
type AllocateInput struct {
	Year       int
	Profit     decimal.Decimal
	Ledger     BenefitLedger
	Members    MemberDirectory
	Liquidated LiquidationSet
	Sink       BenefitSink
}

// Allocator distributes an annual profit across eligible members in
// proportion to their yearly deposit balance sums.
//
// A member is eligible when they are not liquidated, had at least one
// positive-balance month in the year, their yearly sum is positive, and
// their December balance is positive. The December gate is strict: a member
// who emptied their deposit before year end receives nothing no matter how
// large the other months were.
//
// Negative profit is not rejected; it distributes a loss proportionally by
// the same formula.
type Allocator struct {
	dec core.DecimalContext
}

func NewAllocator(dec core.DecimalContext) *Allocator {
	return &Allocator{dec: dec}
}

// Allocate computes each eligible member's share of profit for the year and
// replaces the sink's contents with the result. The sink is only touched
// after eligibility and the total have been validated.
func (a *Allocator) Allocate(ctx context.Context, in AllocateInput) (*core.AllocationResult, error) {
	if err := core.ValidateYear(in.Year); err != nil {
		return nil, err
	}

	names, err := in.Members.MemberNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("load member names: %w", err)
	}

	liquidated := map[int64]struct{}{}
	if in.Liquidated != nil {
		liquidated, err = in.Liquidated.LiquidatedIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("load liquidated members: %w", err)
		}
	}

	bases, err := in.Ledger.AnnualBenefitBases(ctx, in.Year)
	if err != nil {
		return nil, fmt.Errorf("aggregate yearly balances: %w", err)
	}

	total := decimal.Zero
	members := make([]core.MemberBenefit, 0, len(bases))
	var missing []int64
	for _, b := range bases {
		if _, gone := liquidated[b.MemberID]; gone {
			continue
		}
		name, ok := names[b.MemberID]
		if !ok || name == "" {
			missing = append(missing, b.MemberID)
			name = core.FallbackName(b.MemberID)
		}
		total = total.Add(b.AnnualSum)
		members = append(members, core.MemberBenefit{
			MemberID:        b.MemberID,
			Name:            name,
			DecemberBalance: b.DecemberBalance,
			AnnualSum:       b.AnnualSum,
		})
	}

	if len(members) == 0 {
		return nil, &core.NoEligibleMembersError{Year: in.Year}
	}
	if !total.IsPositive() {
		return nil, core.ErrDegenerateTotal
	}

	// benefit = profit / S_total × annual sum. The ratio keeps the full
	// working precision; rounding happens once per member, at two places.
	ratio := a.dec.Ratio(in.Profit, total)
	for i := range members {
		members[i].Benefit = a.dec.RoundAmount(ratio.Mul(members[i].AnnualSum))
	}

	if err := in.Sink.ClearBenefits(ctx); err != nil {
		return nil, fmt.Errorf("clear previous benefits: %w", err)
	}
	for _, m := range members {
		if err := in.Sink.InsertBenefit(ctx, m); err != nil {
			return nil, fmt.Errorf("insert benefit for member %d: %w", m.MemberID, err)
		}
	}

	slog.InfoContext(ctx, "Benefits allocated",
		"year", in.Year,
		"members", len(members),
		"total_balance", total.String(),
		"missing_names", len(missing))

	return &core.AllocationResult{
		Members:      members,
		TotalBalance: total,
		MissingNames: missing,
	}, nil
}
