package services

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/shopspring/decimal"

	"carfond/internal/core"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

// fakeStore folds raw ledger rows into yearly benefit bases the same way
// the SQL aggregation does: only positive-balance rows count, and the
// December condition is checked per member after grouping.
type fakeStore struct {
	rows       []core.LedgerRow
	names      map[int64]string
	liquidated map[int64]struct{}

	benefits  []core.MemberBenefit
	clears    int
	clearErr  error
	insertErr error
}

func (f *fakeStore) AnnualBenefitBases(_ context.Context, year int) ([]core.BenefitBase, error) {
	type agg struct {
		sum decimal.Decimal
		dec decimal.Decimal
	}
	byMember := map[int64]*agg{}
	for _, r := range f.rows {
		if r.Year != year || !r.DepositBalance.IsPositive() {
			continue
		}
		a := byMember[r.MemberID]
		if a == nil {
			a = &agg{sum: decimal.Zero, dec: decimal.Zero}
			byMember[r.MemberID] = a
		}
		a.sum = a.sum.Add(r.DepositBalance)
		if r.Month == 12 && r.DepositBalance.GreaterThan(a.dec) {
			a.dec = r.DepositBalance
		}
	}

	var out []core.BenefitBase
	for id, a := range byMember {
		if !a.sum.IsPositive() || !a.dec.IsPositive() {
			continue
		}
		out = append(out, core.BenefitBase{MemberID: id, AnnualSum: a.sum, DecemberBalance: a.dec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

func (f *fakeStore) MemberNames(context.Context) (map[int64]string, error) {
	if f.names == nil {
		return map[int64]string{}, nil
	}
	return f.names, nil
}

func (f *fakeStore) LiquidatedIDs(context.Context) (map[int64]struct{}, error) {
	if f.liquidated == nil {
		return map[int64]struct{}{}, nil
	}
	return f.liquidated, nil
}

func (f *fakeStore) ClearBenefits(context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.clears++
	f.benefits = nil
	return nil
}

func (f *fakeStore) InsertBenefit(_ context.Context, b core.MemberBenefit) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.benefits = append(f.benefits, b)
	return nil
}

// row builds a minimal deposit-side ledger row.
func row(memberID int64, month, year int, depositBalance string) core.LedgerRow {
	return core.LedgerRow{
		MemberID:       memberID,
		Month:          month,
		Year:           year,
		DepositBalance: decimal.RequireFromString(depositBalance),
	}
}

// fullYear builds twelve rows with the same balance every month.
func fullYear(memberID int64, year int, balance string) []core.LedgerRow {
	rows := make([]core.LedgerRow, 0, 12)
	for m := 1; m <= 12; m++ {
		rows = append(rows, row(memberID, m, year, balance))
	}
	return rows
}

func allocate(t *testing.T, store *fakeStore, year int, profit string) (*core.AllocationResult, error) {
	t.Helper()
	a := NewAllocator(core.DefaultDecimalContext())
	return a.Allocate(context.Background(), AllocateInput{
		Year:       year,
		Profit:     dec(t, profit),
		Ledger:     store,
		Members:    store,
		Liquidated: store,
		Sink:       store,
	})
}

func TestAllocator_Proportionality(t *testing.T) {
	store := &fakeStore{
		names: map[int64]string{1: "Popescu Ion", 2: "Ionescu Maria"},
	}
	store.rows = append(store.rows, fullYear(1, 2024, "1000")...) // sum 12000
	store.rows = append(store.rows, fullYear(2, 2024, "5000")...) // sum 60000

	result, err := allocate(t, store, 2024, "720")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if got := result.TotalBalance; !got.Equal(dec(t, "72000")) {
		t.Errorf("total balance = %s, want 72000", got)
	}
	if len(result.Members) != 2 {
		t.Fatalf("got %d members, want 2", len(result.Members))
	}
	// ratio = 720/72000 = 0.01
	if got := result.Members[0].Benefit; !got.Equal(dec(t, "120")) {
		t.Errorf("member 1 benefit = %s, want 120", got)
	}
	if got := result.Members[1].Benefit; !got.Equal(dec(t, "600")) {
		t.Errorf("member 2 benefit = %s, want 600", got)
	}
}

func TestAllocator_DecemberGate(t *testing.T) {
	t.Run("zero December balance excludes the member", func(t *testing.T) {
		store := &fakeStore{names: map[int64]string{1: "Popescu Ion", 2: "Ionescu Maria"}}
		// Member 1 saved Jan through Nov, then emptied the account.
		for m := 1; m <= 11; m++ {
			store.rows = append(store.rows, row(1, m, 2024, "9000"))
		}
		store.rows = append(store.rows, row(1, 12, 2024, "0"))
		store.rows = append(store.rows, fullYear(2, 2024, "100")...)

		result, err := allocate(t, store, 2024, "500")
		if err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
		if len(result.Members) != 1 || result.Members[0].MemberID != 2 {
			t.Fatalf("expected only member 2, got %+v", result.Members)
		}
		// Member 2 takes the whole profit.
		if got := result.Members[0].Benefit; !got.Equal(dec(t, "500")) {
			t.Errorf("benefit = %s, want 500", got)
		}
	})

	t.Run("missing December row excludes the member", func(t *testing.T) {
		store := &fakeStore{names: map[int64]string{1: "Popescu Ion"}}
		for m := 1; m <= 11; m++ {
			store.rows = append(store.rows, row(1, m, 2024, "500"))
		}

		_, err := allocate(t, store, 2024, "100")
		var noneErr *core.NoEligibleMembersError
		if !errors.As(err, &noneErr) {
			t.Fatalf("expected NoEligibleMembersError, got %v", err)
		}
	})

	t.Run("non-December months still count toward the sum", func(t *testing.T) {
		// A single positive December must not be the only contribution.
		store := &fakeStore{names: map[int64]string{1: "Popescu Ion"}}
		store.rows = append(store.rows,
			row(1, 6, 2024, "300"),
			row(1, 12, 2024, "100"),
		)

		result, err := allocate(t, store, 2024, "40")
		if err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
		if got := result.Members[0].AnnualSum; !got.Equal(dec(t, "400")) {
			t.Errorf("annual sum = %s, want 400", got)
		}
		if got := result.Members[0].Benefit; !got.Equal(dec(t, "40")) {
			t.Errorf("benefit = %s, want 40", got)
		}
	})
}

func TestAllocator_NegativeMonthsIgnored(t *testing.T) {
	store := &fakeStore{names: map[int64]string{1: "Popescu Ion"}}
	store.rows = append(store.rows,
		row(1, 1, 2024, "-250"),
		row(1, 2, 2024, "600"),
		row(1, 12, 2024, "400"),
	)

	result, err := allocate(t, store, 2024, "100")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	// The overdrawn January does not subtract from the base.
	if got := result.Members[0].AnnualSum; !got.Equal(dec(t, "1000")) {
		t.Errorf("annual sum = %s, want 1000", got)
	}
}

func TestAllocator_LiquidatedExcluded(t *testing.T) {
	store := &fakeStore{
		names:      map[int64]string{1: "Popescu Ion", 2: "Ionescu Maria"},
		liquidated: map[int64]struct{}{1: {}},
	}
	store.rows = append(store.rows, fullYear(1, 2024, "1000")...)
	store.rows = append(store.rows, fullYear(2, 2024, "1000")...)

	result, err := allocate(t, store, 2024, "240")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(result.Members) != 1 || result.Members[0].MemberID != 2 {
		t.Fatalf("expected only member 2, got %+v", result.Members)
	}
	if got := result.Members[0].Benefit; !got.Equal(dec(t, "240")) {
		t.Errorf("benefit = %s, want 240", got)
	}
}

func TestAllocator_AllLiquidated(t *testing.T) {
	store := &fakeStore{
		names:      map[int64]string{1: "Popescu Ion"},
		liquidated: map[int64]struct{}{1: {}},
	}
	store.rows = append(store.rows, fullYear(1, 2024, "1000")...)
	store.benefits = []core.MemberBenefit{{MemberID: 9}}

	_, err := allocate(t, store, 2024, "100")
	var noneErr *core.NoEligibleMembersError
	if !errors.As(err, &noneErr) {
		t.Fatalf("expected NoEligibleMembersError, got %v", err)
	}
	if noneErr.Year != 2024 {
		t.Errorf("error year = %d, want 2024", noneErr.Year)
	}
	// The sink keeps its previous contents when the run fails.
	if store.clears != 0 || len(store.benefits) != 1 {
		t.Errorf("sink was touched on a failed run: clears=%d benefits=%d", store.clears, len(store.benefits))
	}
}

func TestAllocator_MissingNameFallback(t *testing.T) {
	store := &fakeStore{names: map[int64]string{2: "Ionescu Maria"}}
	store.rows = append(store.rows, fullYear(1, 2024, "100")...)
	store.rows = append(store.rows, fullYear(2, 2024, "100")...)

	result, err := allocate(t, store, 2024, "50")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if got := result.Members[0].Name; got != "Fișa 1" {
		t.Errorf("fallback name = %q, want %q", got, "Fișa 1")
	}
	if len(result.MissingNames) != 1 || result.MissingNames[0] != 1 {
		t.Errorf("missing names = %v, want [1]", result.MissingNames)
	}
}

func TestAllocator_NegativeProfit(t *testing.T) {
	store := &fakeStore{names: map[int64]string{1: "Popescu Ion", 2: "Ionescu Maria"}}
	store.rows = append(store.rows, fullYear(1, 2024, "1000")...)
	store.rows = append(store.rows, fullYear(2, 2024, "3000")...)

	result, err := allocate(t, store, 2024, "-480")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if got := result.Members[0].Benefit; !got.Equal(dec(t, "-120")) {
		t.Errorf("member 1 share = %s, want -120", got)
	}
	if got := result.Members[1].Benefit; !got.Equal(dec(t, "-360")) {
		t.Errorf("member 2 share = %s, want -360", got)
	}
}

func TestAllocator_RoundingHalfUp(t *testing.T) {
	// Total 1000 and profit 5 give an exact ratio of 0.005, so the raw
	// shares end in a half cent: 2.005 and 2.995 round up to 2.01 and 3.00.
	store := &fakeStore{names: map[int64]string{1: "A", 2: "B"}}
	store.rows = append(store.rows,
		row(1, 12, 2024, "401"),
		row(2, 12, 2024, "599"),
	)

	result, err := allocate(t, store, 2024, "5")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if got := result.Members[0].Benefit; !got.Equal(dec(t, "2.01")) {
		t.Errorf("member 1 benefit = %s, want 2.01", got)
	}
	if got := result.Members[1].Benefit; !got.Equal(dec(t, "3.00")) {
		t.Errorf("member 2 benefit = %s, want 3.00", got)
	}
}

func TestAllocator_ResidualBound(t *testing.T) {
	// Awkward sums that cannot divide evenly: the rounded shares must land
	// within one cent per member of the exact profit.
	store := &fakeStore{names: map[int64]string{}}
	rng := rand.New(rand.NewSource(7))
	const n = 57
	for id := int64(1); id <= n; id++ {
		balance := decimal.NewFromInt(int64(rng.Intn(9000) + 37)).Add(decimal.New(int64(rng.Intn(100)), -2))
		store.rows = append(store.rows, fullYear(id, 2024, balance.String())...)
	}

	profit := dec(t, "12345.67")
	result, err := allocate(t, store, 2024, profit.String())
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	sum := decimal.Zero
	for _, m := range result.Members {
		sum = sum.Add(m.Benefit)
	}
	residual := sum.Sub(profit).Abs()
	bound := decimal.New(1, -2).Mul(decimal.NewFromInt(n))
	if residual.GreaterThan(bound) {
		t.Errorf("residual %s exceeds bound %s", residual, bound)
	}
}

func TestAllocator_HighPrecisionRatio(t *testing.T) {
	// 1/3 ratios need the long division: 100 split over 300 total at
	// 20-digit precision gives each 1000-sum member exactly 33.33 and the
	// residual stays tiny.
	store := &fakeStore{names: map[int64]string{}}
	store.rows = append(store.rows, fullYear(1, 2024, "1000")...)
	store.rows = append(store.rows, fullYear(2, 2024, "1000")...)
	store.rows = append(store.rows, fullYear(3, 2024, "1000")...)

	result, err := allocate(t, store, 2024, "100")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	for _, m := range result.Members {
		if !m.Benefit.Equal(dec(t, "33.33")) {
			t.Errorf("member %d benefit = %s, want 33.33", m.MemberID, m.Benefit)
		}
	}
}

func TestAllocator_ReplacesPreviousRun(t *testing.T) {
	store := &fakeStore{names: map[int64]string{1: "Popescu Ion"}}
	store.rows = append(store.rows, fullYear(1, 2024, "100")...)
	store.benefits = []core.MemberBenefit{{MemberID: 77}, {MemberID: 78}}

	result, err := allocate(t, store, 2024, "10")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if store.clears != 1 {
		t.Errorf("clears = %d, want 1", store.clears)
	}
	if len(store.benefits) != len(result.Members) {
		t.Errorf("sink holds %d rows, want %d", len(store.benefits), len(result.Members))
	}
	if store.benefits[0].MemberID != 1 {
		t.Errorf("sink member = %d, want 1", store.benefits[0].MemberID)
	}
}

func TestAllocator_NilLiquidationSet(t *testing.T) {
	store := &fakeStore{names: map[int64]string{1: "Popescu Ion"}}
	store.rows = append(store.rows, fullYear(1, 2024, "100")...)

	a := NewAllocator(core.DefaultDecimalContext())
	result, err := a.Allocate(context.Background(), AllocateInput{
		Year:    2024,
		Profit:  dec(t, "10"),
		Ledger:  store,
		Members: store,
		Sink:    store,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(result.Members) != 1 {
		t.Errorf("got %d members, want 1", len(result.Members))
	}
}

func TestAllocator_InvalidYear(t *testing.T) {
	store := &fakeStore{}
	if _, err := allocate(t, store, 0, "10"); !errors.Is(err, core.ErrInvalidYear) {
		t.Errorf("expected ErrInvalidYear, got %v", err)
	}
}

// stubBases bypasses the aggregation to feed the allocator raw bases.
type stubBases struct {
	bases []core.BenefitBase
}

func (s *stubBases) AnnualBenefitBases(context.Context, int) ([]core.BenefitBase, error) {
	return s.bases, nil
}

func TestAllocator_DegenerateTotal(t *testing.T) {
	store := &fakeStore{names: map[int64]string{1: "Popescu Ion"}}
	ledger := &stubBases{bases: []core.BenefitBase{
		{MemberID: 1, AnnualSum: decimal.Zero, DecemberBalance: dec(t, "1")},
	}}

	a := NewAllocator(core.DefaultDecimalContext())
	_, err := a.Allocate(context.Background(), AllocateInput{
		Year:    2024,
		Profit:  dec(t, "10"),
		Ledger:  ledger,
		Members: store,
		Sink:    store,
	})
	if !errors.Is(err, core.ErrDegenerateTotal) {
		t.Fatalf("expected ErrDegenerateTotal, got %v", err)
	}
	if store.clears != 0 {
		t.Error("sink was cleared on a failed run")
	}
}

func TestAllocator_OrderIndependence(t *testing.T) {
	build := func(shuffle bool) *fakeStore {
		store := &fakeStore{names: map[int64]string{}}
		for id := int64(1); id <= 9; id++ {
			store.rows = append(store.rows, fullYear(id, 2024, decimal.NewFromInt(id*137).String())...)
		}
		if shuffle {
			rng := rand.New(rand.NewSource(99))
			rng.Shuffle(len(store.rows), func(i, j int) {
				store.rows[i], store.rows[j] = store.rows[j], store.rows[i]
			})
		}
		return store
	}

	first, err := allocate(t, build(false), 2024, "333.33")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	second, err := allocate(t, build(true), 2024, "333.33")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if len(first.Members) != len(second.Members) {
		t.Fatalf("member count differs: %d vs %d", len(first.Members), len(second.Members))
	}
	for i := range first.Members {
		a, b := first.Members[i], second.Members[i]
		if a.MemberID != b.MemberID || !a.Benefit.Equal(b.Benefit) {
			t.Errorf("row %d differs: %d/%s vs %d/%s", i, a.MemberID, a.Benefit, b.MemberID, b.Benefit)
		}
	}
}
