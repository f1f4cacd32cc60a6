// Package storage persists the association's books in a single SQLite
// database: the monthly ledger (depcred), the member directory (membrii),
// liquidated members (lichidati), the dividend result table (activi) and the
// computation audit journal (run_history).
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"carfond/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// amount converts a scanned REAL column into a decimal.
func amount(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// AnnualBenefitBases groups the year's positive-balance depcred rows per
// member and keeps only members whose annual sum and December balance are
// both positive. The December condition lives in HAVING, next to the sum
// condition, so non-December rows still contribute to the sum: moving it
// into WHERE would silently drop them.
func (r *SQLiteRepository) AnnualBenefitBases(ctx context.Context, year int) ([]core.BenefitBase, error) {
	const q = `
		SELECT
			nr_fisa,
			SUM(dep_sold) AS suma_solduri,
			MAX(CASE WHEN luna = 12 THEN dep_sold ELSE 0 END) AS sold_decembrie
		FROM depcred
		WHERE anul = ? AND dep_sold > 0
		GROUP BY nr_fisa
		HAVING SUM(dep_sold) > 0 AND MAX(CASE WHEN luna = 12 THEN dep_sold ELSE 0 END) > 0
		ORDER BY nr_fisa`

	rows, err := r.db.QueryContext(ctx, q, year)
	if err != nil {
		return nil, fmt.Errorf("query yearly balances: %w", err)
	}
	defer rows.Close()

	var bases []core.BenefitBase
	for rows.Next() {
		var (
			memberID  int64
			annualSum float64
			december  float64
		)
		if err := rows.Scan(&memberID, &annualSum, &december); err != nil {
			return nil, fmt.Errorf("scan yearly balance row: %w", err)
		}
		bases = append(bases, core.BenefitBase{
			MemberID:        memberID,
			AnnualSum:       amount(annualSum),
			DecemberBalance: amount(december),
		})
	}
	return bases, rows.Err()
}

// MemberNames returns the full member directory as id → trimmed name.
func (r *SQLiteRepository) MemberNames(ctx context.Context) (map[int64]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT nr_fisa, num_pren FROM membrii`)
	if err != nil {
		return nil, fmt.Errorf("query member names: %w", err)
	}
	defer rows.Close()

	names := make(map[int64]string)
	for rows.Next() {
		var (
			memberID int64
			name     sql.NullString
		)
		if err := rows.Scan(&memberID, &name); err != nil {
			return nil, fmt.Errorf("scan member name row: %w", err)
		}
		names[memberID] = strings.TrimSpace(name.String)
	}
	return names, rows.Err()
}

// LiquidatedIDs returns the set of members excluded from all computations.
func (r *SQLiteRepository) LiquidatedIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT nr_fisa FROM lichidati`)
	if err != nil {
		return nil, fmt.Errorf("query liquidated members: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var memberID int64
		if err := rows.Scan(&memberID); err != nil {
			return nil, fmt.Errorf("scan liquidated row: %w", err)
		}
		ids[memberID] = struct{}{}
	}
	return ids, rows.Err()
}

// ActiveMembers returns every membrii row with its standard contribution.
func (r *SQLiteRepository) ActiveMembers(ctx context.Context) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT nr_fisa, num_pren, cotizatie_standard FROM membrii WHERE nr_fisa IS NOT NULL ORDER BY nr_fisa`)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		var (
			memberID int64
			name     sql.NullString
			due      float64
		)
		if err := rows.Scan(&memberID, &name, &due); err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		displayName := strings.TrimSpace(name.String)
		if displayName == "" {
			displayName = "N/A"
		}
		members = append(members, core.Member{
			ID:          memberID,
			Name:        displayName,
			StandardDue: amount(due).Round(2),
		})
	}
	return members, rows.Err()
}

// ClearBenefits wipes the dividend result table.
func (r *SQLiteRepository) ClearBenefits(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM activi`); err != nil {
		return fmt.Errorf("clear benefits: %w", err)
	}
	return nil
}

// InsertBenefit writes one computed dividend row.
func (r *SQLiteRepository) InsertBenefit(ctx context.Context, b core.MemberBenefit) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activi (nr_fisa, num_pren, dep_sold, dividend) VALUES (?, ?, ?, ?)`,
		b.MemberID, b.Name, b.DecemberBalance.InexactFloat64(), b.Benefit.InexactFloat64())
	if err != nil {
		return fmt.Errorf("insert benefit: %w", err)
	}
	return nil
}

// ListBenefits returns the current dividend result rows.
func (r *SQLiteRepository) ListBenefits(ctx context.Context) ([]core.MemberBenefit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT nr_fisa, num_pren, dep_sold, dividend FROM activi ORDER BY nr_fisa`)
	if err != nil {
		return nil, fmt.Errorf("query benefits: %w", err)
	}
	defer rows.Close()

	var benefits []core.MemberBenefit
	for rows.Next() {
		var (
			b        core.MemberBenefit
			december float64
			dividend float64
		)
		if err := rows.Scan(&b.MemberID, &b.Name, &december, &dividend); err != nil {
			return nil, fmt.Errorf("scan benefit row: %w", err)
		}
		b.DecemberBalance = amount(december)
		b.Benefit = amount(dividend)
		benefits = append(benefits, b)
	}
	return benefits, rows.Err()
}

// BenefitFor returns the stored dividend for a member, zero when absent.
func (r *SQLiteRepository) BenefitFor(ctx context.Context, memberID int64) (decimal.Decimal, error) {
	var dividend float64
	err := r.db.QueryRowContext(ctx,
		`SELECT dividend FROM activi WHERE nr_fisa = ?`, memberID).Scan(&dividend)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query dividend: %w", err)
	}
	return amount(dividend).Round(2), nil
}

// MonthExists reports whether the ledger already holds any row for the month.
func (r *SQLiteRepository) MonthExists(ctx context.Context, month, year int) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM depcred WHERE luna = ? AND anul = ? LIMIT 1`, month, year).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query month existence: %w", err)
	}
	return true, nil
}

// DeleteMonth removes every ledger row of the given month.
func (r *SQLiteRepository) DeleteMonth(ctx context.Context, month, year int) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM depcred WHERE luna = ? AND anul = ?`, month, year); err != nil {
		return fmt.Errorf("delete month: %w", err)
	}
	return nil
}

// ResetPrima clears the freshest-month marker on the given month's rows.
func (r *SQLiteRepository) ResetPrima(ctx context.Context, month, year int) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE depcred SET prima = 0 WHERE luna = ? AND anul = ?`, month, year); err != nil {
		return fmt.Errorf("reset prima: %w", err)
	}
	return nil
}

// MemberMonth loads a member's ledger row for one month, nil when absent.
func (r *SQLiteRepository) MemberMonth(ctx context.Context, memberID int64, month, year int) (*core.LedgerRow, error) {
	var (
		dobanda, imprDeb, imprCred, imprSold float64
		depDeb, depCred, depSold             float64
		prima                                int
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT dobanda, impr_deb, impr_cred, impr_sold, dep_deb, dep_cred, dep_sold, prima
		FROM depcred
		WHERE nr_fisa = ? AND luna = ? AND anul = ?`,
		memberID, month, year).
		Scan(&dobanda, &imprDeb, &imprCred, &imprSold, &depDeb, &depCred, &depSold, &prima)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query member month: %w", err)
	}
	return &core.LedgerRow{
		MemberID:       memberID,
		Month:          month,
		Year:           year,
		Interest:       amount(dobanda),
		LoanDebit:      amount(imprDeb),
		LoanCredit:     amount(imprCred),
		LoanBalance:    amount(imprSold),
		DepositDebit:   amount(depDeb),
		DepositCredit:  amount(depCred),
		DepositBalance: amount(depSold),
		Prima:          prima != 0,
	}, nil
}

// InsertLedgerRow appends one generated ledger row.
func (r *SQLiteRepository) InsertLedgerRow(ctx context.Context, row core.LedgerRow) error {
	prima := 0
	if row.Prima {
		prima = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO depcred (nr_fisa, luna, anul, dobanda, impr_deb, impr_cred, impr_sold, dep_deb, dep_cred, dep_sold, prima)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.MemberID, row.Month, row.Year,
		row.Interest.InexactFloat64(),
		row.LoanDebit.InexactFloat64(), row.LoanCredit.InexactFloat64(), row.LoanBalance.InexactFloat64(),
		row.DepositDebit.InexactFloat64(), row.DepositCredit.InexactFloat64(), row.DepositBalance.InexactFloat64(),
		prima)
	if err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}
	return nil
}

// LastLoanPeriod returns the latest period at or before maxPeriod in which
// the member was granted a loan.
func (r *SQLiteRepository) LastLoanPeriod(ctx context.Context, memberID int64, maxPeriod int) (int, bool, error) {
	var period sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(anul * 100 + luna)
		FROM depcred
		WHERE nr_fisa = ? AND impr_deb > 0 AND (anul * 100 + luna) <= ?`,
		memberID, maxPeriod).Scan(&period)
	if err != nil {
		return 0, false, fmt.Errorf("query last loan period: %w", err)
	}
	if !period.Valid {
		return 0, false, nil
	}
	return int(period.Int64), true, nil
}

// LoanActivityAt returns the interest charged and loan granted in one period.
func (r *SQLiteRepository) LoanActivityAt(ctx context.Context, memberID int64, period int) (interest, loanDebit decimal.Decimal, found bool, err error) {
	var dobanda, imprDeb float64
	scanErr := r.db.QueryRowContext(ctx, `
		SELECT dobanda, impr_deb
		FROM depcred
		WHERE nr_fisa = ? AND (anul * 100 + luna) = ?`,
		memberID, period).Scan(&dobanda, &imprDeb)
	if scanErr == sql.ErrNoRows {
		return decimal.Zero, decimal.Zero, false, nil
	}
	if scanErr != nil {
		return decimal.Zero, decimal.Zero, false, fmt.Errorf("query loan activity: %w", scanErr)
	}
	return amount(dobanda), amount(imprDeb), true, nil
}

// LastSettledPeriodBefore returns the latest period strictly before the given
// one in which the member's loan balance was at or below the zeroing epsilon.
func (r *SQLiteRepository) LastSettledPeriodBefore(ctx context.Context, memberID int64, period int) (int, bool, error) {
	var settled sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(anul * 100 + luna)
		FROM depcred
		WHERE nr_fisa = ? AND impr_sold <= 0.005 AND (anul * 100 + luna) < ?`,
		memberID, period).Scan(&settled)
	if err != nil {
		return 0, false, fmt.Errorf("query last settled period: %w", err)
	}
	if !settled.Valid {
		return 0, false, nil
	}
	return int(settled.Int64), true, nil
}

// SumLoanBalances sums the member's positive loan balances over [startPeriod, endPeriod].
func (r *SQLiteRepository) SumLoanBalances(ctx context.Context, memberID int64, startPeriod, endPeriod int) (decimal.Decimal, error) {
	var sum sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(impr_sold)
		FROM depcred
		WHERE nr_fisa = ? AND (anul * 100 + luna) BETWEEN ? AND ? AND impr_sold > 0`,
		memberID, startPeriod, endPeriod).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query loan balance sum: %w", err)
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return amount(sum.Float64), nil
}

// RecordRun appends an audit journal entry for a completed computation run.
func (r *SQLiteRepository) RecordRun(ctx context.Context, rec core.RunRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal run details: %w", err)
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO run_history (run_type, luna, anul, details) VALUES (?, ?, ?, ?)`,
		rec.Type, rec.Month, rec.Year, string(details)); err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// CountRuns returns how many journal entries exist for a run type.
func (r *SQLiteRepository) CountRuns(ctx context.Context, runType string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM run_history WHERE run_type = ?`, runType).Scan(&n); err != nil {
		return 0, fmt.Errorf("count run records: %w", err)
	}
	return n, nil
}
