package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"carfond/internal/amqp"
	"carfond/internal/core"
	"carfond/internal/storage"
)

// LedgerService orchestrates bookkeeping operations across SQLite and AMQP
type LedgerService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
	allocator  *Allocator
	generator  *MonthGenerator
	interest   *InterestCalculator
	dec        core.DecimalContext

	extinctionRatePermille int64
}

func NewLedgerService(repo *storage.SQLiteRepository, amqpClient *amqp.Client, extinctionRatePermille int64) *LedgerService {
	dec := core.DefaultDecimalContext()
	return &LedgerService{
		storage:                repo,
		amqpClient:             amqpClient,
		allocator:              NewAllocator(dec),
		generator:              NewMonthGenerator(repo, repo, dec),
		interest:               NewInterestCalculator(repo, dec),
		dec:                    dec,
		extinctionRatePermille: extinctionRatePermille,
	}
}

// ComputeBenefits runs the annual dividend allocation for a year, replaces
// the stored dividend table and publishes a run event
func (s *LedgerService) ComputeBenefits(ctx context.Context, year int, profit decimal.Decimal) (*core.AllocationResult, error) {
	result, err := s.allocator.Allocate(ctx, AllocateInput{
		Year:       year,
		Profit:     profit,
		Ledger:     s.storage,
		Members:    s.storage,
		Liquidated: s.storage,
		Sink:       s.storage,
	})
	if err != nil {
		return nil, err
	}

	// Publish async run event (non-blocking)
	msg := amqp.NewRunEventMessage(core.RunTypeBenefits, 0, year, len(result.Members), profit.StringFixed(2))
	if err := s.publishRunEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish benefit run event",
			"year", year, "error", err)
		// Don't fail the request - the allocation is stored locally
	}

	return result, nil
}

// ListBenefits returns the stored dividend rows
func (s *LedgerService) ListBenefits(ctx context.Context) ([]core.MemberBenefit, error) {
	return s.storage.ListBenefits(ctx)
}

// GenerateMonth rolls the ledger forward to month/year. With overwrite set,
// an existing target month is deleted and regenerated
func (s *LedgerService) GenerateMonth(ctx context.Context, month, year int, overwrite bool) (*GenerateSummary, error) {
	if overwrite {
		if err := s.generator.Remove(ctx, month, year); err != nil {
			return nil, fmt.Errorf("delete existing month: %w", err)
		}
	}

	summary, err := s.generator.Generate(ctx, GenerateInput{
		Month:                  month,
		Year:                   year,
		ExtinctionRatePermille: s.extinctionRatePermille,
		Liquidated:             s.storage,
		Dividends:              s.storage,
	})
	if err != nil {
		return nil, err
	}

	msg := amqp.NewRunEventMessage(core.RunTypeMonth, month, year, summary.GeneratedRows, summary.TotalDepositBalance.StringFixed(2))
	if err := s.publishRunEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish month run event",
			"month", month, "year", year, "error", err)
	}

	return summary, nil
}

// RemoveMonth deletes one month's ledger rows
func (s *LedgerService) RemoveMonth(ctx context.Context, month, year int) error {
	return s.generator.Remove(ctx, month, year)
}

// InterestToDate computes a member's accrued loan interest through a month.
// A zero rate falls back to the configured extinction rate.
func (s *LedgerService) InterestToDate(ctx context.Context, memberID int64, month, year int, rate decimal.Decimal) (*InterestResult, error) {
	if rate.IsZero() {
		rate = decimal.New(s.extinctionRatePermille, -3)
	}
	if rate.IsNegative() {
		return nil, core.ErrInvalidRate
	}
	return s.interest.InterestToDate(ctx, memberID, month, year, rate)
}

func (s *LedgerService) publishRunEvent(ctx context.Context, msg *amqp.RunEventMessage) error {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping run event")
		return nil
	}

	return s.amqpClient.PublishRunEvent(ctx, msg)
}

// Close closes both storage and AMQP connections
func (s *LedgerService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}

	return nil
}
