// Package worker processes run events published by the main application and
// records them in the audit journal.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"carfond/internal/amqp"
	"carfond/internal/core"
)

// RunRecorder persists audit journal entries.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec core.RunRecord) error
}

// JournalWorker handles run events coming in over AMQP
type JournalWorker struct {
	recorder RunRecorder
}

func NewJournalWorker(recorder RunRecorder) *JournalWorker {
	return &JournalWorker{recorder: recorder}
}

// HandleRunEvent processes a single run event message from AMQP
func (w *JournalWorker) HandleRunEvent(ctx context.Context, msg *amqp.RunEventMessage) error {
	slog.InfoContext(ctx, "Processing run event",
		"type", msg.Type,
		"month", msg.Month,
		"year", msg.Year)

	switch msg.Type {
	case core.RunTypeBenefits, core.RunTypeMonth:
	default:
		return fmt.Errorf("unknown run type %q", msg.Type)
	}

	rec := core.RunRecord{
		Type:  msg.Type,
		Month: msg.Month,
		Year:  msg.Year,
		Details: map[string]any{
			"members":      msg.Members,
			"amount":       msg.Amount,
			"published_at": msg.Timestamp,
		},
	}
	if err := w.recorder.RecordRun(ctx, rec); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	slog.InfoContext(ctx, "Run event recorded",
		"type", msg.Type,
		"month", msg.Month,
		"year", msg.Year)
	return nil
}
