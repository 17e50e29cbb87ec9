package worker

import (
	"context"
	"log/slog"

	"akiba/internal/amqp"
)

// SummaryEvicter drops a user's cached savings summary.
type SummaryEvicter interface {
	Invalidate(userID string)
}

// SummaryInvalidator evicts cached summaries when another process records a
// saving, so an API replica never serves totals older than the ledger.
type SummaryInvalidator struct {
	summaries SummaryEvicter
}

var _ amqp.Handler = (*SummaryInvalidator)(nil)

func NewSummaryInvalidator(summaries SummaryEvicter) *SummaryInvalidator {
	return &SummaryInvalidator{summaries: summaries}
}

func (v *SummaryInvalidator) HandleTopUpStatus(context.Context, amqp.TopUpStatusMessage) error {
	return nil
}

func (v *SummaryInvalidator) HandleSavingRecorded(ctx context.Context, msg amqp.SavingRecordedMessage) error {
	if msg.UserID == "" {
		slog.WarnContext(ctx, "Saving event without user", "id", msg.ID)
		return nil
	}
	v.summaries.Invalidate(msg.UserID)
	slog.DebugContext(ctx, "Invalidated savings summary", "user_id", msg.UserID)
	return nil
}
