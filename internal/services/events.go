package services

import (
	"context"
	"log/slog"

	"akiba/internal/core"
)

// Events receives domain notifications after state has been committed.
// Implementations must not be relied on for correctness.
type Events interface {
	PublishTopUpStatus(ctx context.Context, t core.TopUpRequest) error
	PublishSavingRecorded(ctx context.Context, e core.LedgerEntry) error
}

func publishStatus(ctx context.Context, ev Events, t core.TopUpRequest) {
	if ev == nil {
		slog.DebugContext(ctx, "No event publisher, skipping top-up status event", "reference", t.ReferenceID)
		return
	}
	if err := ev.PublishTopUpStatus(ctx, t); err != nil {
		slog.ErrorContext(ctx, "Failed to publish top-up status",
			"reference", t.ReferenceID,
			"status", string(t.Status),
			"error", err)
	}
}

func publishSaving(ctx context.Context, ev Events, e core.LedgerEntry) {
	if ev == nil {
		return
	}
	if err := ev.PublishSavingRecorded(ctx, e); err != nil {
		slog.ErrorContext(ctx, "Failed to publish saving recorded",
			"saving_id", e.ID,
			"user_id", e.UserID,
			"error", err)
	}
}
