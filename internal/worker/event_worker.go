package worker

import (
	"context"
	"fmt"
	"log/slog"

	"akiba/internal/amqp"
	"akiba/internal/core"
	"akiba/internal/metrics"
	"akiba/internal/notify"
	"akiba/internal/sheets"

	"github.com/shopspring/decimal"
)

// EventWorker consumes akiba events: terminal top-ups are texted to the
// payer and recorded savings are mirrored to the spreadsheet. Either side
// may be nil, in which case those events are acknowledged and dropped.
type EventWorker struct {
	sms    notify.Sender
	mirror sheets.LedgerMirror
}

var _ amqp.Handler = (*EventWorker)(nil)

func NewEventWorker(sms notify.Sender, mirror sheets.LedgerMirror) *EventWorker {
	return &EventWorker{sms: sms, mirror: mirror}
}

// HandleTopUpStatus sends the outcome SMS. An error makes the message eligible
// for one redelivery; the ledger is never touched here.
func (w *EventWorker) HandleTopUpStatus(ctx context.Context, msg amqp.TopUpStatusMessage) error {
	status, ok := core.ParseTopUpStatus(msg.Status)
	if !ok || !status.IsTerminal() {
		slog.DebugContext(ctx, "Ignoring non-terminal status event", "reference", msg.Reference, "status", msg.Status)
		return nil
	}
	if w.sms == nil {
		return nil
	}
	if msg.PhoneNumber == "" {
		slog.WarnContext(ctx, "Status event without phone number", "reference", msg.Reference)
		return nil
	}

	amount, err := decimal.NewFromString(msg.Amount)
	if err != nil {
		return fmt.Errorf("status event %s: bad amount %q: %w", msg.Reference, msg.Amount, err)
	}
	text := notify.TopUpMessage(status, amount, msg.Currency, msg.Reference)
	if err := w.sms.Send(ctx, msg.PhoneNumber, text); err != nil {
		metrics.Notifications.WithLabelValues(metrics.ResultError).Inc()
		return fmt.Errorf("notify %s: %w", msg.Reference, err)
	}

	metrics.Notifications.WithLabelValues(metrics.ResultOK).Inc()
	slog.InfoContext(ctx, "Sent top-up notification",
		"reference", msg.Reference,
		"status", string(status))
	return nil
}

// HandleSavingRecorded appends the entry to the mirror unless it is already there.
func (w *EventWorker) HandleSavingRecorded(ctx context.Context, msg amqp.SavingRecordedMessage) error {
	if w.mirror == nil {
		return nil
	}
	entry, err := entryFromMessage(msg)
	if err != nil {
		return err
	}

	if lookup, ok := w.mirror.(sheets.MirrorLookup); ok {
		found, err := lookup.HasSaving(ctx, entry.ID, entry.CreatedAt.UTC().Year())
		if err != nil {
			return fmt.Errorf("check mirror for %s: %w", entry.ID, err)
		}
		if found {
			slog.DebugContext(ctx, "Saving already mirrored", "id", entry.ID)
			return nil
		}
	}

	ref, err := w.mirror.AppendSaving(ctx, entry)
	if err != nil {
		return fmt.Errorf("mirror saving %s: %w", entry.ID, err)
	}
	slog.InfoContext(ctx, "Mirrored saving to Google Sheets",
		"id", entry.ID,
		"user_id", entry.UserID,
		"sheets_ref", ref)
	return nil
}

func entryFromMessage(msg amqp.SavingRecordedMessage) (core.LedgerEntry, error) {
	amount, err := decimal.NewFromString(msg.Amount)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("saving event %s: bad amount %q: %w", msg.ID, msg.Amount, err)
	}
	e := core.LedgerEntry{
		ID:             msg.ID,
		UserID:         msg.UserID,
		GoalID:         msg.GoalID,
		Amount:         amount,
		Source:         core.SavingSource(msg.Source),
		Type:           core.TypeTopUp,
		Status:         core.SavingSuccess,
		TopUpReference: msg.TopUpReference,
		CreatedAt:      msg.CreatedAt,
	}
	if e.Source == core.SourceMomo {
		e.DedupKey = core.MomoDedupKey(msg.TopUpReference)
	}
	return e, nil
}
