package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"akiba/internal/core"
	"akiba/internal/metrics"
	"akiba/internal/store"

	"github.com/shopspring/decimal"
)

// Ledger is the append-only record of confirmed contributions.
type Ledger struct {
	store  store.LedgerStore
	events Events
	now    func() time.Time

	mu        sync.RWMutex
	listeners []func(core.LedgerEntry)
}

func NewLedger(s store.LedgerStore, events Events) *Ledger {
	return &Ledger{store: s, events: events, now: time.Now}
}

// OnAppend registers fn to run after every newly stored entry.
func (l *Ledger) OnAppend(fn func(core.LedgerEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// AppendFromTopUp materialises the entry of a SUCCESSFUL top-up. Only the
// reference of t is trusted; the row is read back and must be SUCCESSFUL in
// the store. Calling it again for the same reference returns the existing
// entry with created=false.
func (l *Ledger) AppendFromTopUp(ctx context.Context, t core.TopUpRequest) (entry core.LedgerEntry, created bool, err error) {
	stored, err := l.store.GetTopUp(ctx, t.ReferenceID)
	if err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("get top-up %s: %w", t.ReferenceID, err)
	}
	if stored.Status != core.StatusSuccessful {
		return core.LedgerEntry{}, false, fmt.Errorf("%w: top-up %s is %s", core.ErrPreconditionFailed, stored.ReferenceID, stored.Status)
	}
	t = stored

	entry, created, err = l.store.InsertSaving(ctx, store.StampSaving(core.SavingFromTopUp(t), l.now()))
	if err != nil {
		metrics.LedgerAppends.WithLabelValues(string(core.SourceMomo), metrics.ResultError).Inc()
		return core.LedgerEntry{}, false, fmt.Errorf("append top-up %s: %w", t.ReferenceID, err)
	}
	if !created {
		metrics.LedgerAppends.WithLabelValues(string(core.SourceMomo), metrics.ResultDuplicate).Inc()
		slog.DebugContext(ctx, "Ledger entry already recorded", "reference", t.ReferenceID)
		return entry, false, nil
	}

	l.recorded(ctx, entry)
	return entry, true, nil
}

// AppendManual records a user contribution. Manual entries are never
// deduplicated; each call is a distinct event.
func (l *Ledger) AppendManual(ctx context.Context, userID, goalID string, amount decimal.Decimal) (core.LedgerEntry, error) {
	amount = amount.Round(core.AmountScale)
	if err := core.ValidateAmount(amount); err != nil {
		return core.LedgerEntry{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return core.LedgerEntry{}, core.ErrMissingUser
	}

	e := store.StampSaving(core.LedgerEntry{
		UserID: userID,
		GoalID: goalID,
		Amount: amount,
		Source: core.SourceManual,
		Type:   core.TypeTopUp,
		Status: core.SavingSuccess,
	}, l.now())

	saved, _, err := l.store.InsertSaving(ctx, e)
	if err != nil {
		metrics.LedgerAppends.WithLabelValues(string(core.SourceManual), metrics.ResultError).Inc()
		return core.LedgerEntry{}, fmt.Errorf("append manual saving: %w", err)
	}

	l.recorded(ctx, saved)
	return saved, nil
}

// List returns the user's entries newest first.
func (l *Ledger) List(ctx context.Context, userID string, f core.SavingsFilter) ([]core.LedgerEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, core.ErrMissingUser
	}
	entries, err := l.store.ListSavings(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("list savings: %w", err)
	}
	return entries, nil
}

// recorded runs the post-commit side effects of a new entry.
func (l *Ledger) recorded(ctx context.Context, e core.LedgerEntry) {
	metrics.LedgerAppends.WithLabelValues(string(e.Source), metrics.ResultOK).Inc()
	slog.InfoContext(ctx, "Ledger entry recorded",
		"saving_id", e.ID,
		"user_id", e.UserID,
		"goal_id", e.GoalID,
		"source", string(e.Source),
		"amount", e.Amount.String())

	l.mu.RLock()
	listeners := l.listeners
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn(e)
	}

	publishSaving(ctx, l.events, e)
}
