package services

import (
	"context"
	"sync"
	"testing"

	"akiba/internal/core"
	"akiba/internal/store/memory"

	"github.com/shopspring/decimal"
)

type recordedEvents struct {
	mu       sync.Mutex
	statuses []core.TopUpRequest
	savings  []core.LedgerEntry
	err      error
}

func (r *recordedEvents) PublishTopUpStatus(_ context.Context, t core.TopUpRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, t)
	return r.err
}

func (r *recordedEvents) PublishSavingRecorded(_ context.Context, e core.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.savings = append(r.savings, e)
	return r.err
}

func (r *recordedEvents) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses), len(r.savings)
}

type fixture struct {
	store  *memory.Store
	events *recordedEvents
	ledger *Ledger
	topups *TopUps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	ev := &recordedEvents{}
	ledger := NewLedger(st, ev)
	return &fixture{
		store:  st,
		events: ev,
		ledger: ledger,
		topups: NewTopUps(st, ledger, ev, "UG"),
	}
}

func (f *fixture) create(t *testing.T, ref string, amount int64) core.TopUpRequest {
	t.Helper()
	tu, err := f.topups.Create(context.Background(), NewTopUp{
		UserID:      "u1",
		Amount:      decimal.NewFromInt(amount),
		Currency:    "ugx",
		PhoneNumber: "0772123456",
		ExternalID:  "ext-" + ref,
		ReferenceID: ref,
	})
	if err != nil {
		t.Fatalf("create %s: %v", ref, err)
	}
	return tu
}

func (f *fixture) entries(t *testing.T, userID string) []core.LedgerEntry {
	t.Helper()
	entries, err := f.ledger.List(context.Background(), userID, core.SavingsFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return entries
}
