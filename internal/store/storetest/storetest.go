// Package storetest holds the behaviour every store.Repository must share.
// Backend test files call Run with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"akiba/internal/core"
	"akiba/internal/store"

	"github.com/shopspring/decimal"
)

var base = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func topUp(ref, ext string, at time.Time) core.TopUpRequest {
	return core.TopUpRequest{
		ReferenceID:  ref,
		ExternalID:   ext,
		UserID:       "u1",
		GoalID:       "G1",
		Amount:       decimal.NewFromInt(5000),
		Currency:     "UGX",
		PhoneNumber:  "256772123456",
		Status:       core.StatusPending,
		PayerMessage: "savings",
		PayeeNote:    "akiba",
		CreatedAt:    at,
	}
}

func manual(user, goal string, amount int64, at time.Time) core.LedgerEntry {
	return core.LedgerEntry{
		UserID:    user,
		GoalID:    goal,
		Amount:    decimal.NewFromInt(amount),
		Source:    core.SourceManual,
		Type:      core.TypeTopUp,
		Status:    core.SavingSuccess,
		CreatedAt: at,
	}
}

// Run exercises a repository implementation. newRepo must return an empty store.
func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newRepo(t)) })
	t.Run("DuplicateCreate", func(t *testing.T) { testDuplicateCreate(t, newRepo(t)) })
	t.Run("TransitionAppliesOnce", func(t *testing.T) { testTransitionAppliesOnce(t, newRepo(t)) })
	t.Run("TransitionUnknown", func(t *testing.T) { testTransitionUnknown(t, newRepo(t)) })
	t.Run("ConcurrentTransition", func(t *testing.T) { testConcurrentTransition(t, newRepo(t)) })
	t.Run("ListPending", func(t *testing.T) { testListPending(t, newRepo(t)) })
	t.Run("SavingDedup", func(t *testing.T) { testSavingDedup(t, newRepo(t)) })
	t.Run("ListSavings", func(t *testing.T) { testListSavings(t, newRepo(t)) })
}

func testCreateAndGet(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	created, err := repo.CreateTopUp(ctx, topUp("R1", "ext-1", base))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Status != core.StatusPending {
		t.Fatalf("unexpected created top-up %+v", created)
	}

	got, err := repo.GetTopUp(ctx, "R1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != created.ID || got.ExternalID != "ext-1" || got.GoalID != "G1" {
		t.Fatalf("unexpected row %+v", got)
	}
	if !got.Amount.Equal(decimal.NewFromInt(5000)) || got.PayeeNote != "akiba" {
		t.Fatalf("fields not persisted: %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created_at mismatch: %v", got.CreatedAt)
	}

	if _, err := repo.GetTopUp(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testDuplicateCreate(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	if _, err := repo.CreateTopUp(ctx, topUp("R1", "ext-1", base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.CreateTopUp(ctx, topUp("R2", "ext-1", base)); !errors.Is(err, core.ErrDuplicateRequest) {
		t.Fatalf("same external id: expected ErrDuplicateRequest, got %v", err)
	}
	if _, err := repo.CreateTopUp(ctx, topUp("R1", "ext-2", base)); !errors.Is(err, core.ErrDuplicateRequest) {
		t.Fatalf("same reference: expected ErrDuplicateRequest, got %v", err)
	}
}

func successParams(tu core.TopUpRequest) store.TransitionParams {
	saving := core.SavingFromTopUp(tu)
	return store.TransitionParams{
		Reference:     tu.ReferenceID,
		To:            core.StatusSuccessful,
		TransactionID: "tx-1",
		At:            base.Add(time.Minute),
		Saving:        &saving,
	}
}

func testTransitionAppliesOnce(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	tu, err := repo.CreateTopUp(ctx, topUp("R1", "ext-1", base))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, applied, err := repo.TransitionTopUp(ctx, successParams(tu))
	if err != nil || !applied {
		t.Fatalf("first transition: applied=%v err=%v", applied, err)
	}
	if got.Status != core.StatusSuccessful || got.TransactionID != "tx-1" {
		t.Fatalf("unexpected row after transition %+v", got)
	}

	got, applied, err = repo.TransitionTopUp(ctx, successParams(tu))
	if err != nil || applied {
		t.Fatalf("second transition: applied=%v err=%v", applied, err)
	}
	if got.Status != core.StatusSuccessful {
		t.Fatalf("expected current row, got %+v", got)
	}

	failed := store.TransitionParams{Reference: "R1", To: core.StatusFailed, Reason: "late"}
	got, applied, err = repo.TransitionTopUp(ctx, failed)
	if err != nil || applied || got.Status != core.StatusSuccessful {
		t.Fatalf("regression must not apply: status=%s applied=%v err=%v", got.Status, applied, err)
	}

	entries, err := repo.ListSavings(ctx, "u1", core.SavingsFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Source != core.SourceMomo || e.DedupKey != "momo:R1" || e.TopUpReference != "R1" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if !e.Amount.Equal(decimal.NewFromInt(5000)) || e.GoalID != "G1" {
		t.Fatalf("unexpected entry amount/goal %+v", e)
	}
}

func testTransitionUnknown(t *testing.T, repo store.Repository) {
	_, _, err := repo.TransitionTopUp(context.Background(), store.TransitionParams{Reference: "nope", To: core.StatusFailed})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testConcurrentTransition(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	tu, err := repo.CreateTopUp(ctx, topUp("R1", "ext-1", base))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.TransitionTopUp(ctx, successParams(tu))
			if err != nil {
				t.Errorf("transition: %v", err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected exactly one applied transition, got %d", applied)
	}
	entries, err := repo.ListSavings(ctx, "u1", core.SavingsFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(entries))
	}
}

func testListPending(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	for i, ref := range []string{"R3", "R1", "R2"} {
		at := base.Add(time.Duration(3-i) * time.Minute)
		if _, err := repo.CreateTopUp(ctx, topUp(ref, "ext-"+ref, at)); err != nil {
			t.Fatalf("create %s: %v", ref, err)
		}
	}
	// R3 at +3m, R1 at +2m, R2 at +1m
	if _, _, err := repo.TransitionTopUp(ctx, store.TransitionParams{Reference: "R2", To: core.StatusFailed}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	pending, err := repo.ListPendingTopUps(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ReferenceID != "R1" || pending[1].ReferenceID != "R3" {
		t.Fatalf("expected [R1 R3], got %v", refs(pending))
	}

	pending, err = repo.ListPendingTopUps(ctx, base.Add(150*time.Second), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ReferenceID != "R1" {
		t.Fatalf("expected [R1], got %v", refs(pending))
	}

	pending, err = repo.ListPendingTopUps(ctx, base.Add(time.Hour), 1)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("limit not honoured: %v", refs(pending))
	}
}

func refs(ts []core.TopUpRequest) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ReferenceID
	}
	return out
}

func testSavingDedup(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	e := manual("u1", "", 700, base)
	e.Source = core.SourceMomo
	e.DedupKey = "momo:R9"
	e.TopUpReference = "R9"

	first, inserted, err := repo.InsertSaving(ctx, e)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	again, inserted, err := repo.InsertSaving(ctx, e)
	if err != nil || inserted {
		t.Fatalf("second insert: inserted=%v err=%v", inserted, err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected existing entry %s, got %s", first.ID, again.ID)
	}

	// Manual entries are never deduplicated.
	for i := 0; i < 2; i++ {
		if _, inserted, err := repo.InsertSaving(ctx, manual("u1", "G1", 100, base)); err != nil || !inserted {
			t.Fatalf("manual insert %d: inserted=%v err=%v", i, inserted, err)
		}
	}
	all, err := repo.ListSavings(ctx, "u1", core.SavingsFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
}

func testListSavings(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	inputs := []core.LedgerEntry{
		manual("u1", "G1", 1000, base),
		manual("u1", "G2", 2000, base.Add(48*time.Hour)),
		manual("u1", "", 300, base.Add(24*time.Hour)),
		manual("u2", "G1", 9999, base.Add(time.Hour)),
	}
	for _, e := range inputs {
		if _, _, err := repo.InsertSaving(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := repo.ListSavings(ctx, "u1", core.SavingsFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries for u1, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatalf("entries not newest first: %v then %v", all[i-1].CreatedAt, all[i].CreatedAt)
		}
	}
	if !all[0].Amount.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected newest entry first, got %s", all[0].Amount)
	}

	g1, err := repo.ListSavings(ctx, "u1", core.SavingsFilter{GoalID: "G1"})
	if err != nil || len(g1) != 1 {
		t.Fatalf("goal filter: %d entries, err=%v", len(g1), err)
	}

	window, err := repo.ListSavings(ctx, "u1", core.SavingsFilter{Since: base.Add(time.Hour), Until: base.Add(48 * time.Hour)})
	if err != nil || len(window) != 1 || !window[0].Amount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("time window: %v err=%v", window, err)
	}

	limited, err := repo.ListSavings(ctx, "u1", core.SavingsFilter{Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Fatalf("limit: %d entries, err=%v", len(limited), err)
	}

	momo, err := repo.ListSavings(ctx, "u1", core.SavingsFilter{Source: core.SourceMomo})
	if err != nil || len(momo) != 0 {
		t.Fatalf("source filter: %d entries, err=%v", len(momo), err)
	}
}
