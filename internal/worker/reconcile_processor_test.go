package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"akiba/internal/core"
	"akiba/internal/lock"
	"akiba/internal/services"
	"akiba/internal/store/memory"

	"github.com/shopspring/decimal"
)

type fakeLister struct {
	items []core.TopUpRequest
	err   error
}

func (f *fakeLister) ListPending(context.Context, time.Duration, int) ([]core.TopUpRequest, error) {
	return f.items, f.err
}

type fakeReconciler struct {
	mu      sync.Mutex
	results map[string]services.ReconcileResult
	errs    map[string]error
	calls   []string
}

func (f *fakeReconciler) ReconcileWithRetry(_ context.Context, ref string) (services.ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ref)
	if err := f.errs[ref]; err != nil {
		return services.ReconcileResult{Reference: ref}, err
	}
	return f.results[ref], nil
}

type busyLocker struct{ held map[string]bool }

func (b busyLocker) TryLock(_ context.Context, key string, _ time.Duration) (lock.Release, bool, error) {
	if b.held[key] {
		return nil, false, nil
	}
	return func(context.Context) error { return nil }, true, nil
}

type brokenLocker struct{}

func (brokenLocker) TryLock(context.Context, string, time.Duration) (lock.Release, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func pending(refs ...string) []core.TopUpRequest {
	out := make([]core.TopUpRequest, 0, len(refs))
	for _, r := range refs {
		out = append(out, core.TopUpRequest{ReferenceID: r, Status: core.StatusPending})
	}
	return out
}

func TestProcessBatchOutcomes(t *testing.T) {
	rec := &fakeReconciler{
		results: map[string]services.ReconcileResult{
			"R1": {Reference: "R1", Outcome: services.OutcomeApplied},
			"R2": {Reference: "R2", Outcome: services.OutcomePending},
			"R3": {Reference: "R3", Outcome: services.OutcomeConflict},
		},
		errs: map[string]error{
			"R4": core.ErrUpstreamUnavailable,
		},
	}
	p := NewReconcileProcessor(&fakeLister{items: pending("R1", "R2", "R3", "R4", "R1")}, rec, nil, ReconcileProcessorConfig{})

	stats := p.ProcessBatch(context.Background())
	want := BatchStats{Listed: 5, Applied: 1, Pending: 1, Conflicts: 1, Errors: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	if len(rec.calls) != 4 {
		t.Fatalf("each reference should be reconciled once per cycle, got %v", rec.calls)
	}
}

func TestProcessBatchSkipsLockedReferences(t *testing.T) {
	rec := &fakeReconciler{results: map[string]services.ReconcileResult{
		"R1": {Outcome: services.OutcomeApplied},
		"R2": {Outcome: services.OutcomeApplied},
	}}
	p := NewReconcileProcessor(&fakeLister{items: pending("R1", "R2")}, rec,
		busyLocker{held: map[string]bool{"R2": true}}, ReconcileProcessorConfig{})

	stats := p.ProcessBatch(context.Background())
	if stats.Skipped != 1 || stats.Applied != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "R1" {
		t.Fatalf("locked reference must not be reconciled, calls=%v", rec.calls)
	}
}

func TestProcessBatchIgnoresBrokenLocker(t *testing.T) {
	rec := &fakeReconciler{results: map[string]services.ReconcileResult{"R1": {Outcome: services.OutcomeApplied}}}
	p := NewReconcileProcessor(&fakeLister{items: pending("R1")}, rec, brokenLocker{}, ReconcileProcessorConfig{})

	if stats := p.ProcessBatch(context.Background()); stats.Applied != 1 {
		t.Fatalf("lock errors must not block reconciliation: %+v", stats)
	}
}

func TestProcessBatchListError(t *testing.T) {
	rec := &fakeReconciler{}
	p := NewReconcileProcessor(&fakeLister{err: errors.New("db down")}, rec, nil, ReconcileProcessorConfig{})
	if stats := p.ProcessBatch(context.Background()); stats.Errors != 1 || len(rec.calls) != 0 {
		t.Fatalf("unexpected stats %+v calls=%v", stats, rec.calls)
	}
}

func TestProcessBatchStopsOnCancel(t *testing.T) {
	rec := &fakeReconciler{}
	p := NewReconcileProcessor(&fakeLister{items: pending("R1", "R2")}, rec, nil, ReconcileProcessorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.ProcessBatch(ctx)
	if len(rec.calls) != 0 {
		t.Fatalf("cancelled batch must not reconcile, calls=%v", rec.calls)
	}
}

func TestReconcileProcessorLifecycle(t *testing.T) {
	rec := &fakeReconciler{}
	p := NewReconcileProcessor(&fakeLister{}, rec, nil, ReconcileProcessorConfig{PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	if p.IsRunning() {
		t.Fatal("should not be running before Start")
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
	if !p.IsRunning() {
		t.Fatal("should be running")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.IsRunning() {
		t.Fatal("should not be running after Stop")
	}
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

type staticGateway map[string]core.TopUpStatus

func (g staticGateway) QueryStatus(_ context.Context, ref string) (core.PaymentReport, error) {
	s, ok := g[ref]
	if !ok {
		return core.PaymentReport{}, core.ErrNotFound
	}
	return core.PaymentReport{Status: s, TransactionID: "tx-" + ref}, nil
}

func TestProcessBatchEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	ledger := services.NewLedger(st, nil)
	topups := services.NewTopUps(st, ledger, nil, "UG")

	old := time.Now().Add(-time.Hour)
	for _, ref := range []string{"R1", "R2", "R3"} {
		if _, err := st.CreateTopUp(ctx, core.TopUpRequest{
			ReferenceID: ref, ExternalID: "ext-" + ref, UserID: "u1",
			Amount: decimal.NewFromInt(5000), Currency: "UGX", PhoneNumber: "256772123456",
			Status: core.StatusPending, CreatedAt: old,
		}); err != nil {
			t.Fatalf("create %s: %v", ref, err)
		}
	}

	gw := staticGateway{"R1": core.StatusSuccessful, "R2": core.StatusPending, "R3": core.StatusFailed}
	rec := services.NewReconciler(gw, topups, services.ReconcilerConfig{Timeout: time.Second})
	p := NewReconcileProcessor(topups, rec, nil, ReconcileProcessorConfig{MinAge: time.Minute})

	stats := p.ProcessBatch(ctx)
	if stats.Listed != 3 || stats.Applied != 2 || stats.Pending != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	entries, err := ledger.List(ctx, "u1", core.SavingsFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].TopUpReference != "R1" {
		t.Fatalf("expected one entry for R1, got %+v", entries)
	}

	// the next cycle only sees R2
	stats = p.ProcessBatch(ctx)
	if stats.Listed != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected second cycle %+v", stats)
	}
}
