package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"akiba/internal/core"
	"akiba/internal/lock"
	"akiba/internal/services"
)

// ReconcileProcessorConfig holds configuration for the reconcile processor
type ReconcileProcessorConfig struct {
	// PollInterval is how often to look for pending top-ups (default: 15s)
	PollInterval time.Duration

	// BatchSize is the max number of top-ups reconciled per cycle (default: 20)
	BatchSize int

	// MinAge skips top-ups younger than this, giving the callback a head start (default: 30s)
	MinAge time.Duration

	// LockTTL bounds how long one replica holds a reference (default: 2m)
	LockTTL time.Duration
}

// DefaultReconcileProcessorConfig returns sensible defaults
func DefaultReconcileProcessorConfig() ReconcileProcessorConfig {
	return ReconcileProcessorConfig{
		PollInterval: 15 * time.Second,
		BatchSize:    20,
		MinAge:       30 * time.Second,
		LockTTL:      2 * time.Minute,
	}
}

// PendingLister lists top-ups still awaiting a terminal status.
type PendingLister interface {
	ListPending(ctx context.Context, minAge time.Duration, limit int) ([]core.TopUpRequest, error)
}

// Reconciler settles one reference.
type Reconciler interface {
	ReconcileWithRetry(ctx context.Context, reference string) (services.ReconcileResult, error)
}

// BatchStats summarises one poll cycle.
type BatchStats struct {
	Listed    int
	Applied   int
	Pending   int
	Conflicts int
	Skipped   int
	Errors    int
}

// ReconcileProcessor polls PENDING top-ups and reconciles each one against
// the gateway. PENDING rows are never expired; they are polled until the
// gateway gives a terminal answer.
type ReconcileProcessor struct {
	pending    PendingLister
	reconciler Reconciler
	locker     lock.Locker
	config     ReconcileProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReconcileProcessor creates a new processor. A nil locker disables locking.
func NewReconcileProcessor(pending PendingLister, reconciler Reconciler, locker lock.Locker, config ReconcileProcessorConfig) *ReconcileProcessor {
	def := DefaultReconcileProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MinAge < 0 {
		config.MinAge = 0
	}
	if config.LockTTL <= 0 {
		config.LockTTL = def.LockTTL
	}
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &ReconcileProcessor{
		pending:    pending,
		reconciler: reconciler,
		locker:     locker,
		config:     config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *ReconcileProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("reconcile processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Reconcile processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
		"min_age", p.config.MinAge)
	return nil
}

// Stop gracefully stops the processor and waits for the current batch.
func (p *ReconcileProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Reconcile processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Reconcile processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *ReconcileProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ReconcileProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on startup
	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch reconciles one batch of pending top-ups, each at most once.
func (p *ReconcileProcessor) ProcessBatch(ctx context.Context) BatchStats {
	var stats BatchStats

	items, err := p.pending.ListPending(ctx, p.config.MinAge, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list pending top-ups", "error", err)
		stats.Errors++
		return stats
	}
	stats.Listed = len(items)
	if len(items) == 0 {
		return stats
	}
	slog.DebugContext(ctx, "Processing reconcile batch", "count", len(items))

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if p.stopping(ctx) {
			return stats
		}
		if _, dup := seen[item.ReferenceID]; dup {
			continue
		}
		seen[item.ReferenceID] = struct{}{}

		p.reconcileOne(ctx, item.ReferenceID, &stats)
	}

	slog.InfoContext(ctx, "Reconcile batch finished",
		"listed", stats.Listed,
		"applied", stats.Applied,
		"pending", stats.Pending,
		"conflicts", stats.Conflicts,
		"skipped", stats.Skipped,
		"errors", stats.Errors)
	return stats
}

func (p *ReconcileProcessor) reconcileOne(ctx context.Context, reference string, stats *BatchStats) {
	release, ok, err := p.locker.TryLock(ctx, reference, p.config.LockTTL)
	if err != nil {
		// a broken lock backend is not a reason to stop reconciling
		slog.WarnContext(ctx, "Lock unavailable, reconciling without it", "reference", reference, "error", err)
		release, ok = nil, true
	}
	if !ok {
		slog.DebugContext(ctx, "Reference locked by another worker", "reference", reference)
		stats.Skipped++
		return
	}
	if release != nil {
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.WarnContext(ctx, "Failed to release lock", "reference", reference, "error", err)
			}
		}()
	}

	res, err := p.reconciler.ReconcileWithRetry(ctx, reference)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrUpstreamUnavailable):
		slog.WarnContext(ctx, "Status unknown, will retry next cycle", "reference", reference, "error", err)
		stats.Errors++
		return
	default:
		slog.ErrorContext(ctx, "Reconcile failed", "reference", reference, "error", err)
		stats.Errors++
		return
	}

	switch res.Outcome {
	case services.OutcomeApplied, services.OutcomeAlreadyApplied:
		stats.Applied++
	case services.OutcomePending:
		stats.Pending++
	case services.OutcomeConflict:
		stats.Conflicts++
	}
}

func (p *ReconcileProcessor) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()
	if stopCh == nil {
		return false
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}
