package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"akiba/internal/core"
	"akiba/internal/log"
	"akiba/internal/metrics"
)

// Gateway is the payment provider's status query.
type Gateway interface {
	QueryStatus(ctx context.Context, reference string) (core.PaymentReport, error)
}

// Outcome of one reconciliation.
type Outcome string

const (
	OutcomePending        Outcome = "pending"
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeConflict       Outcome = "conflict"
)

type ReconcileResult struct {
	Reference     string
	Outcome       Outcome
	StoreStatus   core.TopUpStatus
	GatewayStatus core.TopUpStatus
}

type ReconcilerConfig struct {
	// Timeout bounds a single gateway query (default: 10s)
	Timeout time.Duration

	// MaxAttempts bounds ReconcileWithRetry (default: 5)
	MaxAttempts int

	// BackoffBase is the first retry delay, doubled each attempt (default: 1s)
	BackoffBase time.Duration

	// BackoffMax caps the retry delay (default: 30s)
	BackoffMax time.Duration
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Timeout:     10 * time.Second,
		MaxAttempts: 5,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
	}
}

// Reconciler confirms pending top-ups against the gateway and applies the
// terminal transition through TopUps.
type Reconciler struct {
	gateway Gateway
	topups  *TopUps
	config  ReconcilerConfig
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewReconciler(gateway Gateway, topups *TopUps, config ReconcilerConfig) *Reconciler {
	def := DefaultReconcilerConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = def.BackoffBase
	}
	if config.BackoffMax < config.BackoffBase {
		config.BackoffMax = config.BackoffBase
	}
	return &Reconciler{
		gateway: gateway,
		topups:  topups,
		config:  config,
		logger:  log.New(log.Config{Handler: slog.Default().Handler(), Component: log.ComponentReconciler}),
		sleep:   sleepContext,
	}
}

// CheckStatus asks the gateway for the current status. Any failure or
// timeout is core.ErrUpstreamUnavailable; a status is never inferred.
func (r *Reconciler) CheckStatus(ctx context.Context, reference string) (core.PaymentReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	start := time.Now()
	report, err := r.gateway.QueryStatus(ctx, reference)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
	case errors.Is(err, core.ErrNotFound):
		metrics.GatewayLatency.WithLabelValues(metrics.ResultError).Observe(elapsed)
		return core.PaymentReport{}, fmt.Errorf("gateway lookup %s: %w", reference, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.GatewayLatency.WithLabelValues(metrics.ResultTimeout).Observe(elapsed)
		return core.PaymentReport{}, fmt.Errorf("%w: status query for %s timed out", core.ErrUpstreamUnavailable, reference)
	case errors.Is(err, core.ErrUpstreamUnavailable):
		metrics.GatewayLatency.WithLabelValues(metrics.ResultError).Observe(elapsed)
		return core.PaymentReport{}, err
	default:
		metrics.GatewayLatency.WithLabelValues(metrics.ResultError).Observe(elapsed)
		return core.PaymentReport{}, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}

	metrics.GatewayLatency.WithLabelValues(metrics.ResultOK).Observe(elapsed)
	if !report.Status.IsValid() {
		return core.PaymentReport{}, fmt.Errorf("%w: unrecognised status %q for %s", core.ErrUpstreamUnavailable, report.Status, reference)
	}
	return report, nil
}

// Reconcile performs one gateway check and applies a terminal answer. A
// disagreement with an already terminal row yields OutcomeConflict and a nil
// error: the stored status is authoritative.
func (r *Reconciler) Reconcile(ctx context.Context, reference string) (ReconcileResult, error) {
	res := ReconcileResult{Reference: reference}

	current, err := r.topups.Get(ctx, reference)
	if err != nil {
		return res, err
	}
	res.StoreStatus = current.Status

	report, err := r.CheckStatus(ctx, reference)
	if err != nil {
		metrics.Reconciliations.WithLabelValues("unavailable").Inc()
		return res, err
	}
	res.GatewayStatus = report.Status

	if report.Status == core.StatusPending {
		if current.Status.IsTerminal() {
			return r.conflict(ctx, res), nil
		}
		res.Outcome = OutcomePending
		metrics.Reconciliations.WithLabelValues(string(res.Outcome)).Inc()
		return res, nil
	}

	applied, err := r.topups.Apply(ctx, reference, report)
	if err != nil {
		var te *core.TransitionError
		if errors.As(err, &te) {
			res.StoreStatus = te.From
			return r.conflict(ctx, res), nil
		}
		metrics.Reconciliations.WithLabelValues("error").Inc()
		return res, err
	}

	res.StoreStatus = applied.TopUp.Status
	res.Outcome = OutcomeAlreadyApplied
	if applied.Applied {
		res.Outcome = OutcomeApplied
	}
	metrics.Reconciliations.WithLabelValues(string(res.Outcome)).Inc()
	r.logger.InfoContext(ctx, "Top-up reconciled",
		log.FieldReference, reference,
		log.FieldOutcome, string(res.Outcome),
		log.FieldStatus, string(res.StoreStatus))
	return res, nil
}

func (r *Reconciler) conflict(ctx context.Context, res ReconcileResult) ReconcileResult {
	res.Outcome = OutcomeConflict
	metrics.Reconciliations.WithLabelValues(string(OutcomeConflict)).Inc()
	r.logger.Conflict(ctx, res.Reference, string(res.StoreStatus), string(res.GatewayStatus))
	return res
}

// ReconcileWithRetry retries Reconcile while the gateway is unavailable,
// sleeping BackoffBase*2^attempt (capped at BackoffMax) between attempts.
// Exhaustion returns an error wrapping core.ErrUpstreamUnavailable.
func (r *Reconciler) ReconcileWithRetry(ctx context.Context, reference string) (ReconcileResult, error) {
	var (
		res ReconcileResult
		err error
	)
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		res, err = r.Reconcile(ctx, reference)
		if err == nil || !errors.Is(err, core.ErrUpstreamUnavailable) {
			return res, err
		}
		if attempt == r.config.MaxAttempts-1 {
			break
		}

		delay := r.backoff(attempt)
		r.logger.WarnContext(ctx, "Gateway unavailable, retrying",
			log.FieldReference, reference,
			log.FieldAttempt, attempt+1,
			"retry_in", delay,
			log.FieldError, err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return res, fmt.Errorf("status unknown, will retry: %w", errors.Join(err, serr))
		}
	}
	return res, fmt.Errorf("status unknown, will retry after %d attempts: %w", r.config.MaxAttempts, err)
}

func (r *Reconciler) backoff(attempt int) time.Duration {
	d := r.config.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= r.config.BackoffMax {
			return r.config.BackoffMax
		}
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
