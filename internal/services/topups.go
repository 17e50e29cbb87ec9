package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"akiba/internal/core"
	"akiba/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewTopUp is the caller input for a new mobile-money charge.
type NewTopUp struct {
	UserID       string
	GoalID       string
	Amount       decimal.Decimal
	Currency     string
	PhoneNumber  string
	ExternalID   string
	ReferenceID  string // generated when empty
	PayerMessage string
	PayeeNote    string
}

// TransitionResult is the state after a transition request. Applied is false
// for idempotent repeats.
type TransitionResult struct {
	TopUp   core.TopUpRequest
	Applied bool
}

// TopUps owns the top-up lifecycle. It is the only writer of top-up status.
type TopUps struct {
	store       store.TopUpStore
	ledger      *Ledger
	events      Events
	phoneRegion string
	now         func() time.Time
}

func NewTopUps(s store.TopUpStore, ledger *Ledger, events Events, phoneRegion string) *TopUps {
	return &TopUps{
		store:       s,
		ledger:      ledger,
		events:      events,
		phoneRegion: phoneRegion,
		now:         time.Now,
	}
}

// Create stores a new PENDING top-up. A repeated external id returns
// core.ErrDuplicateRequest so a retried client request never opens a second charge.
func (s *TopUps) Create(ctx context.Context, in NewTopUp) (core.TopUpRequest, error) {
	if err := core.ValidateAmount(in.Amount); err != nil {
		return core.TopUpRequest{}, err
	}
	msisdn, err := core.NormalizePhone(in.PhoneNumber, s.phoneRegion)
	if err != nil {
		return core.TopUpRequest{}, err
	}
	ref := strings.TrimSpace(in.ReferenceID)
	if ref == "" {
		ref = uuid.NewString()
	}

	t := core.TopUpRequest{
		ReferenceID:  ref,
		ExternalID:   strings.TrimSpace(in.ExternalID),
		UserID:       strings.TrimSpace(in.UserID),
		GoalID:       strings.TrimSpace(in.GoalID),
		Amount:       in.Amount.Round(core.AmountScale),
		Currency:     strings.ToUpper(strings.TrimSpace(in.Currency)),
		PhoneNumber:  msisdn,
		Status:       core.StatusPending,
		PayerMessage: in.PayerMessage,
		PayeeNote:    in.PayeeNote,
	}
	if err := t.Validate(); err != nil {
		return core.TopUpRequest{}, err
	}

	created, err := s.store.CreateTopUp(ctx, store.StampTopUp(t, s.now()))
	if err != nil {
		if errors.Is(err, core.ErrDuplicateRequest) {
			return core.TopUpRequest{}, fmt.Errorf("top-up external id %s or reference %s: %w", t.ExternalID, t.ReferenceID, err)
		}
		return core.TopUpRequest{}, fmt.Errorf("create top-up: %w", err)
	}

	slog.InfoContext(ctx, "Top-up created",
		"reference", created.ReferenceID,
		"external_id", created.ExternalID,
		"user_id", created.UserID,
		"amount", created.Amount.String())
	return created, nil
}

func (s *TopUps) Get(ctx context.Context, reference string) (core.TopUpRequest, error) {
	t, err := s.store.GetTopUp(ctx, reference)
	if err != nil {
		return core.TopUpRequest{}, fmt.Errorf("get top-up %s: %w", reference, err)
	}
	return t, nil
}

// Transition moves a top-up to a terminal status. Repeating the current
// terminal status is a no-op; asking for the other one returns a
// *core.TransitionError.
func (s *TopUps) Transition(ctx context.Context, reference string, to core.TopUpStatus, transactionID string) (core.TopUpRequest, error) {
	res, err := s.Apply(ctx, reference, core.PaymentReport{Status: to, TransactionID: transactionID})
	if err != nil {
		return core.TopUpRequest{}, err
	}
	return res.TopUp, nil
}

// maxApplyRounds bounds re-reads when the compare-and-set loses a race but
// the row still reads PENDING.
const maxApplyRounds = 3

// Apply is Transition carrying the gateway's full report.
func (s *TopUps) Apply(ctx context.Context, reference string, report core.PaymentReport) (TransitionResult, error) {
	to := report.Status
	if !to.IsTerminal() {
		return TransitionResult{}, fmt.Errorf("%w: target status %q is not terminal", core.ErrInvalidTransition, to)
	}

	for round := 0; round < maxApplyRounds; round++ {
		at := s.now().UTC()
		p := store.TransitionParams{
			Reference:     reference,
			To:            to,
			TransactionID: report.TransactionID,
			Reason:        report.Reason,
			At:            at,
		}
		var saving core.LedgerEntry
		if to == core.StatusSuccessful {
			current, err := s.store.GetTopUp(ctx, reference)
			if err != nil {
				return TransitionResult{}, fmt.Errorf("get top-up %s: %w", reference, err)
			}
			saving = store.StampSaving(core.SavingFromTopUp(current), at)
			p.Saving = &saving
		}

		t, applied, err := s.store.TransitionTopUp(ctx, p)
		if err != nil {
			return TransitionResult{}, fmt.Errorf("transition top-up %s: %w", reference, err)
		}

		switch {
		case applied:
			s.afterApply(ctx, t, p.Saving)
			return TransitionResult{TopUp: t, Applied: true}, nil
		case t.Status == to:
			if to == core.StatusSuccessful {
				s.heal(ctx, t)
			}
			slog.DebugContext(ctx, "Top-up already in requested status", "reference", reference, "status", string(to))
			return TransitionResult{TopUp: t}, nil
		case t.Status.IsTerminal():
			return TransitionResult{TopUp: t}, &core.TransitionError{Reference: reference, From: t.Status, To: to}
		}
	}
	return TransitionResult{}, fmt.Errorf("transition top-up %s: compare-and-set did not settle", reference)
}

func (s *TopUps) afterApply(ctx context.Context, t core.TopUpRequest, saving *core.LedgerEntry) {
	slog.InfoContext(ctx, "Top-up reached terminal status",
		"reference", t.ReferenceID,
		"status", string(t.Status),
		"transaction_id", t.TransactionID)

	if saving != nil && s.ledger != nil {
		s.ledger.recorded(ctx, *saving)
	}
	publishStatus(ctx, s.events, t)
}

// heal makes sure a SUCCESSFUL top-up has its ledger entry. Stores append it
// in the transition transaction, so this normally finds the existing row.
func (s *TopUps) heal(ctx context.Context, t core.TopUpRequest) {
	if s.ledger == nil {
		return
	}
	if _, created, err := s.ledger.AppendFromTopUp(ctx, t); err != nil {
		slog.ErrorContext(ctx, "Failed to verify ledger entry for successful top-up",
			"reference", t.ReferenceID, "error", err)
	} else if created {
		slog.WarnContext(ctx, "Restored missing ledger entry for successful top-up", "reference", t.ReferenceID)
	}
}

// ListPending returns PENDING top-ups created at least minAge ago.
func (s *TopUps) ListPending(ctx context.Context, minAge time.Duration, limit int) ([]core.TopUpRequest, error) {
	pending, err := s.store.ListPendingTopUps(ctx, s.now().Add(-minAge), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending top-ups: %w", err)
	}
	return pending, nil
}
