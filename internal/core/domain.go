package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending    TopUpStatus = "PENDING"
	StatusSuccessful TopUpStatus = "SUCCESSFUL"
	StatusFailed     TopUpStatus = "FAILED"
)

const (
	SourceMomo   SavingSource = "momo"
	SourceManual SavingSource = "manual"

	TypeTopUp SavingType = "topup"

	SavingSuccess SavingStatus = "success"
)

type (
	TopUpStatus  string
	SavingSource string
	SavingType   string
	SavingStatus string

	// TopUpRequest is one mobile-money charge as tracked by the ledger.
	TopUpRequest struct {
		ID            string
		ReferenceID   string // momo_reference_id, the gateway correlation key
		ExternalID    string // caller supplied idempotency key
		UserID        string
		GoalID        string // empty when the top-up is not credited to a goal
		Amount        decimal.Decimal
		Currency      string
		PhoneNumber   string
		Status        TopUpStatus
		PayerMessage  string
		PayeeNote     string
		TransactionID string // financialTransactionId reported by the gateway
		Reason        string // failure reason reported by the gateway
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// LedgerEntry is an immutable, confirmed contribution.
	LedgerEntry struct {
		ID             string
		UserID         string
		GoalID         string
		Amount         decimal.Decimal
		Source         SavingSource
		Type           SavingType
		Status         SavingStatus
		DedupKey       string // empty for manual entries
		TopUpReference string
		CreatedAt      time.Time
	}

	// SavingsGoal is owned by goal management; only these attributes are read.
	SavingsGoal struct {
		ID           string
		Name         string
		Category     string
		TargetAmount decimal.Decimal
		UserID       string
	}

	// PaymentReport is what the payment gateway says about a reference.
	PaymentReport struct {
		Status        TopUpStatus
		TransactionID string
		Reason        string
	}

	// SavingsFilter narrows a ledger listing. Zero values mean "no filter".
	SavingsFilter struct {
		GoalID string
		Source SavingSource
		Since  time.Time
		Until  time.Time
		Limit  int
	}
)

// IsTerminal reports whether no further transition is allowed.
func (s TopUpStatus) IsTerminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

func (s TopUpStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSuccessful, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the status machine.
// Only PENDING -> SUCCESSFUL and PENDING -> FAILED exist.
func (s TopUpStatus) CanTransition(to TopUpStatus) bool {
	return s == StatusPending && to.IsTerminal()
}

// DisplayState is the user-facing label for a status.
func (s TopUpStatus) DisplayState() string {
	switch s {
	case StatusSuccessful:
		return "successful"
	case StatusFailed:
		return "failed"
	default:
		return "processing"
	}
}

// ParseTopUpStatus accepts gateway spellings case-insensitively.
func ParseTopUpStatus(s string) (TopUpStatus, bool) {
	st := TopUpStatus(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.IsValid()
}

func (s SavingSource) IsValid() bool {
	return s == SourceMomo || s == SourceManual
}

// MomoDedupKey derives the ledger uniqueness key for a top-up reference.
func MomoDedupKey(reference string) string {
	return "momo:" + reference
}

// Validate checks the fields a store needs before persisting a new top-up.
func (t TopUpRequest) Validate() error {
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(t.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(t.ExternalID) == "" {
		return invalidInput("external id is required")
	}
	if strings.TrimSpace(t.ReferenceID) == "" {
		return invalidInput("reference id is required")
	}
	if len(t.Currency) != 3 {
		return invalidInput("currency must be a 3-letter code")
	}
	if t.PhoneNumber == "" {
		return invalidInput("phone number is required")
	}
	if !t.Status.IsValid() {
		return invalidInput("unknown status " + string(t.Status))
	}
	return nil
}

// Validate checks a ledger entry before it is appended.
func (e LedgerEntry) Validate() error {
	if err := ValidateAmount(e.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(e.UserID) == "" {
		return ErrMissingUser
	}
	if !e.Source.IsValid() {
		return invalidInput("unknown source " + string(e.Source))
	}
	if e.Source == SourceMomo && e.DedupKey == "" {
		return invalidInput("momo entries need a dedup key")
	}
	return nil
}

// Matches reports whether the entry passes every set field of the filter.
func (f SavingsFilter) Matches(e LedgerEntry) bool {
	if f.GoalID != "" && e.GoalID != f.GoalID {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}

// SavingFromTopUp builds the ledger entry a successful top-up materialises.
// The id and timestamp are left for the caller to stamp.
func SavingFromTopUp(t TopUpRequest) LedgerEntry {
	return LedgerEntry{
		UserID:         t.UserID,
		GoalID:         t.GoalID,
		Amount:         t.Amount,
		Source:         SourceMomo,
		Type:           TypeTopUp,
		Status:         SavingSuccess,
		DedupKey:       MomoDedupKey(t.ReferenceID),
		TopUpReference: t.ReferenceID,
	}
}
