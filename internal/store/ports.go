package store

import (
	"context"
	"time"

	"akiba/internal/core"

	"github.com/google/uuid"
)

// Ports implemented by every persistence backend.
type (
	TopUpStore interface {
		// CreateTopUp persists a new top-up. A clash on external_id or
		// momo_reference_id returns core.ErrDuplicateRequest.
		CreateTopUp(ctx context.Context, t core.TopUpRequest) (core.TopUpRequest, error)

		// GetTopUp returns core.ErrNotFound when the reference is unknown.
		GetTopUp(ctx context.Context, reference string) (core.TopUpRequest, error)

		// TransitionTopUp moves a PENDING top-up to p.To with a compare-and-set
		// on the current status. When p.Saving is set it is appended in the
		// same transaction, deduplicated on its dedup key. applied is false
		// when the row was not PENDING anymore; the current row is returned
		// so the caller can decide between a no-op and a conflict.
		TransitionTopUp(ctx context.Context, p TransitionParams) (t core.TopUpRequest, applied bool, err error)

		// ListPendingTopUps returns PENDING top-ups created before olderThan,
		// oldest first.
		ListPendingTopUps(ctx context.Context, olderThan time.Time, limit int) ([]core.TopUpRequest, error)
	}

	SavingsStore interface {
		// InsertSaving appends e. For an entry whose dedup key already exists
		// the stored entry is returned with inserted=false.
		InsertSaving(ctx context.Context, e core.LedgerEntry) (saved core.LedgerEntry, inserted bool, err error)

		// ListSavings returns the user's entries, newest first.
		ListSavings(ctx context.Context, userID string, f core.SavingsFilter) ([]core.LedgerEntry, error)
	}

	// LedgerStore is what the ledger needs: savings plus top-up reads, so
	// an entry always follows the stored status.
	LedgerStore interface {
		SavingsStore
		GetTopUp(ctx context.Context, reference string) (core.TopUpRequest, error)
	}

	Repository interface {
		TopUpStore
		SavingsStore
		Ping(ctx context.Context) error
		Close() error
	}
)

// TransitionParams describes one terminal transition.
type TransitionParams struct {
	Reference     string
	To            core.TopUpStatus
	TransactionID string
	Reason        string
	At            time.Time
	Saving        *core.LedgerEntry
}

// StampSaving fills the id and creation time of an entry that has none.
func StampSaving(e core.LedgerEntry, now time.Time) core.LedgerEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e
}

// StampTopUp fills the id and timestamps of a top-up about to be created.
func StampTopUp(t core.TopUpRequest, now time.Time) core.TopUpRequest {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.CreatedAt
	return t
}
