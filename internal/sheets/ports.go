package sheets

import (
	"context"

	"akiba/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerMirror copies ledger entries to a spreadsheet for manual review.
	// The ledger stays the source of truth; the mirror may lag or miss rows.
	LedgerMirror interface {
		AppendSaving(ctx context.Context, e core.LedgerEntry) (rowRef string, err error)
	}

	// MirrorLookup reports whether an entry was already mirrored, so a
	// redelivered event does not add a second row.
	MirrorLookup interface {
		HasSaving(ctx context.Context, entryID string, year int) (bool, error)
	}
)
