package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"akiba/internal/core"
	"akiba/internal/store"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const topUpColumns = `id, momo_reference_id, external_id, user_id, goal_id, amount, currency,
	phone_number, status, payer_message, payee_note, transaction_id, reason, created_at, updated_at`

const savingColumns = `id, user_id, goal_id, amount, source, type, status, dedup_key,
	topup_reference, created_at`

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if err := RunMigrations(dsn); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; transactions queue on the pool instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) CreateTopUp(ctx context.Context, t core.TopUpRequest) (core.TopUpRequest, error) {
	if err := t.Validate(); err != nil {
		return core.TopUpRequest{}, err
	}
	t = store.StampTopUp(t, r.now())

	_, err := r.db.ExecContext(ctx, `INSERT INTO topups (`+topUpColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ReferenceID, t.ExternalID, t.UserID, nullString(t.GoalID), t.Amount.String(),
		t.Currency, t.PhoneNumber, string(t.Status), t.PayerMessage, t.PayeeNote,
		nullString(t.TransactionID), nullString(t.Reason), t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return core.TopUpRequest{}, core.ErrDuplicateRequest
		}
		return core.TopUpRequest{}, fmt.Errorf("insert top-up: %w", err)
	}

	slog.InfoContext(ctx, "Top-up saved to SQLite",
		"reference", t.ReferenceID,
		"external_id", t.ExternalID,
		"amount", t.Amount.String())
	return t, nil
}

func (r *SQLiteRepository) GetTopUp(ctx context.Context, reference string) (core.TopUpRequest, error) {
	return r.getTopUp(ctx, r.db, reference)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) getTopUp(ctx context.Context, q queryer, reference string) (core.TopUpRequest, error) {
	row := q.QueryRowContext(ctx, `SELECT `+topUpColumns+` FROM topups WHERE momo_reference_id = ?`, reference)
	t, err := scanTopUp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TopUpRequest{}, core.ErrNotFound
	}
	if err != nil {
		return core.TopUpRequest{}, fmt.Errorf("get top-up %s: %w", reference, err)
	}
	return t, nil
}

func (r *SQLiteRepository) TransitionTopUp(ctx context.Context, p store.TransitionParams) (core.TopUpRequest, bool, error) {
	at := p.At
	if at.IsZero() {
		at = r.now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.TopUpRequest{}, false, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE topups
		SET status = ?, transaction_id = ?, reason = ?, updated_at = ?
		WHERE momo_reference_id = ? AND status = 'PENDING'`,
		string(p.To), nullString(p.TransactionID), nullString(p.Reason), at.UTC().UnixNano(), p.Reference)
	if err != nil {
		return core.TopUpRequest{}, false, fmt.Errorf("update top-up %s: %w", p.Reference, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.TopUpRequest{}, false, fmt.Errorf("rows affected: %w", err)
	}
	applied := n == 1

	if applied && p.Saving != nil {
		if _, _, err := r.insertSaving(ctx, tx, store.StampSaving(*p.Saving, at)); err != nil {
			return core.TopUpRequest{}, false, err
		}
	}

	t, err := r.getTopUp(ctx, tx, p.Reference)
	if err != nil {
		return core.TopUpRequest{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return core.TopUpRequest{}, false, fmt.Errorf("commit transition: %w", err)
	}

	if applied {
		slog.InfoContext(ctx, "Top-up transitioned",
			"reference", p.Reference,
			"status", string(p.To),
			"ledger_entry", p.Saving != nil)
	}
	return t, applied, nil
}

func (r *SQLiteRepository) ListPendingTopUps(ctx context.Context, olderThan time.Time, limit int) ([]core.TopUpRequest, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+topUpColumns+` FROM topups
		WHERE status = 'PENDING' AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?`, olderThan.UTC().UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending top-ups: %w", err)
	}
	defer rows.Close()

	var out []core.TopUpRequest
	for rows.Next() {
		t, err := scanTopUp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan top-up: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) InsertSaving(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, bool, error) {
	if err := e.Validate(); err != nil {
		return core.LedgerEntry{}, false, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("begin insert saving: %w", err)
	}
	defer tx.Rollback()

	saved, inserted, err := r.insertSaving(ctx, tx, store.StampSaving(e, r.now()))
	if err != nil {
		return core.LedgerEntry{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("commit saving: %w", err)
	}
	return saved, inserted, nil
}

// insertSaving appends e within tx. A taken dedup key yields the stored row.
func (r *SQLiteRepository) insertSaving(ctx context.Context, tx *sql.Tx, e core.LedgerEntry) (core.LedgerEntry, bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO savings (`+savingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO NOTHING`,
		e.ID, e.UserID, nullString(e.GoalID), e.Amount.String(), string(e.Source), string(e.Type),
		string(e.Status), nullString(e.DedupKey), nullString(e.TopUpReference), e.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return core.LedgerEntry{}, false, core.ErrDuplicateRequest
		}
		return core.LedgerEntry{}, false, fmt.Errorf("insert saving: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return e, true, nil
	}

	row := tx.QueryRowContext(ctx, `SELECT `+savingColumns+` FROM savings WHERE dedup_key = ?`, e.DedupKey)
	existing, err := scanSaving(row)
	if err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("load deduplicated saving %s: %w", e.DedupKey, err)
	}
	slog.DebugContext(ctx, "Ledger entry already present", "dedup_key", e.DedupKey)
	return existing, false, nil
}

func (r *SQLiteRepository) ListSavings(ctx context.Context, userID string, f core.SavingsFilter) ([]core.LedgerEntry, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []any{userID}
	)
	if f.GoalID != "" {
		where = append(where, "goal_id = ?")
		args = append(args, f.GoalID)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(f.Source))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.Until.UTC().UnixNano())
	}
	limit := -1
	if f.Limit > 0 {
		limit = f.Limit
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, `SELECT `+savingColumns+` FROM savings
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list savings: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanSaving(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saving: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTopUp(s scanner) (core.TopUpRequest, error) {
	var (
		t                    core.TopUpRequest
		goal, txID, reason   sql.NullString
		amount, status       string
		createdAt, updatedAt int64
	)
	err := s.Scan(&t.ID, &t.ReferenceID, &t.ExternalID, &t.UserID, &goal, &amount, &t.Currency,
		&t.PhoneNumber, &status, &t.PayerMessage, &t.PayeeNote, &txID, &reason, &createdAt, &updatedAt)
	if err != nil {
		return core.TopUpRequest{}, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.TopUpRequest{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	t.GoalID = goal.String
	t.Status = core.TopUpStatus(status)
	t.TransactionID = txID.String
	t.Reason = reason.String
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	t.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return t, nil
}

func scanSaving(s scanner) (core.LedgerEntry, error) {
	var (
		e                       core.LedgerEntry
		goal, dedup, ref        sql.NullString
		amount, source, typ, st string
		createdAt               int64
	)
	err := s.Scan(&e.ID, &e.UserID, &goal, &amount, &source, &typ, &st, &dedup, &ref, &createdAt)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	e.GoalID = goal.String
	e.Source = core.SavingSource(source)
	e.Type = core.SavingType(typ)
	e.Status = core.SavingStatus(st)
	e.DedupKey = dedup.String
	e.TopUpReference = ref.String
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	return e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
