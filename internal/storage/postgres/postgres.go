// Package postgres is the PostgreSQL repository. Amounts travel as text so
// NUMERIC precision is never routed through floats.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"akiba/internal/core"
	"akiba/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

const topUpColumns = `id, momo_reference_id, external_id, user_id, goal_id, amount::text, currency,
	phone_number, status, payer_message, payee_note, transaction_id, reason, created_at, updated_at`

const savingColumns = `id, user_id, goal_id, amount::text, source, type, status, dedup_key,
	topup_reference, created_at`

type Store struct {
	Db  *pgxpool.Pool
	now func() time.Time
}

var _ store.Repository = (*Store)(nil)

// NewStore migrates the schema at connString and opens a pool on it.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	if err := RunMigrations(connString); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool, now: time.Now}, nil
}

func (s *Store) Close() error {
	s.Db.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

func (s *Store) CreateTopUp(ctx context.Context, t core.TopUpRequest) (core.TopUpRequest, error) {
	if err := t.Validate(); err != nil {
		return core.TopUpRequest{}, err
	}
	t = store.StampTopUp(t, s.now())

	_, err := s.Db.Exec(ctx, `INSERT INTO topups (id, momo_reference_id, external_id, user_id, goal_id,
			amount, currency, phone_number, status, payer_message, payee_note, transaction_id, reason,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.ReferenceID, t.ExternalID, t.UserID, nullable(t.GoalID), t.Amount.String(), t.Currency,
		t.PhoneNumber, string(t.Status), t.PayerMessage, t.PayeeNote, nullable(t.TransactionID),
		nullable(t.Reason), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.TopUpRequest{}, core.ErrDuplicateRequest
		}
		return core.TopUpRequest{}, fmt.Errorf("insert top-up: %w", err)
	}
	return t, nil
}

func (s *Store) GetTopUp(ctx context.Context, reference string) (core.TopUpRequest, error) {
	return getTopUp(ctx, s.Db, reference)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getTopUp(ctx context.Context, q querier, reference string) (core.TopUpRequest, error) {
	row := q.QueryRow(ctx, `SELECT `+topUpColumns+` FROM topups WHERE momo_reference_id = $1`, reference)
	t, err := scanTopUp(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.TopUpRequest{}, core.ErrNotFound
	}
	if err != nil {
		return core.TopUpRequest{}, fmt.Errorf("get top-up %s: %w", reference, err)
	}
	return t, nil
}

func (s *Store) TransitionTopUp(ctx context.Context, p store.TransitionParams) (core.TopUpRequest, bool, error) {
	at := p.At
	if at.IsZero() {
		at = s.now()
	}

	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return core.TopUpRequest{}, false, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE topups
		SET status = $1, transaction_id = $2, reason = $3, updated_at = $4
		WHERE momo_reference_id = $5 AND status = 'PENDING'`,
		string(p.To), nullable(p.TransactionID), nullable(p.Reason), at.UTC(), p.Reference)
	if err != nil {
		return core.TopUpRequest{}, false, fmt.Errorf("update top-up %s: %w", p.Reference, err)
	}
	applied := tag.RowsAffected() == 1

	if applied && p.Saving != nil {
		if _, _, err := insertSaving(ctx, tx, store.StampSaving(*p.Saving, at)); err != nil {
			return core.TopUpRequest{}, false, err
		}
	}

	t, err := getTopUp(ctx, tx, p.Reference)
	if err != nil {
		return core.TopUpRequest{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
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

func (s *Store) ListPendingTopUps(ctx context.Context, olderThan time.Time, limit int) ([]core.TopUpRequest, error) {
	query := `SELECT ` + topUpColumns + ` FROM topups
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC`
	args := []any{olderThan.UTC()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.Db.Query(ctx, query, args...)
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

func (s *Store) InsertSaving(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, bool, error) {
	if err := e.Validate(); err != nil {
		return core.LedgerEntry{}, false, err
	}
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("begin insert saving: %w", err)
	}
	defer tx.Rollback(ctx)

	saved, inserted, err := insertSaving(ctx, tx, store.StampSaving(e, s.now()))
	if err != nil {
		return core.LedgerEntry{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("commit saving: %w", err)
	}
	return saved, inserted, nil
}

func insertSaving(ctx context.Context, tx pgx.Tx, e core.LedgerEntry) (core.LedgerEntry, bool, error) {
	tag, err := tx.Exec(ctx, `INSERT INTO savings (id, user_id, goal_id, amount, source, type, status,
			dedup_key, topup_reference, created_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dedup_key) DO NOTHING`,
		e.ID, e.UserID, nullable(e.GoalID), e.Amount.String(), string(e.Source), string(e.Type),
		string(e.Status), nullable(e.DedupKey), nullable(e.TopUpReference), e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.LedgerEntry{}, false, core.ErrDuplicateRequest
		}
		return core.LedgerEntry{}, false, fmt.Errorf("insert saving: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return e, true, nil
	}

	row := tx.QueryRow(ctx, `SELECT `+savingColumns+` FROM savings WHERE dedup_key = $1`, e.DedupKey)
	existing, err := scanSaving(row)
	if err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("load deduplicated saving %s: %w", e.DedupKey, err)
	}
	return existing, false, nil
}

func (s *Store) ListSavings(ctx context.Context, userID string, f core.SavingsFilter) ([]core.LedgerEntry, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{userID}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.GoalID != "" {
		add("goal_id = $%d", f.GoalID)
	}
	if f.Source != "" {
		add("source = $%d", string(f.Source))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until.UTC())
	}

	query := `SELECT ` + savingColumns + ` FROM savings
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.Db.Query(ctx, query, args...)
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

func scanTopUp(row pgx.Row) (core.TopUpRequest, error) {
	var (
		t                  core.TopUpRequest
		goal, txID, reason *string
		amount, status     string
	)
	err := row.Scan(&t.ID, &t.ReferenceID, &t.ExternalID, &t.UserID, &goal, &amount, &t.Currency,
		&t.PhoneNumber, &status, &t.PayerMessage, &t.PayeeNote, &txID, &reason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return core.TopUpRequest{}, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.TopUpRequest{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	t.GoalID = deref(goal)
	t.Status = core.TopUpStatus(status)
	t.TransactionID = deref(txID)
	t.Reason = deref(reason)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func scanSaving(row pgx.Row) (core.LedgerEntry, error) {
	var (
		e                       core.LedgerEntry
		goal, dedup, ref        *string
		amount, source, typ, st string
	)
	err := row.Scan(&e.ID, &e.UserID, &goal, &amount, &source, &typ, &st, &dedup, &ref, &e.CreatedAt)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	e.GoalID = deref(goal)
	e.Source = core.SavingSource(source)
	e.Type = core.SavingType(typ)
	e.Status = core.SavingStatus(st)
	e.DedupKey = deref(dedup)
	e.TopUpReference = deref(ref)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
