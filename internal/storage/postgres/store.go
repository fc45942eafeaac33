// Package postgres is the pgx-backed ledger store.
//
// Apply runs every unit in one pgx transaction. Balance and pot changes are
// relative updates, so the row lock taken by the UPDATE serializes concurrent
// writers and the sufficiency checks read the locked, current value.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
)

const (
	userCols    = `id, email, name, password_hash, created_at, updated_at`
	sessionCols = `id, user_id, token, expires_at, created_at`
	txCols      = `id, user_id, avatar, name, category, date, amount, recurring, created_at, updated_at`
	budgetCols  = `id, user_id, category, maximum, theme, created_at`
	potCols     = `id, user_id, name, target, total, theme, created_at`
	billCols    = `id, user_id, vendor_name, avatar, amount, due_day, category, theme, created_at`
	idemCols    = `user_id, idem_key, scope, request_hash, resource_id, created_at`
)

// Store holds a pgx pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ready pings the pool.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// translate maps driver errors onto errs sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", errs.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", errs.ErrNotFound, pgErr.ConstraintName)
		case "23514":
			if pgErr.ConstraintName == "pots_total_nonnegative" {
				return errs.ErrInsufficientFunds
			}
			return fmt.Errorf("%w: %s", errs.ErrInvalid, pgErr.ConstraintName)
		}
	}
	return err
}

// --- reads ---

func scanUser(row pgx.Row) (ledger.User, error) {
	var u ledger.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, translate(err)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (ledger.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `select `+userCols+` from users where id = $1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (ledger.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `select `+userCols+` from users where email = $1`, email))
}

func (s *Store) GetSession(ctx context.Context, token string) (ledger.Session, error) {
	var ss ledger.Session
	err := s.pool.QueryRow(ctx, `select `+sessionCols+` from sessions where token = $1`, token).
		Scan(&ss.ID, &ss.UserID, &ss.Token, &ss.ExpiresAt, &ss.CreatedAt)
	return ss, translate(err)
}

func (s *Store) PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `delete from sessions where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) GetBalance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error) {
	// A user without a balance row reads as zero, stamped with the user's
	// creation time. The first AdjustBalance upserts the row.
	var b ledger.Balance
	err := s.pool.QueryRow(ctx, `
		select u.id, coalesce(b.current_balance, 0), coalesce(b.income, 0), coalesce(b.expenses, 0),
			coalesce(b.updated_at, u.created_at)
		from users u left join balances b on b.user_id = u.id
		where u.id = $1
	`, userID).Scan(&b.UserID, &b.Current, &b.Income, &b.Expenses, &b.UpdatedAt)
	if err != nil {
		return ledger.Balance{}, translate(err)
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func scanTx(row pgx.Row) (ledger.Transaction, error) {
	var t ledger.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Avatar, &t.Name, &t.Category, &t.Date, &t.Amount, &t.Recurring, &t.CreatedAt, &t.UpdatedAt)
	return t, translate(err)
}

func (s *Store) GetTransaction(ctx context.Context, userID, id uuid.UUID) (ledger.Transaction, error) {
	return scanTx(s.pool.QueryRow(ctx, `select `+txCols+` from transactions where id = $1 and user_id = $2`, id, userID))
}

func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Name != "" {
		add("name = $%d", f.Name)
	}
	if f.Search != "" {
		add("position(lower($%d) in lower(name)) > 0", f.Search)
	}
	if !f.From.IsZero() {
		add("date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("date <= $%d", f.To)
	}
	q := `select ` + txCols + ` from transactions where ` + strings.Join(where, " and ") + ` order by date desc, id`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Transaction, 0)
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanBudget(row pgx.Row) (ledger.Budget, error) {
	var b ledger.Budget
	err := row.Scan(&b.ID, &b.UserID, &b.Category, &b.Maximum, &b.Theme, &b.CreatedAt)
	return b, translate(err)
}

func (s *Store) GetBudget(ctx context.Context, userID, id uuid.UUID) (ledger.Budget, error) {
	return scanBudget(s.pool.QueryRow(ctx, `select `+budgetCols+` from budgets where id = $1 and user_id = $2`, id, userID))
}

func (s *Store) ListBudgets(ctx context.Context, userID uuid.UUID) ([]ledger.Budget, error) {
	rows, err := s.pool.Query(ctx, `select `+budgetCols+` from budgets where user_id = $1 order by created_at desc, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Budget, 0)
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanPot(row pgx.Row) (ledger.Pot, error) {
	var p ledger.Pot
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Target, &p.Total, &p.Theme, &p.CreatedAt)
	return p, translate(err)
}

func (s *Store) GetPot(ctx context.Context, userID, id uuid.UUID) (ledger.Pot, error) {
	return scanPot(s.pool.QueryRow(ctx, `select `+potCols+` from pots where id = $1 and user_id = $2`, id, userID))
}

func (s *Store) ListPots(ctx context.Context, userID uuid.UUID) ([]ledger.Pot, error) {
	rows, err := s.pool.Query(ctx, `select `+potCols+` from pots where user_id = $1 order by created_at desc, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Pot, 0)
	for rows.Next() {
		p, err := scanPot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanBill(row pgx.Row) (ledger.RecurringBill, error) {
	var b ledger.RecurringBill
	err := row.Scan(&b.ID, &b.UserID, &b.VendorName, &b.Avatar, &b.Amount, &b.DueDay, &b.Category, &b.Theme, &b.CreatedAt)
	return b, translate(err)
}

func (s *Store) GetIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (ledger.IdempotencyKey, error) {
	var k ledger.IdempotencyKey
	err := s.pool.QueryRow(ctx, `select `+idemCols+` from idempotency_keys where user_id = $1 and idem_key = $2`, userID, key).
		Scan(&k.UserID, &k.Key, &k.Scope, &k.RequestHash, &k.ResourceID, &k.CreatedAt)
	if err != nil {
		return ledger.IdempotencyKey{}, translate(err)
	}
	k.CreatedAt = k.CreatedAt.UTC()
	return k, nil
}

func (s *Store) GetBill(ctx context.Context, userID, id uuid.UUID) (ledger.RecurringBill, error) {
	return scanBill(s.pool.QueryRow(ctx, `select `+billCols+` from recurring_bills where id = $1 and user_id = $2`, id, userID))
}

func (s *Store) ListBills(ctx context.Context, userID uuid.UUID) ([]ledger.RecurringBill, error) {
	rows, err := s.pool.Query(ctx, `select `+billCols+` from recurring_bills where user_id = $1 order by due_day, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.RecurringBill, 0)
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
