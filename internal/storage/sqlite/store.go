// Package sqlite is a single-file ledger store on modernc.org/sqlite.
//
// The pool is limited to one connection, so every unit runs alone and reads
// never see a unit half applied. Times are stored as Unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

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

type Store struct {
	db *sql.DB
}

func dsn(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Open creates the database file if needed, runs migrations and returns the store.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	if err := RunMigrations(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ready(ctx context.Context) error { return s.db.PingContext(ctx) }

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", errs.ErrConflict, se.Error())
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return errs.ErrNotFound
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			if strings.Contains(se.Error(), "pots_total_nonnegative") {
				return errs.ErrInsufficientFunds
			}
			return fmt.Errorf("%w: %s", errs.ErrInvalid, se.Error())
		}
	}
	return err
}

type row interface{ Scan(dest ...any) error }

func scanUser(r row) (ledger.User, error) {
	var (
		u        ledger.User
		name     sql.NullString
		cre, upd int64
	)
	if err := r.Scan(&u.ID, &u.Email, &name, &u.PasswordHash, &cre, &upd); err != nil {
		return ledger.User{}, translate(err)
	}
	if name.Valid {
		u.Name = &name.String
	}
	u.CreatedAt, u.UpdatedAt = fromNanos(cre), fromNanos(upd)
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (ledger.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (ledger.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email = ?`, email))
}

func (s *Store) GetSession(ctx context.Context, token string) (ledger.Session, error) {
	var (
		ss       ledger.Session
		exp, cre int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE token = ?`, token).
		Scan(&ss.ID, &ss.UserID, &ss.Token, &exp, &cre)
	if err != nil {
		return ledger.Session{}, translate(err)
	}
	ss.ExpiresAt, ss.CreatedAt = fromNanos(exp), fromNanos(cre)
	return ss, nil
}

func (s *Store) PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, nanos(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) GetBalance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error) {
	var (
		b   ledger.Balance
		upd int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, COALESCE(b.current_balance, 0), COALESCE(b.income, 0), COALESCE(b.expenses, 0),
			COALESCE(b.updated_at, u.created_at)
		FROM users u LEFT JOIN balances b ON b.user_id = u.id
		WHERE u.id = ?
	`, userID).Scan(&b.UserID, &b.Current, &b.Income, &b.Expenses, &upd)
	if err != nil {
		return ledger.Balance{}, translate(err)
	}
	b.UpdatedAt = fromNanos(upd)
	return b, nil
}

func scanTx(r row) (ledger.Transaction, error) {
	var (
		t             ledger.Transaction
		date, cre, up int64
	)
	if err := r.Scan(&t.ID, &t.UserID, &t.Avatar, &t.Name, &t.Category, &date, &t.Amount, &t.Recurring, &cre, &up); err != nil {
		return ledger.Transaction{}, translate(err)
	}
	t.Date, t.CreatedAt, t.UpdatedAt = fromNanos(date), fromNanos(cre), fromNanos(up)
	return t, nil
}

func (s *Store) GetTransaction(ctx context.Context, userID, id uuid.UUID) (ledger.Transaction, error) {
	return scanTx(s.db.QueryRowContext(ctx, `SELECT `+txCols+` FROM transactions WHERE id = ? AND user_id = ?`, id, userID))
}

func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if f.Category != "" {
		where, args = append(where, "category = ?"), append(args, f.Category)
	}
	if f.Name != "" {
		where, args = append(where, "name = ?"), append(args, f.Name)
	}
	if f.Search != "" {
		where, args = append(where, "instr(lower(name), lower(?)) > 0"), append(args, f.Search)
	}
	if !f.From.IsZero() {
		where, args = append(where, "date >= ?"), append(args, nanos(f.From))
	}
	if !f.To.IsZero() {
		where, args = append(where, "date <= ?"), append(args, nanos(f.To))
	}
	q := `SELECT ` + txCols + ` FROM transactions WHERE ` + strings.Join(where, " AND ") + ` ORDER BY date DESC, id`
	rows, err := s.db.QueryContext(ctx, q, args...)
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

func scanBudget(r row) (ledger.Budget, error) {
	var (
		b   ledger.Budget
		cre int64
	)
	if err := r.Scan(&b.ID, &b.UserID, &b.Category, &b.Maximum, &b.Theme, &cre); err != nil {
		return ledger.Budget{}, translate(err)
	}
	b.CreatedAt = fromNanos(cre)
	return b, nil
}

func (s *Store) GetBudget(ctx context.Context, userID, id uuid.UUID) (ledger.Budget, error) {
	return scanBudget(s.db.QueryRowContext(ctx, `SELECT `+budgetCols+` FROM budgets WHERE id = ? AND user_id = ?`, id, userID))
}

func (s *Store) ListBudgets(ctx context.Context, userID uuid.UUID) ([]ledger.Budget, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+budgetCols+` FROM budgets WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
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

func scanPot(r row) (ledger.Pot, error) {
	var (
		p   ledger.Pot
		cre int64
	)
	if err := r.Scan(&p.ID, &p.UserID, &p.Name, &p.Target, &p.Total, &p.Theme, &cre); err != nil {
		return ledger.Pot{}, translate(err)
	}
	p.CreatedAt = fromNanos(cre)
	return p, nil
}

func (s *Store) GetPot(ctx context.Context, userID, id uuid.UUID) (ledger.Pot, error) {
	return scanPot(s.db.QueryRowContext(ctx, `SELECT `+potCols+` FROM pots WHERE id = ? AND user_id = ?`, id, userID))
}

func (s *Store) ListPots(ctx context.Context, userID uuid.UUID) ([]ledger.Pot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+potCols+` FROM pots WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
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

func scanBill(r row) (ledger.RecurringBill, error) {
	var (
		b   ledger.RecurringBill
		cre int64
	)
	if err := r.Scan(&b.ID, &b.UserID, &b.VendorName, &b.Avatar, &b.Amount, &b.DueDay, &b.Category, &b.Theme, &cre); err != nil {
		return ledger.RecurringBill{}, translate(err)
	}
	b.CreatedAt = fromNanos(cre)
	return b, nil
}

func (s *Store) GetIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (ledger.IdempotencyKey, error) {
	var (
		k   ledger.IdempotencyKey
		cre int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+idemCols+` FROM idempotency_keys WHERE user_id = ? AND idem_key = ?`, userID, key).
		Scan(&k.UserID, &k.Key, &k.Scope, &k.RequestHash, &k.ResourceID, &cre)
	if err != nil {
		return ledger.IdempotencyKey{}, translate(err)
	}
	k.CreatedAt = fromNanos(cre)
	return k, nil
}

func (s *Store) GetBill(ctx context.Context, userID, id uuid.UUID) (ledger.RecurringBill, error) {
	return scanBill(s.db.QueryRowContext(ctx, `SELECT `+billCols+` FROM recurring_bills WHERE id = ? AND user_id = ?`, id, userID))
}

func (s *Store) ListBills(ctx context.Context, userID uuid.UUID) ([]ledger.RecurringBill, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+billCols+` FROM recurring_bills WHERE user_id = ? ORDER BY due_day, id`, userID)
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
