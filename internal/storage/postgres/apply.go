package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
)

// Apply runs ops in order inside one transaction. A cancelled context or any
// failing op rolls the whole unit back.
func (s *Store) Apply(ctx context.Context, ops ...ledger.Op) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, op := range ops {
		if err := apply(ctx, tx, op); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// exec runs a statement that must touch exactly one row.
func exec(ctx context.Context, tx pgx.Tx, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// guarded runs a write conditioned on an expected value. When nothing matched
// it tells a vanished row (not found) from a changed one (stale).
func guarded(ctx context.Context, tx pgx.Tx, table string, id, userID uuid.UUID, sql string, args ...any) error {
	err := exec(ctx, tx, sql, args...)
	if !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	var exists bool
	q := fmt.Sprintf(`select exists(select 1 from %s where id = $1 and user_id = $2)`, table)
	if err := tx.QueryRow(ctx, q, id, userID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return errs.ErrStale
	}
	return errs.ErrNotFound
}

func apply(ctx context.Context, tx pgx.Tx, op ledger.Op) error {
	switch o := op.(type) {
	case ledger.CreateUser:
		u := o.User
		_, err := tx.Exec(ctx, `insert into users (`+userCols+`) values ($1,$2,$3,$4,$5,$6)`,
			u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
		return translate(err)

	case ledger.UpdatePassword:
		return exec(ctx, tx, `update users set password_hash = $2, updated_at = $3 where id = $1`, o.UserID, o.PasswordHash, o.At)

	case ledger.CreateBalance:
		_, err := tx.Exec(ctx, `insert into balances (user_id, updated_at) values ($1, $2) on conflict (user_id) do nothing`, o.UserID, o.At)
		return translate(err)

	case ledger.AdjustBalance:
		var current int64
		err := tx.QueryRow(ctx, `
			insert into balances as b (user_id, current_balance, income, expenses, updated_at)
			values ($1, $2, $3, $4, $5)
			on conflict (user_id) do update set
				current_balance = b.current_balance + excluded.current_balance,
				income = b.income + excluded.income,
				expenses = b.expenses + excluded.expenses,
				updated_at = excluded.updated_at
			returning current_balance
		`, o.UserID, o.Delta.Current, o.Delta.Income, o.Delta.Expenses, o.At).Scan(&current)
		if err != nil {
			return translate(err)
		}
		if o.RequireFunds && current < 0 {
			return errs.ErrInsufficientFunds
		}
		return nil

	case ledger.CreateSession:
		ss := o.Session
		_, err := tx.Exec(ctx, `insert into sessions (`+sessionCols+`) values ($1,$2,$3,$4,$5)`,
			ss.ID, ss.UserID, ss.Token, ss.ExpiresAt, ss.CreatedAt)
		return translate(err)

	case ledger.RotateSession:
		return exec(ctx, tx, `update sessions set token = $3, expires_at = $4 where token = $1 and user_id = $2`,
			o.OldToken, o.UserID, o.Next.Token, o.Next.ExpiresAt)

	case ledger.DeleteSession:
		_, err := tx.Exec(ctx, `delete from sessions where token = $1`, o.Token)
		return err

	case ledger.DeleteUserSessions:
		_, err := tx.Exec(ctx, `delete from sessions where user_id = $1`, o.UserID)
		return err

	case ledger.CreateTransaction:
		t := o.Transaction
		_, err := tx.Exec(ctx, `insert into transactions (`+txCols+`) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			t.ID, t.UserID, t.Avatar, t.Name, t.Category, t.Date, t.Amount, t.Recurring, t.CreatedAt, t.UpdatedAt)
		return translate(err)

	case ledger.UpdateTransaction:
		t := o.Transaction
		return guarded(ctx, tx, "transactions", t.ID, t.UserID, `
			update transactions set avatar = $3, name = $4, category = $5, date = $6, amount = $7, recurring = $8, updated_at = $9
			where id = $1 and user_id = $2 and amount = $10
		`, t.ID, t.UserID, t.Avatar, t.Name, t.Category, t.Date, t.Amount, t.Recurring, t.UpdatedAt, o.ExpectedAmount)

	case ledger.DeleteTransaction:
		return guarded(ctx, tx, "transactions", o.ID, o.UserID,
			`delete from transactions where id = $1 and user_id = $2 and amount = $3`, o.ID, o.UserID, o.ExpectedAmount)

	case ledger.CreateBudget:
		b := o.Budget
		_, err := tx.Exec(ctx, `insert into budgets (`+budgetCols+`) values ($1,$2,$3,$4,$5,$6)`,
			b.ID, b.UserID, b.Category, b.Maximum, b.Theme, b.CreatedAt)
		return translate(err)

	case ledger.UpdateBudget:
		b := o.Budget
		return exec(ctx, tx, `update budgets set category = $3, maximum = $4, theme = $5 where id = $1 and user_id = $2`,
			b.ID, b.UserID, b.Category, b.Maximum, b.Theme)

	case ledger.DeleteBudget:
		return exec(ctx, tx, `delete from budgets where id = $1 and user_id = $2`, o.ID, o.UserID)

	case ledger.CreatePot:
		p := o.Pot
		_, err := tx.Exec(ctx, `insert into pots (`+potCols+`) values ($1,$2,$3,$4,$5,$6,$7)`,
			p.ID, p.UserID, p.Name, p.Target, p.Total, p.Theme, p.CreatedAt)
		return translate(err)

	case ledger.UpdatePot:
		p := o.Pot
		return exec(ctx, tx, `update pots set name = $3, target = $4, theme = $5 where id = $1 and user_id = $2`,
			p.ID, p.UserID, p.Name, p.Target, p.Theme)

	case ledger.DeletePot:
		return guarded(ctx, tx, "pots", o.ID, o.UserID,
			`delete from pots where id = $1 and user_id = $2 and total = $3`, o.ID, o.UserID, o.ExpectedTotal)

	case ledger.AdjustPot:
		// pots_total_nonnegative rejects an overdraw on the locked row.
		return exec(ctx, tx, `update pots set total = total + $3 where id = $1 and user_id = $2`, o.PotID, o.UserID, o.Delta)

	case ledger.CreateBill:
		b := o.Bill
		_, err := tx.Exec(ctx, `insert into recurring_bills (`+billCols+`) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			b.ID, b.UserID, b.VendorName, b.Avatar, b.Amount, b.DueDay, b.Category, b.Theme, b.CreatedAt)
		return translate(err)

	case ledger.UpdateBill:
		b := o.Bill
		return exec(ctx, tx, `
			update recurring_bills set vendor_name = $3, avatar = $4, amount = $5, due_day = $6, category = $7, theme = $8
			where id = $1 and user_id = $2
		`, b.ID, b.UserID, b.VendorName, b.Avatar, b.Amount, b.DueDay, b.Category, b.Theme)

	case ledger.DeleteBill:
		return exec(ctx, tx, `delete from recurring_bills where id = $1 and user_id = $2`, o.ID, o.UserID)

	case ledger.SaveIdempotencyKey:
		k := o.Key
		_, err := tx.Exec(ctx, `insert into idempotency_keys (`+idemCols+`) values ($1,$2,$3,$4,$5,$6)`,
			k.UserID, k.Key, k.Scope, k.RequestHash, k.ResourceID, k.CreatedAt)
		return translate(err)
	}
	return fmt.Errorf("postgres: unsupported op %T", op)
}
