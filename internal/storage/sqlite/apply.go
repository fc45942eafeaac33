package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
)

// Apply runs ops in one transaction on the single connection.
func (s *Store) Apply(ctx context.Context, ops ...ledger.Op) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, op := range ops {
		if err := apply(ctx, tx, op); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func exec(ctx context.Context, tx *sql.Tx, q string, args ...any) error {
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func guarded(ctx context.Context, tx *sql.Tx, table string, id, userID uuid.UUID, q string, args ...any) error {
	err := exec(ctx, tx, q, args...)
	if !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	var exists bool
	check := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = ? AND user_id = ?)`, table)
	if err := tx.QueryRowContext(ctx, check, id, userID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return errs.ErrStale
	}
	return errs.ErrNotFound
}

func insert(ctx context.Context, tx *sql.Tx, q string, args ...any) error {
	_, err := tx.ExecContext(ctx, q, args...)
	return translate(err)
}

func apply(ctx context.Context, tx *sql.Tx, op ledger.Op) error {
	switch o := op.(type) {
	case ledger.CreateUser:
		u := o.User
		return insert(ctx, tx, `INSERT INTO users (`+userCols+`) VALUES (?,?,?,?,?,?)`,
			u.ID, u.Email, u.Name, u.PasswordHash, nanos(u.CreatedAt), nanos(u.UpdatedAt))

	case ledger.UpdatePassword:
		return exec(ctx, tx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, o.PasswordHash, nanos(o.At), o.UserID)

	case ledger.CreateBalance:
		return insert(ctx, tx, `INSERT INTO balances (user_id, updated_at) VALUES (?, ?) ON CONFLICT (user_id) DO NOTHING`, o.UserID, nanos(o.At))

	case ledger.AdjustBalance:
		var current int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO balances (user_id, current_balance, income, expenses, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				current_balance = current_balance + excluded.current_balance,
				income = income + excluded.income,
				expenses = expenses + excluded.expenses,
				updated_at = excluded.updated_at
			RETURNING current_balance
		`, o.UserID, o.Delta.Current, o.Delta.Income, o.Delta.Expenses, nanos(o.At)).Scan(&current)
		if err != nil {
			return translate(err)
		}
		if o.RequireFunds && current < 0 {
			return errs.ErrInsufficientFunds
		}
		return nil

	case ledger.CreateSession:
		ss := o.Session
		return insert(ctx, tx, `INSERT INTO sessions (`+sessionCols+`) VALUES (?,?,?,?,?)`,
			ss.ID, ss.UserID, ss.Token, nanos(ss.ExpiresAt), nanos(ss.CreatedAt))

	case ledger.RotateSession:
		return exec(ctx, tx, `UPDATE sessions SET token = ?, expires_at = ? WHERE token = ? AND user_id = ?`,
			o.Next.Token, nanos(o.Next.ExpiresAt), o.OldToken, o.UserID)

	case ledger.DeleteSession:
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, o.Token)
		return err

	case ledger.DeleteUserSessions:
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, o.UserID)
		return err

	case ledger.CreateTransaction:
		t := o.Transaction
		return insert(ctx, tx, `INSERT INTO transactions (`+txCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			t.ID, t.UserID, t.Avatar, t.Name, t.Category, nanos(t.Date), t.Amount, t.Recurring, nanos(t.CreatedAt), nanos(t.UpdatedAt))

	case ledger.UpdateTransaction:
		t := o.Transaction
		return guarded(ctx, tx, "transactions", t.ID, t.UserID, `
			UPDATE transactions SET avatar = ?, name = ?, category = ?, date = ?, amount = ?, recurring = ?, updated_at = ?
			WHERE id = ? AND user_id = ? AND amount = ?
		`, t.Avatar, t.Name, t.Category, nanos(t.Date), t.Amount, t.Recurring, nanos(t.UpdatedAt), t.ID, t.UserID, o.ExpectedAmount)

	case ledger.DeleteTransaction:
		return guarded(ctx, tx, "transactions", o.ID, o.UserID,
			`DELETE FROM transactions WHERE id = ? AND user_id = ? AND amount = ?`, o.ID, o.UserID, o.ExpectedAmount)

	case ledger.CreateBudget:
		b := o.Budget
		return insert(ctx, tx, `INSERT INTO budgets (`+budgetCols+`) VALUES (?,?,?,?,?,?)`,
			b.ID, b.UserID, b.Category, b.Maximum, b.Theme, nanos(b.CreatedAt))

	case ledger.UpdateBudget:
		b := o.Budget
		return exec(ctx, tx, `UPDATE budgets SET category = ?, maximum = ?, theme = ? WHERE id = ? AND user_id = ?`,
			b.Category, b.Maximum, b.Theme, b.ID, b.UserID)

	case ledger.DeleteBudget:
		return exec(ctx, tx, `DELETE FROM budgets WHERE id = ? AND user_id = ?`, o.ID, o.UserID)

	case ledger.CreatePot:
		p := o.Pot
		return insert(ctx, tx, `INSERT INTO pots (`+potCols+`) VALUES (?,?,?,?,?,?,?)`,
			p.ID, p.UserID, p.Name, p.Target, p.Total, p.Theme, nanos(p.CreatedAt))

	case ledger.UpdatePot:
		p := o.Pot
		return exec(ctx, tx, `UPDATE pots SET name = ?, target = ?, theme = ? WHERE id = ? AND user_id = ?`,
			p.Name, p.Target, p.Theme, p.ID, p.UserID)

	case ledger.DeletePot:
		return guarded(ctx, tx, "pots", o.ID, o.UserID,
			`DELETE FROM pots WHERE id = ? AND user_id = ? AND total = ?`, o.ID, o.UserID, o.ExpectedTotal)

	case ledger.AdjustPot:
		return exec(ctx, tx, `UPDATE pots SET total = total + ? WHERE id = ? AND user_id = ?`, o.Delta, o.PotID, o.UserID)

	case ledger.CreateBill:
		b := o.Bill
		return insert(ctx, tx, `INSERT INTO recurring_bills (`+billCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
			b.ID, b.UserID, b.VendorName, b.Avatar, b.Amount, b.DueDay, b.Category, b.Theme, nanos(b.CreatedAt))

	case ledger.UpdateBill:
		b := o.Bill
		return exec(ctx, tx, `
			UPDATE recurring_bills SET vendor_name = ?, avatar = ?, amount = ?, due_day = ?, category = ?, theme = ?
			WHERE id = ? AND user_id = ?
		`, b.VendorName, b.Avatar, b.Amount, b.DueDay, b.Category, b.Theme, b.ID, b.UserID)

	case ledger.DeleteBill:
		return exec(ctx, tx, `DELETE FROM recurring_bills WHERE id = ? AND user_id = ?`, o.ID, o.UserID)

	case ledger.SaveIdempotencyKey:
		k := o.Key
		return insert(ctx, tx, `INSERT INTO idempotency_keys (`+idemCols+`) VALUES (?,?,?,?,?,?)`,
			k.UserID, k.Key, k.Scope, k.RequestHash, k.ResourceID, nanos(k.CreatedAt))
	}
	return fmt.Errorf("sqlite: unsupported op %T", op)
}
