package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/errs"
)

// Op is one write inside an atomic unit. Stores apply a list of ops in order
// and either commit all of them or none.
type Op interface{ isOp() }

// CreateUser inserts a user. Fails with errs.ErrConflict on a taken email.
type CreateUser struct{ User User }

// UpdatePassword replaces a user's credential hash.
type UpdatePassword struct {
	UserID       uuid.UUID
	PasswordHash string
	At           time.Time
}

// CreateBalance inserts a zeroed balance. It is a no-op when one exists.
type CreateBalance struct {
	UserID uuid.UUID
	At     time.Time
}

// AdjustBalance applies Delta as a relative update, creating the row if missing.
// With RequireFunds set, the unit fails with errs.ErrInsufficientFunds when
// the current amount would drop below zero.
type AdjustBalance struct {
	UserID       uuid.UUID
	Delta        BalanceDelta
	RequireFunds bool
	At           time.Time
}

// CreateSession stores a refresh-token session.
type CreateSession struct{ Session Session }

// RotateSession swaps OldToken for Next.Token and Next.ExpiresAt. Fails with
// errs.ErrNotFound when no session holds OldToken, so two rotations of the
// same token cannot both succeed.
type RotateSession struct {
	UserID   uuid.UUID
	OldToken string
	Next     Session
}

// DeleteSession removes any session holding Token. Absence is not an error.
type DeleteSession struct{ Token string }

// DeleteUserSessions revokes every session of a user.
type DeleteUserSessions struct{ UserID uuid.UUID }

// CreateTransaction inserts a transaction.
type CreateTransaction struct{ Transaction Transaction }

// UpdateTransaction replaces the mutable fields of a transaction whose stored
// amount is still ExpectedAmount; otherwise the unit fails with errs.ErrStale.
type UpdateTransaction struct {
	Transaction    Transaction
	ExpectedAmount int64
}

// DeleteTransaction removes a transaction whose stored amount is still ExpectedAmount.
type DeleteTransaction struct {
	UserID         uuid.UUID
	ID             uuid.UUID
	ExpectedAmount int64
}

// CreateBudget inserts a budget. Fails with errs.ErrConflict on a duplicate category.
type CreateBudget struct{ Budget Budget }

// UpdateBudget replaces category, maximum and theme.
type UpdateBudget struct{ Budget Budget }

// DeleteBudget removes a budget.
type DeleteBudget struct{ UserID, ID uuid.UUID }

// CreatePot inserts a pot with the Total it carries (services always pass zero).
type CreatePot struct{ Pot Pot }

// UpdatePot replaces name, target and theme. Total is never touched.
type UpdatePot struct{ Pot Pot }

// DeletePot removes a pot whose stored total is still ExpectedTotal.
type DeletePot struct {
	UserID        uuid.UUID
	ID            uuid.UUID
	ExpectedTotal int64
}

// AdjustPot adds Delta to a pot total. Fails with errs.ErrInsufficientFunds
// when the total would go negative.
type AdjustPot struct {
	UserID uuid.UUID
	PotID  uuid.UUID
	Delta  int64
}

// CreateBill inserts a recurring bill.
type CreateBill struct{ Bill RecurringBill }

// UpdateBill replaces every mutable field of a recurring bill.
type UpdateBill struct{ Bill RecurringBill }

// DeleteBill removes a recurring bill.
type DeleteBill struct{ UserID, ID uuid.UUID }

// SaveIdempotencyKey stores a key record. Fails with errs.ErrConflict when
// the user already used the key, which rolls back the rest of the unit.
type SaveIdempotencyKey struct{ Key IdempotencyKey }

func (CreateUser) isOp()         {}
func (UpdatePassword) isOp()     {}
func (CreateBalance) isOp()      {}
func (AdjustBalance) isOp()      {}
func (CreateSession) isOp()      {}
func (RotateSession) isOp()      {}
func (DeleteSession) isOp()      {}
func (DeleteUserSessions) isOp() {}
func (CreateTransaction) isOp()  {}
func (UpdateTransaction) isOp()  {}
func (DeleteTransaction) isOp()  {}
func (CreateBudget) isOp()       {}
func (UpdateBudget) isOp()       {}
func (DeleteBudget) isOp()       {}
func (CreatePot) isOp()          {}
func (UpdatePot) isOp()          {}
func (DeletePot) isOp()          {}
func (AdjustPot) isOp()          {}
func (CreateBill) isOp()         {}
func (UpdateBill) isOp()         {}
func (DeleteBill) isOp()         {}
func (SaveIdempotencyKey) isOp() {}

// TransactionFilter narrows a transaction listing. Zero fields match everything.
// From and To are inclusive.
type TransactionFilter struct {
	Category Category
	Name     string
	Search   string
	From     time.Time
	To       time.Time
}

// Match reports whether t passes the filter.
func (f TransactionFilter) Match(t Transaction) bool {
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Name != "" && t.Name != f.Name {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(f.Search)) {
		return false
	}
	if !f.From.IsZero() && t.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.Date.After(f.To) {
		return false
	}
	return true
}

// StaleRetries bounds optimistic retries of units that fail with errs.ErrStale.
const StaleRetries = 3

// RetryStale runs fn until it returns something other than errs.ErrStale or
// the attempts run out.
func RetryStale(fn func() error) error {
	var err error
	for i := 0; i < StaleRetries; i++ {
		if err = fn(); !errors.Is(err, errs.ErrStale) {
			return err
		}
	}
	return err
}
