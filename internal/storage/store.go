// Package storage declares the contract every ledger backend satisfies.
//
// Reads return errs.ErrNotFound for rows that are missing or owned by another
// user. All writes go through Apply, which runs the given ops as one atomic
// unit: either every op commits or none does, and no reader observes a
// partially applied unit.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/ledger"
)

// Store is the full ledger store.
type Store interface {
	Apply(ctx context.Context, ops ...ledger.Op) error

	GetUser(ctx context.Context, id uuid.UUID) (ledger.User, error)
	GetUserByEmail(ctx context.Context, email string) (ledger.User, error)
	GetSession(ctx context.Context, token string) (ledger.Session, error)
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error)

	// GetBalance returns the user's balance. A user with no balance row reads
	// as zero with UpdatedAt set to the user's CreatedAt; nothing is written.
	GetBalance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error)

	GetTransaction(ctx context.Context, userID, id uuid.UUID) (ledger.Transaction, error)
	// ListTransactions returns matching transactions, newest date first.
	ListTransactions(ctx context.Context, userID uuid.UUID, f ledger.TransactionFilter) ([]ledger.Transaction, error)

	GetBudget(ctx context.Context, userID, id uuid.UUID) (ledger.Budget, error)
	// ListBudgets returns budgets, newest first.
	ListBudgets(ctx context.Context, userID uuid.UUID) ([]ledger.Budget, error)

	GetPot(ctx context.Context, userID, id uuid.UUID) (ledger.Pot, error)
	// ListPots returns pots, newest first.
	ListPots(ctx context.Context, userID uuid.UUID) ([]ledger.Pot, error)

	GetBill(ctx context.Context, userID, id uuid.UUID) (ledger.RecurringBill, error)
	// ListBills returns bills ordered by due day.
	ListBills(ctx context.Context, userID uuid.UUID) ([]ledger.RecurringBill, error)

	// GetIdempotencyKey returns the record saved for the user's key.
	GetIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (ledger.IdempotencyKey, error)

	Ready(ctx context.Context) error
	Close() error
}
