// Package storetest is a behavioural test suite shared by every storage backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
	"github.com/tinoosan/fintrack/internal/storage"
)

// Factory returns an empty store. Cleanup is the caller's job (t.Cleanup).
type Factory func(t *testing.T) storage.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"UserEmailUnique", testUserEmailUnique},
		{"BalanceLazyAndRelative", testBalanceLazyAndRelative},
		{"UnitRollsBackOnFailure", testUnitRollsBack},
		{"TransactionStaleGuard", testTransactionStaleGuard},
		{"TransactionFilterAndOrder", testTransactionFilter},
		{"OwnershipScoping", testOwnership},
		{"BudgetCategoryUnique", testBudgetUnique},
		{"PotGuards", testPotGuards},
		{"SessionRotation", testSessionRotation},
		{"PurgeExpiredSessions", testPurge},
		{"ConcurrentWithdrawalsDoNotOverdraw", testConcurrentWithdrawals},
		{"ConcurrentBalanceDeltas", testConcurrentDeltas},
		{"BillsOrderedByDueDay", testBills},
		{"IdempotencyKeyOncePerUser", testIdempotencyKey},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2024, time.August, 15, 12, 0, 0, 0, time.UTC)

// SeedUser creates a user with a zeroed balance.
func SeedUser(t *testing.T, s storage.Store, email string) ledger.User {
	t.Helper()
	u := ledger.User{ID: uuid.New(), Email: email, PasswordHash: "x", CreatedAt: base, UpdatedAt: base}
	require.NoError(t, s.Apply(context.Background(), ledger.CreateUser{User: u}, ledger.CreateBalance{UserID: u.ID, At: base}))
	return u
}

func newTx(userID uuid.UUID, name string, c ledger.Category, amount int64, date time.Time) ledger.Transaction {
	return ledger.Transaction{ID: uuid.New(), UserID: userID, Name: name, Category: c, Amount: amount, Date: date, CreatedAt: base, UpdatedAt: base}
}

func createTx(t *testing.T, s storage.Store, tx ledger.Transaction) {
	t.Helper()
	require.NoError(t, s.Apply(context.Background(),
		ledger.CreateTransaction{Transaction: tx},
		ledger.AdjustBalance{UserID: tx.UserID, Delta: ledger.OnCreate(tx.Amount), At: base},
	))
}

func testUserEmailUnique(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "a@example.com")
	dup := ledger.User{ID: uuid.New(), Email: "a@example.com", PasswordHash: "y", CreatedAt: base, UpdatedAt: base}
	err := s.Apply(ctx, ledger.CreateUser{User: dup}, ledger.CreateBalance{UserID: dup.ID, At: base})
	assert.ErrorIs(t, err, errs.ErrConflict)

	got, err := s.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	_, err = s.GetUser(ctx, dup.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Apply(ctx, ledger.UpdatePassword{UserID: u.ID, PasswordHash: "new", At: base}))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.PasswordHash)
}

func testBalanceLazyAndRelative(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := ledger.User{ID: uuid.New(), Email: "lazy@example.com", PasswordHash: "x", CreatedAt: base, UpdatedAt: base}
	require.NoError(t, s.Apply(ctx, ledger.CreateUser{User: u}))

	bal, err := s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Current)
	assert.True(t, bal.UpdatedAt.Equal(base), "zero balance stamped %s, want user creation %s", bal.UpdatedAt, base)
	assert.Equal(t, time.UTC, bal.UpdatedAt.Location())
	again, err := s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, again.UpdatedAt.Equal(bal.UpdatedAt))

	createTx(t, s, newTx(u.ID, "Salary", ledger.CategoryGeneral, 10000, base))
	createTx(t, s, newTx(u.ID, "Rent", ledger.CategoryBills, -4000, base))
	bal, err = s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Balance{UserID: u.ID, Current: 6000, Income: 10000, Expenses: 4000}, ledger.Balance{UserID: bal.UserID, Current: bal.Current, Income: bal.Income, Expenses: bal.Expenses})
}

func testUnitRollsBack(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "rb@example.com")
	createTx(t, s, newTx(u.ID, "Salary", ledger.CategoryGeneral, 5000, base))
	pot := ledger.Pot{ID: uuid.New(), UserID: u.ID, Name: "Holiday", Target: 100000, Theme: "#277C78", CreatedAt: base}
	require.NoError(t, s.Apply(ctx, ledger.CreatePot{Pot: pot}))

	// Balance has 50.00; moving 50.01 must fail and leave both rows untouched.
	err := s.Apply(ctx,
		ledger.AdjustPot{UserID: u.ID, PotID: pot.ID, Delta: 5001},
		ledger.AdjustBalance{UserID: u.ID, Delta: ledger.PotDeposit(5001), RequireFunds: true, At: base},
	)
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	gotPot, err := s.GetPot(ctx, u.ID, pot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gotPot.Total)
	bal, err := s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), bal.Current)

	// A failing op after a transaction insert removes the insert too.
	tx := newTx(u.ID, "Ghost", ledger.CategoryGeneral, -100, base)
	err = s.Apply(ctx,
		ledger.CreateTransaction{Transaction: tx},
		ledger.AdjustBalance{UserID: u.ID, Delta: ledger.OnCreate(-100), At: base},
		ledger.DeleteBudget{UserID: u.ID, ID: uuid.New()},
	)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.GetTransaction(ctx, u.ID, tx.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	bal, err = s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), bal.Current)
	assert.Equal(t, int64(0), bal.Expenses)
}

func testTransactionStaleGuard(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "stale@example.com")
	tx := newTx(u.ID, "Coffee", ledger.CategoryDiningOut, -350, base)
	createTx(t, s, tx)

	upd := tx
	upd.Amount = -400
	err := s.Apply(ctx, ledger.UpdateTransaction{Transaction: upd, ExpectedAmount: -999})
	assert.ErrorIs(t, err, errs.ErrStale)

	upd.Name = "Flat white"
	require.NoError(t, s.Apply(ctx,
		ledger.UpdateTransaction{Transaction: upd, ExpectedAmount: -350},
		ledger.AdjustBalance{UserID: u.ID, Delta: ledger.OnUpdate(-350, -400), At: base},
	))
	got, err := s.GetTransaction(ctx, u.ID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-400), got.Amount)
	assert.Equal(t, "Flat white", got.Name)

	err = s.Apply(ctx, ledger.DeleteTransaction{UserID: u.ID, ID: tx.ID, ExpectedAmount: -350})
	assert.ErrorIs(t, err, errs.ErrStale)
	require.NoError(t, s.Apply(ctx,
		ledger.DeleteTransaction{UserID: u.ID, ID: tx.ID, ExpectedAmount: -400},
		ledger.AdjustBalance{UserID: u.ID, Delta: ledger.OnDelete(-400), At: base},
	))
	bal, err := s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Current)
	assert.Equal(t, int64(0), bal.Expenses)

	err = s.Apply(ctx, ledger.DeleteTransaction{UserID: u.ID, ID: tx.ID, ExpectedAmount: -400})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func testTransactionFilter(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "filter@example.com")
	july := newTx(u.ID, "Savory Bites Bistro", ledger.CategoryDiningOut, -5550, base.AddDate(0, -1, 0))
	aug := newTx(u.ID, "Savory Bites Bistro", ledger.CategoryDiningOut, -2000, base)
	other := newTx(u.ID, "Spark Electric", ledger.CategoryBills, -10000, base.Add(time.Hour))
	for _, tx := range []ledger.Transaction{july, aug, other} {
		createTx(t, s, tx)
	}

	all, err := s.ListTransactions(ctx, u.ID, ledger.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, other.ID, all[0].ID)
	assert.Equal(t, july.ID, all[2].ID)

	got, err := s.ListTransactions(ctx, u.ID, ledger.TransactionFilter{Search: "BITES"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	start := time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	got, err = s.ListTransactions(ctx, u.ID, ledger.TransactionFilter{Category: ledger.CategoryDiningOut, From: start, To: end})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, aug.ID, got[0].ID)
	assert.True(t, got[0].Date.Equal(aug.Date))

	got, err = s.ListTransactions(ctx, u.ID, ledger.TransactionFilter{Name: "Spark Electric"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func testOwnership(t *testing.T, s storage.Store) {
	ctx := context.Background()
	alice := SeedUser(t, s, "alice@example.com")
	bob := SeedUser(t, s, "bob@example.com")
	tx := newTx(alice.ID, "Groceries", ledger.CategoryGroceries, -1200, base)
	createTx(t, s, tx)
	pot := ledger.Pot{ID: uuid.New(), UserID: alice.ID, Name: "Car", Target: 500000, Theme: "#82C9D7", CreatedAt: base}
	require.NoError(t, s.Apply(ctx, ledger.CreatePot{Pot: pot}))

	_, err := s.GetTransaction(ctx, bob.ID, tx.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.GetPot(ctx, bob.ID, pot.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	err = s.Apply(ctx, ledger.AdjustPot{UserID: bob.ID, PotID: pot.ID, Delta: 100})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	err = s.Apply(ctx, ledger.DeleteTransaction{UserID: bob.ID, ID: tx.ID, ExpectedAmount: -1200})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	list, err := s.ListTransactions(ctx, bob.ID, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testBudgetUnique(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "budget@example.com")
	other := SeedUser(t, s, "budget2@example.com")
	bills := ledger.Budget{ID: uuid.New(), UserID: u.ID, Category: ledger.CategoryBills, Maximum: 75000, Theme: "#277C78", CreatedAt: base}
	require.NoError(t, s.Apply(ctx, ledger.CreateBudget{Budget: bills}))

	dup := ledger.Budget{ID: uuid.New(), UserID: u.ID, Category: ledger.CategoryBills, Maximum: 10000, Theme: "#82C9D7", CreatedAt: base}
	assert.ErrorIs(t, s.Apply(ctx, ledger.CreateBudget{Budget: dup}), errs.ErrConflict)

	groceries := ledger.Budget{ID: uuid.New(), UserID: u.ID, Category: ledger.CategoryGroceries, Maximum: 10000, Theme: "#82C9D7", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, s.Apply(ctx, ledger.CreateBudget{Budget: groceries}))
	otherBills := ledger.Budget{ID: uuid.New(), UserID: other.ID, Category: ledger.CategoryBills, Maximum: 1, Theme: "x", CreatedAt: base}
	require.NoError(t, s.Apply(ctx, ledger.CreateBudget{Budget: otherBills}))

	moved := groceries
	moved.Category = ledger.CategoryBills
	assert.ErrorIs(t, s.Apply(ctx, ledger.UpdateBudget{Budget: moved}), errs.ErrConflict)
	moved.Category = ledger.CategoryGroceries
	moved.Maximum = 20000
	require.NoError(t, s.Apply(ctx, ledger.UpdateBudget{Budget: moved}))

	list, err := s.ListBudgets(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, groceries.ID, list[0].ID)
	assert.Equal(t, int64(20000), list[0].Maximum)

	require.NoError(t, s.Apply(ctx, ledger.DeleteBudget{UserID: u.ID, ID: bills.ID}))
	_, err = s.GetBudget(ctx, u.ID, bills.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func testPotGuards(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "pot@example.com")
	createTx(t, s, newTx(u.ID, "Salary", ledger.CategoryGeneral, 20000, base))
	pot := ledger.Pot{ID: uuid.New(), UserID: u.ID, Name: "Gift", Target: 6000, Theme: "#F2CDAC", CreatedAt: base}
	require.NoError(t, s.Apply(ctx, ledger.CreatePot{Pot: pot}))

	require.NoError(t, s.Apply(ctx,
		ledger.AdjustPot{UserID: u.ID, PotID: pot.ID, Delta: 7500},
		ledger.AdjustBalance{UserID: u.ID, Delta: ledger.PotDeposit(7500), RequireFunds: true, At: base},
	))
	assert.ErrorIs(t, s.Apply(ctx, ledger.AdjustPot{UserID: u.ID, PotID: pot.ID, Delta: -7501}), errs.ErrInsufficientFunds)

	upd := pot
	upd.Name, upd.Total = "Birthday", 1
	require.NoError(t, s.Apply(ctx, ledger.UpdatePot{Pot: upd}))
	got, err := s.GetPot(ctx, u.ID, pot.ID)
	require.NoError(t, err)
	assert.Equal(t, "Birthday", got.Name)
	assert.Equal(t, int64(7500), got.Total)

	assert.ErrorIs(t, s.Apply(ctx, ledger.DeletePot{UserID: u.ID, ID: pot.ID, ExpectedTotal: 0}), errs.ErrStale)
	require.NoError(t, s.Apply(ctx,
		ledger.DeletePot{UserID: u.ID, ID: pot.ID, ExpectedTotal: 7500},
		ledger.AdjustBalance{UserID: u.ID, Delta: ledger.PotWithdrawal(7500), At: base},
	))
	bal, err := s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), bal.Current)
	pots, err := s.ListPots(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, pots)
}

func testSessionRotation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "sess@example.com")
	a := ledger.Session{ID: uuid.New(), UserID: u.ID, Token: "token-a", ExpiresAt: base.Add(time.Hour), CreatedAt: base}
	require.NoError(t, s.Apply(ctx, ledger.CreateSession{Session: a}))
	second := ledger.Session{ID: uuid.New(), UserID: u.ID, Token: "token-other-device", ExpiresAt: base.Add(time.Hour), CreatedAt: base}
	require.NoError(t, s.Apply(ctx, ledger.CreateSession{Session: second}))

	next := ledger.Session{Token: "token-b", ExpiresAt: base.Add(2 * time.Hour)}
	require.NoError(t, s.Apply(ctx, ledger.RotateSession{UserID: u.ID, OldToken: "token-a", Next: next}))
	assert.ErrorIs(t, s.Apply(ctx, ledger.RotateSession{UserID: u.ID, OldToken: "token-a", Next: ledger.Session{Token: "token-c", ExpiresAt: base}}), errs.ErrNotFound)

	_, err := s.GetSession(ctx, "token-a")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	got, err := s.GetSession(ctx, "token-b")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.True(t, got.ExpiresAt.Equal(next.ExpiresAt))

	require.NoError(t, s.Apply(ctx, ledger.DeleteSession{Token: "token-b"}))
	require.NoError(t, s.Apply(ctx, ledger.DeleteSession{Token: "token-b"}))
	_, err = s.GetSession(ctx, "token-b")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Apply(ctx, ledger.DeleteUserSessions{UserID: u.ID}))
	_, err = s.GetSession(ctx, "token-other-device")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func testPurge(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "purge@example.com")
	require.NoError(t, s.Apply(ctx,
		ledger.CreateSession{Session: ledger.Session{ID: uuid.New(), UserID: u.ID, Token: "old", ExpiresAt: base.Add(-time.Minute), CreatedAt: base}},
		ledger.CreateSession{Session: ledger.Session{ID: uuid.New(), UserID: u.ID, Token: "live", ExpiresAt: base.Add(time.Minute), CreatedAt: base}},
	))
	n, err := s.PurgeExpiredSessions(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.GetSession(ctx, "live")
	assert.NoError(t, err)
}

func testConcurrentWithdrawals(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "race@example.com")
	createTx(t, s, newTx(u.ID, "Salary", ledger.CategoryGeneral, 10000, base))
	pot := ledger.Pot{ID: uuid.New(), UserID: u.ID, Name: "Race", Target: 10000, Theme: "#626070", CreatedAt: base}
	require.NoError(t, s.Apply(ctx, ledger.CreatePot{Pot: pot}))
	require.NoError(t, s.Apply(ctx,
		ledger.AdjustPot{UserID: u.ID, PotID: pot.ID, Delta: 1000},
		ledger.AdjustBalance{UserID: u.ID, Delta: ledger.PotDeposit(1000), RequireFunds: true, At: base},
	))

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Apply(ctx,
				ledger.AdjustPot{UserID: u.ID, PotID: pot.ID, Delta: -400},
				ledger.AdjustBalance{UserID: u.ID, Delta: ledger.PotWithdrawal(400), At: base},
			)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, ok)
	got, err := s.GetPot(ctx, u.ID, pot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.Total)
	bal, err := s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9800), bal.Current)
}

func testConcurrentDeltas(t *testing.T, s storage.Store) {
	u := SeedUser(t, s, "hot@example.com")
	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx := newTx(u.ID, "Tip", ledger.CategoryGeneral, 100, base)
			_ = s.Apply(context.Background(),
				ledger.CreateTransaction{Transaction: tx},
				ledger.AdjustBalance{UserID: u.ID, Delta: ledger.OnCreate(100), At: base},
			)
		}()
	}
	wg.Wait()
	bal, err := s.GetBalance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*100), bal.Current)
	assert.Equal(t, int64(workers*100), bal.Income)
}

func testBills(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "bills@example.com")
	mk := func(vendor string, due int) ledger.RecurringBill {
		return ledger.RecurringBill{ID: uuid.New(), UserID: u.ID, VendorName: vendor, Amount: 1000, DueDay: due, Category: ledger.CategoryBills, Theme: "#277C78", CreatedAt: base}
	}
	late, early := mk("Spark Electric", 28), mk("Pixel Playground", 2)
	require.NoError(t, s.Apply(ctx, ledger.CreateBill{Bill: late}, ledger.CreateBill{Bill: early}))
	list, err := s.ListBills(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, early.ID, list[0].ID)

	late.Amount = 1500
	require.NoError(t, s.Apply(ctx, ledger.UpdateBill{Bill: late}))
	got, err := s.GetBill(ctx, u.ID, late.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.Amount)

	require.NoError(t, s.Apply(ctx, ledger.DeleteBill{UserID: u.ID, ID: early.ID}))
	assert.ErrorIs(t, s.Apply(ctx, ledger.DeleteBill{UserID: u.ID, ID: early.ID}), errs.ErrNotFound)
}

// Deposit returns a unit recording an income transaction of amount.
func Deposit(userID uuid.UUID, amount int64) []ledger.Op {
	tx := newTx(userID, "Deposit", ledger.CategoryGeneral, amount, base)
	return []ledger.Op{
		ledger.CreateTransaction{Transaction: tx},
		ledger.AdjustBalance{UserID: userID, Delta: ledger.OnCreate(amount), At: base},
	}
}

func testIdempotencyKey(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "idem@example.com")
	other := SeedUser(t, s, "idem-other@example.com")

	_, err := s.GetIdempotencyKey(ctx, u.ID, "k-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	tx := newTx(u.ID, "Salary", ledger.CategoryGeneral, 10000, base)
	key := ledger.IdempotencyKey{UserID: u.ID, Key: "k-1", Scope: "transaction.create", RequestHash: "abc", ResourceID: tx.ID, CreatedAt: base}
	require.NoError(t, s.Apply(ctx,
		ledger.CreateTransaction{Transaction: tx},
		ledger.AdjustBalance{UserID: u.ID, Delta: ledger.OnCreate(tx.Amount), At: base},
		ledger.SaveIdempotencyKey{Key: key},
	))
	got, err := s.GetIdempotencyKey(ctx, u.ID, "k-1")
	require.NoError(t, err)
	assert.Equal(t, key.ResourceID, got.ResourceID)
	assert.Equal(t, "abc", got.RequestHash)
	assert.Equal(t, "transaction.create", got.Scope)
	assert.True(t, got.CreatedAt.Equal(base))

	// Reusing the key fails the whole unit, so the second delta never lands.
	dup := newTx(u.ID, "Salary", ledger.CategoryGeneral, 10000, base)
	err = s.Apply(ctx,
		ledger.CreateTransaction{Transaction: dup},
		ledger.AdjustBalance{UserID: u.ID, Delta: ledger.OnCreate(dup.Amount), At: base},
		ledger.SaveIdempotencyKey{Key: ledger.IdempotencyKey{UserID: u.ID, Key: "k-1", Scope: "transaction.create", RequestHash: "abc", ResourceID: dup.ID, CreatedAt: base}},
	)
	assert.ErrorIs(t, err, errs.ErrConflict)
	_, err = s.GetTransaction(ctx, u.ID, dup.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	bal, err := s.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.Current)

	// Keys are scoped per user.
	_, err = s.GetIdempotencyKey(ctx, other.ID, "k-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, s.Apply(ctx, ledger.SaveIdempotencyKey{Key: ledger.IdempotencyKey{UserID: other.ID, Key: "k-1", Scope: "pot.add", RequestHash: "def", ResourceID: uuid.New(), CreatedAt: base}}))
}
