package budget

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
	"github.com/tinoosan/fintrack/internal/storage/memory"
	"github.com/tinoosan/fintrack/internal/storage/storetest"
)

var now = time.Date(2024, time.August, 20, 10, 0, 0, 0, time.UTC)

func tx(userID uuid.UUID, c ledger.Category, amount int64, date time.Time) ledger.Transaction {
	return ledger.Transaction{ID: uuid.New(), UserID: userID, Name: "t", Category: c, Amount: amount, Date: date}
}

func TestAggregate(t *testing.T) {
	uid := uuid.New()
	b := ledger.Budget{ID: uuid.New(), UserID: uid, Category: ledger.CategoryDiningOut, Maximum: 7500}
	txs := []ledger.Transaction{
		tx(uid, ledger.CategoryDiningOut, -5000, now),
		tx(uid, ledger.CategoryDiningOut, -4000, time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)),
		tx(uid, ledger.CategoryDiningOut, 10000, now),                                                   // income never counts
		tx(uid, ledger.CategoryDiningOut, -9999, time.Date(2024, time.July, 31, 23, 59, 0, 0, time.UTC)), // previous month
		tx(uid, ledger.CategoryGroceries, -1234, now),
		tx(uuid.New(), ledger.CategoryDiningOut, -1, now),
	}
	got := Aggregate([]ledger.Budget{b}, txs, now)
	want := []ledger.BudgetWithSpending{{Budget: b, Spent: 9000, Remaining: -1500, Percentage: 100}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_LastInstantOfMonthCounts(t *testing.T) {
	uid := uuid.New()
	b := ledger.Budget{UserID: uid, Category: ledger.CategoryBills, Maximum: 10000}
	end := time.Date(2024, time.August, 31, 23, 59, 59, 0, time.UTC)
	got := Aggregate([]ledger.Budget{b}, []ledger.Transaction{tx(uid, ledger.CategoryBills, -2500, end)}, now)
	assert.Equal(t, int64(2500), got[0].Spent)
	assert.Equal(t, int64(7500), got[0].Remaining)
	assert.Equal(t, 25.0, got[0].Percentage)
}

func setup(t *testing.T) (Service, *memory.Store, ledger.User) {
	t.Helper()
	store := memory.New()
	user := storetest.SeedUser(t, store, "budget@example.com")
	return New(store, store, WithClock(func() time.Time { return now })), store, user
}

func TestCreate_ConflictScenario(t *testing.T) {
	svc, _, user := setup(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, user.ID, Input{Category: ledger.CategoryBills, Maximum: 75000, Theme: "#277C78"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, user.ID, Input{Category: ledger.CategoryBills, Maximum: 10000, Theme: "#82C9D7"})
	assert.ErrorIs(t, err, errs.ErrConflict)

	_, err = svc.Create(ctx, user.ID, Input{Category: ledger.CategoryGroceries, Maximum: 10000, Theme: "#82C9D7"})
	assert.NoError(t, err)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, user := setup(t)
	ctx := context.Background()
	for _, in := range []Input{
		{Category: "Travel", Maximum: 100, Theme: "x"},
		{Category: ledger.CategoryBills, Maximum: 0, Theme: "x"},
		{Category: ledger.CategoryBills, Maximum: 100, Theme: " "},
	} {
		_, err := svc.Create(ctx, user.ID, in)
		assert.ErrorIs(t, err, errs.ErrInvalid)
	}
}

func TestUpdate_RechecksCategory(t *testing.T) {
	svc, _, user := setup(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, user.ID, Input{Category: ledger.CategoryBills, Maximum: 75000, Theme: "a"})
	require.NoError(t, err)
	g, err := svc.Create(ctx, user.ID, Input{Category: ledger.CategoryGroceries, Maximum: 10000, Theme: "b"})
	require.NoError(t, err)

	bills := ledger.CategoryBills
	_, err = svc.Update(ctx, user.ID, g.ID, Patch{Category: &bills})
	assert.ErrorIs(t, err, errs.ErrConflict)

	// Keeping the same category is not a conflict with itself.
	same := ledger.CategoryGroceries
	maximum := int64(20000)
	got, err := svc.Update(ctx, user.ID, g.ID, Patch{Category: &same, Maximum: &maximum})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), got.Maximum)

	shopping := ledger.CategoryShopping
	got, err = svc.Update(ctx, user.ID, g.ID, Patch{Category: &shopping})
	require.NoError(t, err)
	assert.Equal(t, ledger.CategoryShopping, got.Category)
}

func TestListAndLatest(t *testing.T) {
	svc, store, user := setup(t)
	ctx := context.Background()
	b, err := svc.Create(ctx, user.ID, Input{Category: ledger.CategoryEntertainment, Maximum: 5000, Theme: "#F2CDAC"})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		t0 := tx(user.ID, ledger.CategoryEntertainment, -1000, now.AddDate(0, 0, -i))
		require.NoError(t, store.Apply(ctx, ledger.CreateTransaction{Transaction: t0}))
	}

	list, err := svc.List(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(4000), list[0].Spent)
	assert.Equal(t, int64(1000), list[0].Remaining)
	assert.Equal(t, 80.0, list[0].Percentage)

	one, err := svc.Get(ctx, user.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, list[0], one)

	latest, err := svc.Latest(ctx, user.ID, ledger.CategoryEntertainment)
	require.NoError(t, err)
	assert.Len(t, latest, LatestLimit)
	assert.True(t, latest[0].Date.Equal(now))

	require.NoError(t, svc.Delete(ctx, user.ID, b.ID))
	_, err = svc.Get(ctx, user.ID, b.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
