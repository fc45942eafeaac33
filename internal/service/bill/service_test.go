package bill

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
	"github.com/tinoosan/fintrack/internal/storage/memory"
	"github.com/tinoosan/fintrack/internal/storage/storetest"
)

var now = time.Date(2024, time.August, 15, 9, 0, 0, 0, time.UTC)

func bill(userID uuid.UUID, vendor string, amount int64, due int) ledger.RecurringBill {
	return ledger.RecurringBill{ID: uuid.New(), UserID: userID, VendorName: vendor, Amount: amount, DueDay: due, Category: ledger.CategoryBills, Theme: "#626070"}
}

func payment(userID uuid.UUID, name string, amount int64, date time.Time) ledger.Transaction {
	return ledger.Transaction{ID: uuid.New(), UserID: userID, Name: name, Category: ledger.CategoryBills, Amount: amount, Date: date}
}

func TestIsPaid(t *testing.T) {
	uid := uuid.New()
	b := bill(uid, "Spark Electric Solutions", 10000, 2)
	cases := []struct {
		name string
		tx   ledger.Transaction
		want bool
	}{
		{"exact match this month", payment(uid, "Spark Electric Solutions", -10000, now.AddDate(0, 0, -13)), true},
		{"wrong amount", payment(uid, "Spark Electric Solutions", -9999, now), false},
		{"positive amount", payment(uid, "Spark Electric Solutions", 10000, now), false},
		{"name differs in case", payment(uid, "spark electric solutions", -10000, now), false},
		{"last month", payment(uid, "Spark Electric Solutions", -10000, now.AddDate(0, -1, 0)), false},
		{"other user", payment(uuid.New(), "Spark Electric Solutions", -10000, now), false},
		{"later this month", payment(uid, "Spark Electric Solutions", -10000, time.Date(2024, time.August, 31, 23, 0, 0, 0, time.UTC)), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPaid(b, []ledger.Transaction{tc.tx}, now))
		})
	}
}

func TestStatus_Rollover(t *testing.T) {
	st := Status(bill(uuid.New(), "Serenity Spa", 3000, 2), nil, now)
	assert.False(t, st.IsPaid)
	assert.Equal(t, 18, st.DaysUntilDue)
}

func TestSummarize(t *testing.T) {
	uid := uuid.New()
	paid := bill(uid, "Elevate Education", 5000, 4)
	soon := bill(uid, "Aqua Flow Utilities", 10000, 19)
	later := bill(uid, "Nimbus Data Storage", 999, 28)
	today := bill(uid, "EcoFuel Energy", 3500, 15)
	txs := []ledger.Transaction{payment(uid, "Elevate Education", -5000, time.Date(2024, time.August, 4, 12, 0, 0, 0, time.UTC))}

	got := Summarize([]ledger.RecurringBill{paid, soon, later, today}, txs, now)

	assert.Equal(t, int64(5000), got.Paid)
	assert.Equal(t, int64(10000+999+3500), got.TotalUpcoming)
	assert.Equal(t, int64(10000+3500), got.DueSoon)

	ids := func(bs []ledger.BillWithStatus) []uuid.UUID {
		out := make([]uuid.UUID, len(bs))
		for i, b := range bs {
			out[i] = b.ID
		}
		return out
	}
	sortIDs := cmpopts.SortSlices(func(a, b uuid.UUID) bool { return a.String() < b.String() })
	if diff := cmp.Diff([]uuid.UUID{paid.ID}, ids(got.PaidBills)); diff != "" {
		t.Errorf("paid (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uuid.UUID{soon.ID, later.ID, today.ID}, ids(got.UpcomingBills), sortIDs); diff != "" {
		t.Errorf("upcoming (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uuid.UUID{soon.ID, today.ID}, ids(got.DueSoonBills), sortIDs); diff != "" {
		t.Errorf("due soon (-want +got):\n%s", diff)
	}
}

func TestSummarize_EmptyListsNotNil(t *testing.T) {
	got := Summarize(nil, nil, now)
	assert.NotNil(t, got.PaidBills)
	assert.NotNil(t, got.UpcomingBills)
	assert.NotNil(t, got.DueSoonBills)
}

func setup(t *testing.T) (Service, *memory.Store, ledger.User) {
	t.Helper()
	store := memory.New()
	user := storetest.SeedUser(t, store, "bills@example.com")
	return New(store, store, WithClock(func() time.Time { return now })), store, user
}

func TestCRUDAndList(t *testing.T) {
	svc, store, user := setup(t)
	ctx := context.Background()
	for _, in := range []Input{
		{VendorName: "Serenity Spa", Amount: 3000, DueDay: 2, Category: ledger.CategoryPersonalCare, Theme: "a"},
		{VendorName: "Aqua Flow Utilities", Amount: 10000, DueDay: 19, Category: ledger.CategoryBills, Theme: "b"},
		{VendorName: "Nimbus Data Storage", Amount: 999, DueDay: 28, Category: ledger.CategoryBills, Theme: "c"},
	} {
		_, err := svc.Create(ctx, user.ID, in)
		require.NoError(t, err)
	}
	require.NoError(t, store.Apply(ctx, ledger.CreateTransaction{Transaction: payment(user.ID, "Serenity Spa", -3000, now)}))

	list, err := svc.List(ctx, user.ID, ListQuery{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 2, list[0].DueDay)
	assert.True(t, list[0].IsPaid)

	list, err = svc.List(ctx, user.ID, ListQuery{Sort: SortHighest})
	require.NoError(t, err)
	assert.Equal(t, "Aqua Flow Utilities", list[0].VendorName)

	list, err = svc.List(ctx, user.ID, ListQuery{Search: "nimbus", Sort: SortZToA})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.List(ctx, user.ID, ListQuery{Sort: "soonest"})
	assert.ErrorIs(t, err, errs.ErrInvalid)

	sum, err := svc.Summary(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), sum.Paid)

	due := 31
	got, err := svc.Update(ctx, user.ID, list[0].ID, Patch{DueDay: &due})
	require.NoError(t, err)
	assert.Equal(t, 16, got.DaysUntilDue)

	require.NoError(t, svc.Delete(ctx, user.ID, got.ID))
	_, err = svc.Get(ctx, user.ID, got.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, user := setup(t)
	for _, in := range []Input{
		{VendorName: "", Amount: 1, DueDay: 1, Category: ledger.CategoryBills, Theme: "x"},
		{VendorName: "v", Amount: 0, DueDay: 1, Category: ledger.CategoryBills, Theme: "x"},
		{VendorName: "v", Amount: 1, DueDay: 0, Category: ledger.CategoryBills, Theme: "x"},
		{VendorName: "v", Amount: 1, DueDay: 32, Category: ledger.CategoryBills, Theme: "x"},
		{VendorName: "v", Amount: 1, DueDay: 1, Category: "Rent", Theme: "x"},
	} {
		_, err := svc.Create(context.Background(), user.ID, in)
		assert.ErrorIs(t, err, errs.ErrInvalid)
	}
}
