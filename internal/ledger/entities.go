package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies a transaction, budget or recurring bill.
type Category string

const (
	CategoryEntertainment  Category = "Entertainment"
	CategoryBills          Category = "Bills"
	CategoryGroceries      Category = "Groceries"
	CategoryDiningOut      Category = "DiningOut"
	CategoryTransportation Category = "Transportation"
	CategoryPersonalCare   Category = "PersonalCare"
	CategoryEducation      Category = "Education"
	CategoryLifestyle      Category = "Lifestyle"
	CategoryShopping       Category = "Shopping"
	CategoryGeneral        Category = "General"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryEntertainment,
	CategoryBills,
	CategoryGroceries,
	CategoryDiningOut,
	CategoryTransportation,
	CategoryPersonalCare,
	CategoryEducation,
	CategoryLifestyle,
	CategoryShopping,
	CategoryGeneral,
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// User is the owner of every other entity. PasswordHash never leaves the service layer.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         *string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Balance is the per-user aggregate. All amounts are minor units.
//
// Current is the net of every transaction minus money held in pots.
// Income and Expenses are the positive and negative transaction sums;
// Expenses is kept as a magnitude.
type Balance struct {
	UserID    uuid.UUID
	Current   int64
	Income    int64
	Expenses  int64
	UpdatedAt time.Time
}

// Transaction is a signed ledger row: positive amounts are income, negative are expenses.
type Transaction struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Avatar    string
	Name      string
	Category  Category
	Date      time.Time
	Amount    int64
	Recurring bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Budget caps monthly spending for one category. Unique per (user, category).
type Budget struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Category  Category
	Maximum   int64
	Theme     string
	CreatedAt time.Time
}

// Pot is a savings sub-allocation. Total only changes through transfers.
type Pot struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Target    int64
	Total     int64
	Theme     string
	CreatedAt time.Time
}

// RecurringBill is a monthly obligation. Amount is a positive magnitude and
// DueDay is a day of month in 1..31.
type RecurringBill struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	VendorName string
	Avatar     string
	Amount     int64
	DueDay     int
	Category   Category
	Theme      string
	CreatedAt  time.Time
}

// Session backs one refresh token. Token is globally unique.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool { return !s.ExpiresAt.After(now) }

// IdempotencyKey records that a client-supplied key produced ResourceID.
// Keys are unique per user. RequestHash and Scope pin the key to the request
// that first used it.
type IdempotencyKey struct {
	UserID      uuid.UUID
	Key         string
	Scope       string
	RequestHash string
	ResourceID  uuid.UUID
	CreatedAt   time.Time
}
