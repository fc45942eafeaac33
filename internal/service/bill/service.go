// Package bill manages recurring bills and infers their payment state.
// Nothing about payment is stored: a bill is paid for the month when a
// transaction with the vendor's name and the negated amount falls inside it.
package bill

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/calendar"
	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/events"
	"github.com/tinoosan/fintrack/internal/ledger"
)

// DueSoonDays is the horizon within which an unpaid bill counts as due soon.
const DueSoonDays = 5

const (
	maxVendorLen = 100
	maxAvatarLen = 500
)

type Sort string

const (
	SortLatest  Sort = "latest"
	SortOldest  Sort = "oldest"
	SortAToZ    Sort = "atoz"
	SortZToA    Sort = "ztoa"
	SortHighest Sort = "highest"
	SortLowest  Sort = "lowest"
)

func (s Sort) Valid() bool {
	switch s {
	case "", SortLatest, SortOldest, SortAToZ, SortZToA, SortHighest, SortLowest:
		return true
	}
	return false
}

type Repo interface {
	GetBill(ctx context.Context, userID, id uuid.UUID) (ledger.RecurringBill, error)
	ListBills(ctx context.Context, userID uuid.UUID) ([]ledger.RecurringBill, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, f ledger.TransactionFilter) ([]ledger.Transaction, error)
}

type Writer interface {
	Apply(ctx context.Context, ops ...ledger.Op) error
}

type Input struct {
	VendorName string
	Avatar     string
	Amount     int64
	DueDay     int
	Category   ledger.Category
	Theme      string
}

type Patch struct {
	VendorName *string
	Avatar     *string
	Amount     *int64
	DueDay     *int
	Category   *ledger.Category
	Theme      *string
}

type ListQuery struct {
	Search string
	Sort   Sort
}

type Service interface {
	List(ctx context.Context, userID uuid.UUID, q ListQuery) ([]ledger.BillWithStatus, error)
	Summary(ctx context.Context, userID uuid.UUID) (ledger.BillsSummary, error)
	Get(ctx context.Context, userID, id uuid.UUID) (ledger.BillWithStatus, error)
	Create(ctx context.Context, userID uuid.UUID, in Input) (ledger.BillWithStatus, error)
	Update(ctx context.Context, userID, id uuid.UUID, p Patch) (ledger.BillWithStatus, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

type service struct {
	repo   Repo
	writer Writer
	now    func() time.Time
	pub    events.Publisher
}

type Option func(*service)

func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

func WithPublisher(p events.Publisher) Option { return func(s *service) { s.pub = p } }

func New(repo Repo, writer Writer, opts ...Option) Service {
	s := &service{repo: repo, writer: writer, now: time.Now, pub: events.Nop{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IsPaid reports whether txs hold a payment of b inside now's calendar month.
// The match is by exact vendor name and negated amount only, so an unrelated
// transaction with the same name and amount also counts.
func IsPaid(b ledger.RecurringBill, txs []ledger.Transaction, now time.Time) bool {
	start, end := calendar.MonthBounds(now)
	for _, t := range txs {
		if t.UserID != b.UserID || t.Name != b.VendorName || t.Amount != -b.Amount {
			continue
		}
		if !t.Date.Before(start) && !t.Date.After(end) {
			return true
		}
	}
	return false
}

// Status derives the payment state of b as of now.
func Status(b ledger.RecurringBill, txs []ledger.Transaction, now time.Time) ledger.BillWithStatus {
	return ledger.BillWithStatus{
		RecurringBill: b,
		IsPaid:        IsPaid(b, txs, now),
		DaysUntilDue:  calendar.DaysUntilDue(b.DueDay, now),
	}
}

// Summarize partitions bills into paid and upcoming. Unpaid bills due within
// DueSoonDays are listed again under due soon.
func Summarize(bills []ledger.RecurringBill, txs []ledger.Transaction, now time.Time) ledger.BillsSummary {
	sum := ledger.BillsSummary{
		PaidBills:     []ledger.BillWithStatus{},
		UpcomingBills: []ledger.BillWithStatus{},
		DueSoonBills:  []ledger.BillWithStatus{},
	}
	for _, b := range bills {
		st := Status(b, txs, now)
		if st.IsPaid {
			sum.Paid += b.Amount
			sum.PaidBills = append(sum.PaidBills, st)
			continue
		}
		sum.TotalUpcoming += b.Amount
		sum.UpcomingBills = append(sum.UpcomingBills, st)
		if st.DaysUntilDue <= DueSoonDays {
			sum.DueSoon += b.Amount
			sum.DueSoonBills = append(sum.DueSoonBills, st)
		}
	}
	return sum
}

// SortBills orders bills in place. Ties keep due-day order.
func SortBills(bills []ledger.BillWithStatus, by Sort) {
	var less func(a, b ledger.BillWithStatus) bool
	switch by {
	case SortOldest:
		less = func(a, b ledger.BillWithStatus) bool { return a.DueDay > b.DueDay }
	case SortAToZ:
		less = func(a, b ledger.BillWithStatus) bool { return strings.ToLower(a.VendorName) < strings.ToLower(b.VendorName) }
	case SortZToA:
		less = func(a, b ledger.BillWithStatus) bool { return strings.ToLower(a.VendorName) > strings.ToLower(b.VendorName) }
	case SortHighest:
		less = func(a, b ledger.BillWithStatus) bool { return a.Amount > b.Amount }
	case SortLowest:
		less = func(a, b ledger.BillWithStatus) bool { return a.Amount < b.Amount }
	default:
		less = func(a, b ledger.BillWithStatus) bool { return a.DueDay < b.DueDay }
	}
	sort.SliceStable(bills, func(i, j int) bool { return less(bills[i], bills[j]) })
}

func validate(b ledger.RecurringBill) error {
	switch {
	case b.VendorName == "":
		return errs.Invalid("vendor_name is required")
	case utf8.RuneCountInString(b.VendorName) > maxVendorLen:
		return errs.Invalid("vendor_name must be at most %d characters", maxVendorLen)
	case utf8.RuneCountInString(b.Avatar) > maxAvatarLen:
		return errs.Invalid("avatar must be at most %d characters", maxAvatarLen)
	case b.Amount <= 0:
		return errs.Invalid("amount must be greater than 0")
	case b.Amount > ledger.MaxAmount:
		return errs.Invalid("amount is out of range")
	case b.DueDay < 1 || b.DueDay > 31:
		return errs.Invalid("due_day must be between 1 and 31")
	case !b.Category.Valid():
		return errs.Invalid("invalid category %q", b.Category)
	case b.Theme == "":
		return errs.Invalid("theme is required")
	}
	return nil
}

func (s *service) monthTransactions(ctx context.Context, userID uuid.UUID, now time.Time) ([]ledger.Transaction, error) {
	start, end := calendar.MonthBounds(now)
	return s.repo.ListTransactions(ctx, userID, ledger.TransactionFilter{From: start, To: end})
}

func (s *service) List(ctx context.Context, userID uuid.UUID, q ListQuery) ([]ledger.BillWithStatus, error) {
	if !q.Sort.Valid() {
		return nil, errs.Invalid("invalid sort %q", q.Sort)
	}
	now := s.now()
	bills, err := s.repo.ListBills(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.monthTransactions(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]ledger.BillWithStatus, 0, len(bills))
	for _, b := range bills {
		if needle != "" && !strings.Contains(strings.ToLower(b.VendorName), needle) {
			continue
		}
		out = append(out, Status(b, txs, now))
	}
	SortBills(out, q.Sort)
	return out, nil
}

func (s *service) Summary(ctx context.Context, userID uuid.UUID) (ledger.BillsSummary, error) {
	now := s.now()
	bills, err := s.repo.ListBills(ctx, userID)
	if err != nil {
		return ledger.BillsSummary{}, err
	}
	txs, err := s.monthTransactions(ctx, userID, now)
	if err != nil {
		return ledger.BillsSummary{}, err
	}
	return Summarize(bills, txs, now), nil
}

func (s *service) Get(ctx context.Context, userID, id uuid.UUID) (ledger.BillWithStatus, error) {
	b, err := s.repo.GetBill(ctx, userID, id)
	if err != nil {
		return ledger.BillWithStatus{}, err
	}
	return s.withStatus(ctx, b)
}

func (s *service) withStatus(ctx context.Context, b ledger.RecurringBill) (ledger.BillWithStatus, error) {
	now := s.now()
	txs, err := s.monthTransactions(ctx, b.UserID, now)
	if err != nil {
		return ledger.BillWithStatus{}, err
	}
	return Status(b, txs, now), nil
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, in Input) (ledger.BillWithStatus, error) {
	now := s.now().UTC()
	b := ledger.RecurringBill{
		ID:         uuid.New(),
		UserID:     userID,
		VendorName: strings.TrimSpace(in.VendorName),
		Avatar:     strings.TrimSpace(in.Avatar),
		Amount:     in.Amount,
		DueDay:     in.DueDay,
		Category:   in.Category,
		Theme:      strings.TrimSpace(in.Theme),
		CreatedAt:  now,
	}
	if err := validate(b); err != nil {
		return ledger.BillWithStatus{}, err
	}
	if err := s.writer.Apply(ctx, ledger.CreateBill{Bill: b}); err != nil {
		return ledger.BillWithStatus{}, err
	}
	s.publish(ctx, events.BillCreated, b, now)
	return s.withStatus(ctx, b)
}

func (s *service) Update(ctx context.Context, userID, id uuid.UUID, p Patch) (ledger.BillWithStatus, error) {
	b, err := s.repo.GetBill(ctx, userID, id)
	if err != nil {
		return ledger.BillWithStatus{}, err
	}
	if p.VendorName != nil {
		b.VendorName = strings.TrimSpace(*p.VendorName)
	}
	if p.Avatar != nil {
		b.Avatar = strings.TrimSpace(*p.Avatar)
	}
	if p.Amount != nil {
		b.Amount = *p.Amount
	}
	if p.DueDay != nil {
		b.DueDay = *p.DueDay
	}
	if p.Category != nil {
		b.Category = *p.Category
	}
	if p.Theme != nil {
		b.Theme = strings.TrimSpace(*p.Theme)
	}
	if err := validate(b); err != nil {
		return ledger.BillWithStatus{}, err
	}
	if err := s.writer.Apply(ctx, ledger.UpdateBill{Bill: b}); err != nil {
		return ledger.BillWithStatus{}, err
	}
	s.publish(ctx, events.BillUpdated, b, s.now().UTC())
	return s.withStatus(ctx, b)
}

func (s *service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	b, err := s.repo.GetBill(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.writer.Apply(ctx, ledger.DeleteBill{UserID: userID, ID: id}); err != nil {
		return err
	}
	s.publish(ctx, events.BillDeleted, b, s.now().UTC())
	return nil
}

func (s *service) publish(ctx context.Context, typ events.Type, b ledger.RecurringBill, at time.Time) {
	e := events.New(typ, b.UserID, b.ID, at)
	e.Attributes.Set("vendor", b.VendorName).SetInt("amount", b.Amount).SetInt("due_day", int64(b.DueDay))
	s.pub.Publish(ctx, e)
}
