// Package transaction owns the transaction ledger and keeps every user's
// Balance reconciled with it. Each mutation is submitted to the store as one
// atomic unit holding the row write and the matching relative balance delta.
package transaction

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/events"
	"github.com/tinoosan/fintrack/internal/idempotency"
	"github.com/tinoosan/fintrack/internal/ledger"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	maxNameLen      = 100
	maxAvatarLen    = 500
)

// Sort orders a transaction listing.
type Sort string

const (
	SortLatest  Sort = "latest"
	SortOldest  Sort = "oldest"
	SortAToZ    Sort = "atoz"
	SortZToA    Sort = "ztoa"
	SortHighest Sort = "highest"
	SortLowest  Sort = "lowest"
)

// Valid reports whether s is a known sort (empty means latest).
func (s Sort) Valid() bool {
	switch s {
	case "", SortLatest, SortOldest, SortAToZ, SortZToA, SortHighest, SortLowest:
		return true
	}
	return false
}

// Repo is the read side used by the service.
type Repo interface {
	GetTransaction(ctx context.Context, userID, id uuid.UUID) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, f ledger.TransactionFilter) ([]ledger.Transaction, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error)
	ListPots(ctx context.Context, userID uuid.UUID) ([]ledger.Pot, error)
	GetIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (ledger.IdempotencyKey, error)
}

// Writer applies atomic units.
type Writer interface {
	Apply(ctx context.Context, ops ...ledger.Op) error
}

// Input is a new transaction.
type Input struct {
	Avatar    string
	Name      string
	Category  ledger.Category
	Date      time.Time
	Amount    int64
	Recurring bool
}

// Patch holds the fields to change; nil fields are left alone.
type Patch struct {
	Avatar    *string
	Name      *string
	Category  *ledger.Category
	Date      *time.Time
	Amount    *int64
	Recurring *bool
}

// ListQuery selects one page of transactions.
type ListQuery struct {
	Page     int
	Limit    int
	Search   string
	Category ledger.Category
	Sort     Sort
}

// Page is one page of a listing.
type Page struct {
	Items      []ledger.Transaction
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// Service manages transactions and the balance derived from them.
type Service interface {
	List(ctx context.Context, userID uuid.UUID, q ListQuery) (Page, error)
	Get(ctx context.Context, userID, id uuid.UUID) (ledger.Transaction, error)
	// Create records a transaction. With an idempotency key on ctx, a repeat
	// of the same request returns the first transaction and moves no money.
	Create(ctx context.Context, userID uuid.UUID, in Input) (ledger.Transaction, error)
	Update(ctx context.Context, userID, id uuid.UUID, p Patch) (ledger.Transaction, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Balance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error)
	Reconcile(ctx context.Context, userID uuid.UUID) (ledger.Reconciliation, error)
}

type service struct {
	repo   Repo
	writer Writer
	now    func() time.Time
	pub    events.Publisher
}

// Option customises a Service.
type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option { return func(s *service) { s.pub = p } }

// New constructs a transaction service.
func New(repo Repo, writer Writer, opts ...Option) Service {
	s := &service{repo: repo, writer: writer, now: time.Now, pub: events.Nop{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate checks a transaction's fields.
func Validate(t ledger.Transaction) error {
	n := utf8.RuneCountInString(t.Name)
	switch {
	case strings.TrimSpace(t.Name) == "":
		return errs.Invalid("name is required")
	case n > maxNameLen:
		return errs.Invalid("name must be at most %d characters", maxNameLen)
	case utf8.RuneCountInString(t.Avatar) > maxAvatarLen:
		return errs.Invalid("avatar must be at most %d characters", maxAvatarLen)
	case !t.Category.Valid():
		return errs.Invalid("invalid category %q", t.Category)
	case t.Date.IsZero():
		return errs.Invalid("date is required")
	case t.Amount > ledger.MaxAmount || t.Amount < -ledger.MaxAmount:
		return errs.Invalid("amount is out of range")
	}
	return nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, q ListQuery) (Page, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	switch {
	case q.Page < 1:
		return Page{}, errs.Invalid("page must be at least 1")
	case q.Limit < 1 || q.Limit > MaxPageSize:
		return Page{}, errs.Invalid("limit must be between 1 and %d", MaxPageSize)
	case !q.Sort.Valid():
		return Page{}, errs.Invalid("invalid sort %q", q.Sort)
	case q.Category != "" && !q.Category.Valid():
		return Page{}, errs.Invalid("invalid category %q", q.Category)
	}
	items, err := s.repo.ListTransactions(ctx, userID, ledger.TransactionFilter{
		Category: q.Category,
		Search:   strings.TrimSpace(q.Search),
	})
	if err != nil {
		return Page{}, err
	}
	SortTransactions(items, q.Sort)
	total := len(items)
	from := (q.Page - 1) * q.Limit
	if from > total {
		from = total
	}
	to := from + q.Limit
	if to > total {
		to = total
	}
	return Page{
		Items:      items[from:to],
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}, nil
}

// SortTransactions orders txs in place. Ties keep newest-first order.
func SortTransactions(txs []ledger.Transaction, by Sort) {
	var less func(a, b ledger.Transaction) bool
	switch by {
	case SortOldest:
		less = func(a, b ledger.Transaction) bool { return a.Date.Before(b.Date) }
	case SortAToZ:
		less = func(a, b ledger.Transaction) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case SortZToA:
		less = func(a, b ledger.Transaction) bool { return strings.ToLower(a.Name) > strings.ToLower(b.Name) }
	case SortHighest:
		less = func(a, b ledger.Transaction) bool { return a.Amount > b.Amount }
	case SortLowest:
		less = func(a, b ledger.Transaction) bool { return a.Amount < b.Amount }
	default:
		less = func(a, b ledger.Transaction) bool { return a.Date.After(b.Date) }
	}
	sort.SliceStable(txs, func(i, j int) bool { return less(txs[i], txs[j]) })
}

func (s *service) Get(ctx context.Context, userID, id uuid.UUID) (ledger.Transaction, error) {
	return s.repo.GetTransaction(ctx, userID, id)
}

// ScopeCreate is the idempotency scope of Create.
const ScopeCreate = "transaction.create"

func (s *service) Create(ctx context.Context, userID uuid.UUID, in Input) (ledger.Transaction, error) {
	guard := idempotency.Begin(ctx, s.repo, userID, ScopeCreate)
	id, replay, err := guard.Lookup(ctx)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if replay {
		return s.repo.GetTransaction(ctx, userID, id)
	}
	now := s.now().UTC()
	t := ledger.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Avatar:    strings.TrimSpace(in.Avatar),
		Name:      strings.TrimSpace(in.Name),
		Category:  in.Category,
		Date:      in.Date.UTC(),
		Amount:    in.Amount,
		Recurring: in.Recurring,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := Validate(t); err != nil {
		return ledger.Transaction{}, err
	}
	ops := append([]ledger.Op{
		ledger.CreateTransaction{Transaction: t},
		ledger.AdjustBalance{UserID: userID, Delta: ledger.OnCreate(t.Amount), At: now},
	}, guard.Ops(t.ID, now)...)
	if err := s.writer.Apply(ctx, ops...); err != nil {
		id, ok, err := guard.Raced(ctx, err)
		if !ok {
			return ledger.Transaction{}, err
		}
		return s.repo.GetTransaction(ctx, userID, id)
	}
	s.publish(ctx, events.TransactionCreated, t, now)
	return t, nil
}

func (s *service) Update(ctx context.Context, userID, id uuid.UUID, p Patch) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := ledger.RetryStale(func() error {
		old, err := s.repo.GetTransaction(ctx, userID, id)
		if err != nil {
			return err
		}
		next := applyPatch(old, p)
		if err := Validate(next); err != nil {
			return err
		}
		now := s.now().UTC()
		next.UpdatedAt = now
		ops := []ledger.Op{ledger.UpdateTransaction{Transaction: next, ExpectedAmount: old.Amount}}
		if d := ledger.OnUpdate(old.Amount, next.Amount); !d.IsZero() {
			ops = append(ops, ledger.AdjustBalance{UserID: userID, Delta: d, At: now})
		}
		if err := s.writer.Apply(ctx, ops...); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.publish(ctx, events.TransactionUpdated, out, out.UpdatedAt)
	return out, nil
}

func applyPatch(t ledger.Transaction, p Patch) ledger.Transaction {
	if p.Avatar != nil {
		t.Avatar = strings.TrimSpace(*p.Avatar)
	}
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Date != nil {
		t.Date = p.Date.UTC()
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Recurring != nil {
		t.Recurring = *p.Recurring
	}
	return t
}

func (s *service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	var (
		removed ledger.Transaction
		now     time.Time
	)
	err := ledger.RetryStale(func() error {
		old, err := s.repo.GetTransaction(ctx, userID, id)
		if err != nil {
			return err
		}
		now = s.now().UTC()
		err = s.writer.Apply(ctx,
			ledger.DeleteTransaction{UserID: userID, ID: id, ExpectedAmount: old.Amount},
			ledger.AdjustBalance{UserID: userID, Delta: ledger.OnDelete(old.Amount), At: now},
		)
		removed = old
		return err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.TransactionDeleted, removed, now)
	return nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

func (s *service) Reconcile(ctx context.Context, userID uuid.UUID) (ledger.Reconciliation, error) {
	bal, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return ledger.Reconciliation{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, userID, ledger.TransactionFilter{})
	if err != nil {
		return ledger.Reconciliation{}, err
	}
	pots, err := s.repo.ListPots(ctx, userID)
	if err != nil {
		return ledger.Reconciliation{}, err
	}
	return ledger.Reconcile(bal, txs, pots), nil
}

func (s *service) publish(ctx context.Context, typ events.Type, t ledger.Transaction, at time.Time) {
	e := events.New(typ, t.UserID, t.ID, at)
	e.Attributes.SetInt("amount", t.Amount).Set("category", string(t.Category))
	s.pub.Publish(ctx, e)
}
