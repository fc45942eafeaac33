// Package budget derives monthly spending per budget category. Spending is
// never stored; it is recomputed from the transaction set at read time.
package budget

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/calendar"
	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/events"
	"github.com/tinoosan/fintrack/internal/ledger"
)

// LatestLimit is how many recent transactions back a budget card.
const LatestLimit = 3

var errDuplicate = errs.Conflict("a budget for this category already exists")

type Repo interface {
	GetBudget(ctx context.Context, userID, id uuid.UUID) (ledger.Budget, error)
	ListBudgets(ctx context.Context, userID uuid.UUID) ([]ledger.Budget, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, f ledger.TransactionFilter) ([]ledger.Transaction, error)
}

type Writer interface {
	Apply(ctx context.Context, ops ...ledger.Op) error
}

// Input creates a budget.
type Input struct {
	Category ledger.Category
	Maximum  int64
	Theme    string
}

// Patch updates a budget; nil fields are kept.
type Patch struct {
	Category *ledger.Category
	Maximum  *int64
	Theme    *string
}

type Service interface {
	List(ctx context.Context, userID uuid.UUID) ([]ledger.BudgetWithSpending, error)
	Get(ctx context.Context, userID, id uuid.UUID) (ledger.BudgetWithSpending, error)
	Create(ctx context.Context, userID uuid.UUID, in Input) (ledger.Budget, error)
	Update(ctx context.Context, userID, id uuid.UUID, p Patch) (ledger.Budget, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Latest(ctx context.Context, userID uuid.UUID, c ledger.Category) ([]ledger.Transaction, error)
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

// Spent sums the magnitude of b's category outflows dated within [start, end].
func Spent(b ledger.Budget, txs []ledger.Transaction, start, end time.Time) int64 {
	var spent int64
	for _, t := range txs {
		if t.UserID != b.UserID || t.Category != b.Category || t.Amount >= 0 {
			continue
		}
		if t.Date.Before(start) || t.Date.After(end) {
			continue
		}
		spent -= t.Amount
	}
	return spent
}

// Aggregate annotates budgets with spending for now's calendar month.
func Aggregate(budgets []ledger.Budget, txs []ledger.Transaction, now time.Time) []ledger.BudgetWithSpending {
	start, end := calendar.MonthBounds(now)
	out := make([]ledger.BudgetWithSpending, 0, len(budgets))
	for _, b := range budgets {
		spent := Spent(b, txs, start, end)
		out = append(out, ledger.BudgetWithSpending{
			Budget:     b,
			Spent:      spent,
			Remaining:  b.Maximum - spent,
			Percentage: ledger.Percentage(spent, b.Maximum),
		})
	}
	return out
}

func validate(b ledger.Budget) error {
	switch {
	case !b.Category.Valid():
		return errs.Invalid("invalid category %q", b.Category)
	case b.Maximum <= 0:
		return errs.Invalid("maximum must be greater than 0")
	case b.Maximum > ledger.MaxAmount:
		return errs.Invalid("maximum is out of range")
	case b.Theme == "":
		return errs.Invalid("theme is required")
	}
	return nil
}

func (s *service) monthTransactions(ctx context.Context, userID uuid.UUID) ([]ledger.Transaction, error) {
	start, end := calendar.MonthBounds(s.now())
	return s.repo.ListTransactions(ctx, userID, ledger.TransactionFilter{From: start, To: end})
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]ledger.BudgetWithSpending, error) {
	budgets, err := s.repo.ListBudgets(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.monthTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Aggregate(budgets, txs, s.now()), nil
}

func (s *service) Get(ctx context.Context, userID, id uuid.UUID) (ledger.BudgetWithSpending, error) {
	b, err := s.repo.GetBudget(ctx, userID, id)
	if err != nil {
		return ledger.BudgetWithSpending{}, err
	}
	txs, err := s.monthTransactions(ctx, userID)
	if err != nil {
		return ledger.BudgetWithSpending{}, err
	}
	return Aggregate([]ledger.Budget{b}, txs, s.now())[0], nil
}

func (s *service) categoryTaken(ctx context.Context, userID uuid.UUID, c ledger.Category, except uuid.UUID) (bool, error) {
	budgets, err := s.repo.ListBudgets(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, b := range budgets {
		if b.Category == c && b.ID != except {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, in Input) (ledger.Budget, error) {
	now := s.now().UTC()
	b := ledger.Budget{ID: uuid.New(), UserID: userID, Category: in.Category, Maximum: in.Maximum, Theme: strings.TrimSpace(in.Theme), CreatedAt: now}
	if err := validate(b); err != nil {
		return ledger.Budget{}, err
	}
	taken, err := s.categoryTaken(ctx, userID, b.Category, uuid.Nil)
	if err != nil {
		return ledger.Budget{}, err
	}
	if taken {
		return ledger.Budget{}, errDuplicate
	}
	// The store's unique key still decides a race between two creates.
	if err := s.writer.Apply(ctx, ledger.CreateBudget{Budget: b}); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return ledger.Budget{}, errDuplicate
		}
		return ledger.Budget{}, err
	}
	s.publish(ctx, events.BudgetCreated, b, now)
	return b, nil
}

func (s *service) Update(ctx context.Context, userID, id uuid.UUID, p Patch) (ledger.Budget, error) {
	b, err := s.repo.GetBudget(ctx, userID, id)
	if err != nil {
		return ledger.Budget{}, err
	}
	if p.Category != nil && *p.Category != b.Category {
		taken, err := s.categoryTaken(ctx, userID, *p.Category, id)
		if err != nil {
			return ledger.Budget{}, err
		}
		if taken {
			return ledger.Budget{}, errDuplicate
		}
		b.Category = *p.Category
	}
	if p.Maximum != nil {
		b.Maximum = *p.Maximum
	}
	if p.Theme != nil {
		b.Theme = strings.TrimSpace(*p.Theme)
	}
	if err := validate(b); err != nil {
		return ledger.Budget{}, err
	}
	if err := s.writer.Apply(ctx, ledger.UpdateBudget{Budget: b}); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return ledger.Budget{}, errDuplicate
		}
		return ledger.Budget{}, err
	}
	s.publish(ctx, events.BudgetUpdated, b, s.now().UTC())
	return b, nil
}

func (s *service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	b, err := s.repo.GetBudget(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.writer.Apply(ctx, ledger.DeleteBudget{UserID: userID, ID: id}); err != nil {
		return err
	}
	s.publish(ctx, events.BudgetDeleted, b, s.now().UTC())
	return nil
}

func (s *service) Latest(ctx context.Context, userID uuid.UUID, c ledger.Category) ([]ledger.Transaction, error) {
	if !c.Valid() {
		return nil, errs.Invalid("invalid category %q", c)
	}
	txs, err := s.repo.ListTransactions(ctx, userID, ledger.TransactionFilter{Category: c})
	if err != nil {
		return nil, err
	}
	if len(txs) > LatestLimit {
		txs = txs[:LatestLimit]
	}
	return txs, nil
}

func (s *service) publish(ctx context.Context, typ events.Type, b ledger.Budget, at time.Time) {
	e := events.New(typ, b.UserID, b.ID, at)
	e.Attributes.Set("category", string(b.Category)).SetInt("maximum", b.Maximum)
	s.pub.Publish(ctx, e)
}
