// Package pot moves money between a user's balance and their savings pots.
//
// A pot total and Balance.current are two ends of one pool. Every transfer is
// a single atomic unit holding both relative deltas, and the sufficiency
// checks run inside that unit against the locked rows. Units always touch the
// pot row before the balance row.
package pot

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/events"
	"github.com/tinoosan/fintrack/internal/idempotency"
	"github.com/tinoosan/fintrack/internal/ledger"
)

const maxNameLen = 50

type Repo interface {
	GetPot(ctx context.Context, userID, id uuid.UUID) (ledger.Pot, error)
	ListPots(ctx context.Context, userID uuid.UUID) ([]ledger.Pot, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error)
	GetIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (ledger.IdempotencyKey, error)
}

type Writer interface {
	Apply(ctx context.Context, ops ...ledger.Op) error
}

// Input creates a pot. There is no total: new pots always start empty.
type Input struct {
	Name   string
	Target int64
	Theme  string
}

// Patch updates a pot's descriptive fields.
type Patch struct {
	Name   *string
	Target *int64
	Theme  *string
}

// Transfer is the outcome of a move between a pot and the balance.
type Transfer struct {
	Pot     ledger.PotWithProgress
	Balance ledger.Balance
}

type Service interface {
	List(ctx context.Context, userID uuid.UUID) ([]ledger.PotWithProgress, error)
	Get(ctx context.Context, userID, id uuid.UUID) (ledger.PotWithProgress, error)
	Create(ctx context.Context, userID uuid.UUID, in Input) (ledger.PotWithProgress, error)
	Update(ctx context.Context, userID, id uuid.UUID, p Patch) (ledger.PotWithProgress, error)
	// Delete removes the pot and returns whatever it still holds to the balance.
	Delete(ctx context.Context, userID, id uuid.UUID) (ledger.Balance, error)
	// AddMoney and Withdraw honour an idempotency key on ctx: a repeat of
	// the same request reports the pot and balance without moving money again.
	AddMoney(ctx context.Context, userID, id uuid.UUID, amount int64) (Transfer, error)
	Withdraw(ctx context.Context, userID, id uuid.UUID, amount int64) (Transfer, error)
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

// Progress annotates p with its percentage of target, capped at 100.
func Progress(p ledger.Pot) ledger.PotWithProgress {
	return ledger.PotWithProgress{Pot: p, Percentage: ledger.Percentage(p.Total, p.Target)}
}

func validate(p ledger.Pot) error {
	n := utf8.RuneCountInString(p.Name)
	switch {
	case p.Name == "":
		return errs.Invalid("name is required")
	case n > maxNameLen:
		return errs.Invalid("name must be at most %d characters", maxNameLen)
	case p.Target <= 0:
		return errs.Invalid("target must be greater than 0")
	case p.Target > ledger.MaxAmount:
		return errs.Invalid("target is out of range")
	case p.Theme == "":
		return errs.Invalid("theme is required")
	}
	return nil
}

func validAmount(amount int64) error {
	if amount <= 0 {
		return errs.Invalid("amount must be greater than 0")
	}
	if amount > ledger.MaxAmount {
		return errs.Invalid("amount is out of range")
	}
	return nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]ledger.PotWithProgress, error) {
	pots, err := s.repo.ListPots(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.PotWithProgress, len(pots))
	for i, p := range pots {
		out[i] = Progress(p)
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, userID, id uuid.UUID) (ledger.PotWithProgress, error) {
	p, err := s.repo.GetPot(ctx, userID, id)
	if err != nil {
		return ledger.PotWithProgress{}, err
	}
	return Progress(p), nil
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, in Input) (ledger.PotWithProgress, error) {
	now := s.now().UTC()
	p := ledger.Pot{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      strings.TrimSpace(in.Name),
		Target:    in.Target,
		Theme:     strings.TrimSpace(in.Theme),
		CreatedAt: now,
	}
	if err := validate(p); err != nil {
		return ledger.PotWithProgress{}, err
	}
	if err := s.writer.Apply(ctx, ledger.CreatePot{Pot: p}); err != nil {
		return ledger.PotWithProgress{}, err
	}
	s.publish(ctx, events.PotCreated, p, 0, now)
	return Progress(p), nil
}

func (s *service) Update(ctx context.Context, userID, id uuid.UUID, patch Patch) (ledger.PotWithProgress, error) {
	p, err := s.repo.GetPot(ctx, userID, id)
	if err != nil {
		return ledger.PotWithProgress{}, err
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Target != nil {
		p.Target = *patch.Target
	}
	if patch.Theme != nil {
		p.Theme = strings.TrimSpace(*patch.Theme)
	}
	if err := validate(p); err != nil {
		return ledger.PotWithProgress{}, err
	}
	if err := s.writer.Apply(ctx, ledger.UpdatePot{Pot: p}); err != nil {
		return ledger.PotWithProgress{}, err
	}
	// Total may have moved since the read; report the stored row.
	return s.Get(ctx, userID, id)
}

func (s *service) Delete(ctx context.Context, userID, id uuid.UUID) (ledger.Balance, error) {
	var (
		removed ledger.Pot
		now     time.Time
	)
	err := ledger.RetryStale(func() error {
		p, err := s.repo.GetPot(ctx, userID, id)
		if err != nil {
			return err
		}
		now = s.now().UTC()
		ops := []ledger.Op{ledger.DeletePot{UserID: userID, ID: id, ExpectedTotal: p.Total}}
		if p.Total > 0 {
			ops = append(ops, ledger.AdjustBalance{UserID: userID, Delta: ledger.PotWithdrawal(p.Total), At: now})
		}
		removed = p
		return s.writer.Apply(ctx, ops...)
	})
	if err != nil {
		return ledger.Balance{}, err
	}
	s.publish(ctx, events.PotDeleted, removed, removed.Total, now)
	return s.repo.GetBalance(ctx, userID)
}

// Idempotency scopes of the two transfer directions.
const (
	ScopeAdd      = "pot.add"
	ScopeWithdraw = "pot.withdraw"
)

func (s *service) AddMoney(ctx context.Context, userID, id uuid.UUID, amount int64) (Transfer, error) {
	return s.move(ctx, userID, id, amount, ScopeAdd)
}

func (s *service) Withdraw(ctx context.Context, userID, id uuid.UUID, amount int64) (Transfer, error) {
	return s.move(ctx, userID, id, amount, ScopeWithdraw)
}

func (s *service) move(ctx context.Context, userID, id uuid.UUID, amount int64, scope string) (Transfer, error) {
	if err := validAmount(amount); err != nil {
		return Transfer{}, err
	}
	guard := idempotency.Begin(ctx, s.repo, userID, scope)
	prev, replay, err := guard.Lookup(ctx)
	if err != nil {
		return Transfer{}, err
	}
	if replay {
		return s.replay(ctx, userID, id, prev)
	}
	if _, err := s.repo.GetPot(ctx, userID, id); err != nil {
		return Transfer{}, err
	}
	now := s.now().UTC()
	ops := []ledger.Op{
		ledger.AdjustPot{UserID: userID, PotID: id, Delta: amount},
		ledger.AdjustBalance{UserID: userID, Delta: ledger.PotDeposit(amount), RequireFunds: true, At: now},
	}
	typ := events.PotDeposited
	if scope == ScopeWithdraw {
		ops = []ledger.Op{
			ledger.AdjustPot{UserID: userID, PotID: id, Delta: -amount},
			ledger.AdjustBalance{UserID: userID, Delta: ledger.PotWithdrawal(amount), At: now},
		}
		typ = events.PotWithdrawn
	}
	if err := s.writer.Apply(ctx, append(ops, guard.Ops(id, now)...)...); err != nil {
		prev, raced, err := guard.Raced(ctx, err)
		if !raced {
			return Transfer{}, err
		}
		return s.replay(ctx, userID, id, prev)
	}
	return s.transferred(ctx, typ, userID, id, amount, now)
}

// replay answers a repeated keyed transfer with the pot's current state.
func (s *service) replay(ctx context.Context, userID, id, prev uuid.UUID) (Transfer, error) {
	if prev != id {
		return Transfer{}, errs.Conflict("idempotency key was already used for another pot")
	}
	p, err := s.repo.GetPot(ctx, userID, id)
	if err != nil {
		return Transfer{}, err
	}
	bal, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return Transfer{}, err
	}
	return Transfer{Pot: Progress(p), Balance: bal}, nil
}

func (s *service) transferred(ctx context.Context, typ events.Type, userID, id uuid.UUID, amount int64, at time.Time) (Transfer, error) {
	p, err := s.repo.GetPot(ctx, userID, id)
	if err != nil {
		return Transfer{}, err
	}
	bal, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return Transfer{}, err
	}
	s.publish(ctx, typ, p, amount, at)
	return Transfer{Pot: Progress(p), Balance: bal}, nil
}

func (s *service) publish(ctx context.Context, typ events.Type, p ledger.Pot, amount int64, at time.Time) {
	e := events.New(typ, p.UserID, p.ID, at)
	e.Attributes.SetInt("amount", amount).SetInt("total", p.Total)
	s.pub.Publish(ctx, e)
}
