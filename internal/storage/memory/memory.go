// Package memory provides an in-memory ledger store used for development and tests.
// A single RWMutex guards every map; Apply holds the write lock for the whole
// unit and undoes already-applied ops when a later one fails.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]ledger.User
	emails   map[string]uuid.UUID
	sessions map[string]ledger.Session
	balances map[uuid.UUID]ledger.Balance
	txs      map[uuid.UUID]ledger.Transaction
	budgets  map[uuid.UUID]ledger.Budget
	pots     map[uuid.UUID]ledger.Pot
	bills    map[uuid.UUID]ledger.RecurringBill
	idem     map[idemKey]ledger.IdempotencyKey
}

type idemKey struct {
	userID uuid.UUID
	key    string
}

// New constructs an empty in-memory store.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

// Reset drops all data.
func (s *Store) Reset() {
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
}

func (s *Store) reset() {
	s.users = map[uuid.UUID]ledger.User{}
	s.emails = map[string]uuid.UUID{}
	s.sessions = map[string]ledger.Session{}
	s.balances = map[uuid.UUID]ledger.Balance{}
	s.txs = map[uuid.UUID]ledger.Transaction{}
	s.budgets = map[uuid.UUID]ledger.Budget{}
	s.pots = map[uuid.UUID]ledger.Pot{}
	s.bills = map[uuid.UUID]ledger.RecurringBill{}
	s.idem = map[idemKey]ledger.IdempotencyKey{}
}

func (s *Store) Ready(context.Context) error { return nil }
func (s *Store) Close() error                { return nil }

// --- reads ---

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return ledger.User{}, errs.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return ledger.User{}, errs.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetSession(_ context.Context, token string) (ledger.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return ledger.Session{}, errs.ErrNotFound
	}
	return sess, nil
}

func (s *Store) PurgeExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for tok, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, tok)
			n++
		}
	}
	return n, nil
}

func (s *Store) GetBalance(_ context.Context, userID uuid.UUID) (ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return ledger.Balance{}, errs.ErrNotFound
	}
	if b, ok := s.balances[userID]; ok {
		return b, nil
	}
	return ledger.Balance{UserID: userID, UpdatedAt: u.CreatedAt.UTC()}, nil
}

func (s *Store) GetTransaction(_ context.Context, userID, id uuid.UUID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[id]
	if !ok || t.UserID != userID {
		return ledger.Transaction{}, errs.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTransactions(_ context.Context, userID uuid.UUID, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Transaction, 0)
	for _, t := range s.txs {
		if t.UserID == userID && f.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) GetBudget(_ context.Context, userID, id uuid.UUID) (ledger.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.budgets[id]
	if !ok || b.UserID != userID {
		return ledger.Budget{}, errs.ErrNotFound
	}
	return b, nil
}

func (s *Store) ListBudgets(_ context.Context, userID uuid.UUID) ([]ledger.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Budget, 0)
	for _, b := range s.budgets {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) GetPot(_ context.Context, userID, id uuid.UUID) (ledger.Pot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pots[id]
	if !ok || p.UserID != userID {
		return ledger.Pot{}, errs.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPots(_ context.Context, userID uuid.UUID) ([]ledger.Pot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Pot, 0)
	for _, p := range s.pots {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) GetBill(_ context.Context, userID, id uuid.UUID) (ledger.RecurringBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bills[id]
	if !ok || b.UserID != userID {
		return ledger.RecurringBill{}, errs.ErrNotFound
	}
	return b, nil
}

func (s *Store) ListBills(_ context.Context, userID uuid.UUID) ([]ledger.RecurringBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.RecurringBill, 0)
	for _, b := range s.bills {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDay != out[j].DueDay {
			return out[i].DueDay < out[j].DueDay
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) GetIdempotencyKey(_ context.Context, userID uuid.UUID, key string) (ledger.IdempotencyKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.idem[idemKey{userID, key}]
	if !ok {
		return ledger.IdempotencyKey{}, errs.ErrNotFound
	}
	return k, nil
}

func newerFirst(a, b time.Time, ida, idb uuid.UUID) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return ida.String() < idb.String()
}

// --- writes ---

// Apply runs ops in order under the write lock. The first failing op undoes
// everything applied before it and its error is returned.
func (s *Store) Apply(ctx context.Context, ops ...ledger.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	undo := make([]func(), 0, len(ops))
	for _, op := range ops {
		u, err := s.apply(op)
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
			return err
		}
		undo = append(undo, u)
	}
	return nil
}

func (s *Store) apply(op ledger.Op) (func(), error) {
	switch o := op.(type) {
	case ledger.CreateUser:
		if _, ok := s.emails[o.User.Email]; ok {
			return nil, errs.ErrConflict
		}
		if _, ok := s.users[o.User.ID]; ok {
			return nil, errs.ErrConflict
		}
		s.users[o.User.ID] = o.User
		s.emails[o.User.Email] = o.User.ID
		return func() { delete(s.users, o.User.ID); delete(s.emails, o.User.Email) }, nil

	case ledger.UpdatePassword:
		u, ok := s.users[o.UserID]
		if !ok {
			return nil, errs.ErrNotFound
		}
		prev := u
		u.PasswordHash, u.UpdatedAt = o.PasswordHash, o.At
		s.users[o.UserID] = u
		return func() { s.users[o.UserID] = prev }, nil

	case ledger.CreateBalance:
		if _, ok := s.balances[o.UserID]; ok {
			return func() {}, nil
		}
		if _, ok := s.users[o.UserID]; !ok {
			return nil, errs.ErrNotFound
		}
		s.balances[o.UserID] = ledger.Balance{UserID: o.UserID, UpdatedAt: o.At}
		return func() { delete(s.balances, o.UserID) }, nil

	case ledger.AdjustBalance:
		if _, ok := s.users[o.UserID]; !ok {
			return nil, errs.ErrNotFound
		}
		prev, existed := s.balances[o.UserID]
		cur := prev
		if !existed {
			cur = ledger.Balance{UserID: o.UserID}
		}
		next := cur.Apply(o.Delta)
		if o.RequireFunds && next.Current < 0 {
			return nil, errs.ErrInsufficientFunds
		}
		next.UpdatedAt = o.At
		s.balances[o.UserID] = next
		return func() {
			if existed {
				s.balances[o.UserID] = prev
			} else {
				delete(s.balances, o.UserID)
			}
		}, nil

	case ledger.CreateSession:
		if _, ok := s.sessions[o.Session.Token]; ok {
			return nil, errs.ErrConflict
		}
		if _, ok := s.users[o.Session.UserID]; !ok {
			return nil, errs.ErrNotFound
		}
		s.sessions[o.Session.Token] = o.Session
		return func() { delete(s.sessions, o.Session.Token) }, nil

	case ledger.RotateSession:
		prev, ok := s.sessions[o.OldToken]
		if !ok || prev.UserID != o.UserID {
			return nil, errs.ErrNotFound
		}
		if _, taken := s.sessions[o.Next.Token]; taken {
			return nil, errs.ErrConflict
		}
		next := prev
		next.Token, next.ExpiresAt = o.Next.Token, o.Next.ExpiresAt
		delete(s.sessions, o.OldToken)
		s.sessions[next.Token] = next
		return func() { delete(s.sessions, next.Token); s.sessions[o.OldToken] = prev }, nil

	case ledger.DeleteSession:
		prev, ok := s.sessions[o.Token]
		if !ok {
			return func() {}, nil
		}
		delete(s.sessions, o.Token)
		return func() { s.sessions[o.Token] = prev }, nil

	case ledger.DeleteUserSessions:
		removed := map[string]ledger.Session{}
		for tok, sess := range s.sessions {
			if sess.UserID == o.UserID {
				removed[tok] = sess
				delete(s.sessions, tok)
			}
		}
		return func() {
			for tok, sess := range removed {
				s.sessions[tok] = sess
			}
		}, nil

	case ledger.CreateTransaction:
		t := o.Transaction
		if _, ok := s.users[t.UserID]; !ok {
			return nil, errs.ErrNotFound
		}
		if _, ok := s.txs[t.ID]; ok {
			return nil, errs.ErrConflict
		}
		s.txs[t.ID] = t
		return func() { delete(s.txs, t.ID) }, nil

	case ledger.UpdateTransaction:
		t := o.Transaction
		prev, ok := s.txs[t.ID]
		if !ok || prev.UserID != t.UserID {
			return nil, errs.ErrNotFound
		}
		if prev.Amount != o.ExpectedAmount {
			return nil, errs.ErrStale
		}
		t.CreatedAt = prev.CreatedAt
		s.txs[t.ID] = t
		return func() { s.txs[t.ID] = prev }, nil

	case ledger.DeleteTransaction:
		prev, ok := s.txs[o.ID]
		if !ok || prev.UserID != o.UserID {
			return nil, errs.ErrNotFound
		}
		if prev.Amount != o.ExpectedAmount {
			return nil, errs.ErrStale
		}
		delete(s.txs, o.ID)
		return func() { s.txs[o.ID] = prev }, nil

	case ledger.CreateBudget:
		b := o.Budget
		if _, ok := s.users[b.UserID]; !ok {
			return nil, errs.ErrNotFound
		}
		if s.budgetCategoryTaken(b.UserID, b.Category, b.ID) {
			return nil, errs.ErrConflict
		}
		s.budgets[b.ID] = b
		return func() { delete(s.budgets, b.ID) }, nil

	case ledger.UpdateBudget:
		b := o.Budget
		prev, ok := s.budgets[b.ID]
		if !ok || prev.UserID != b.UserID {
			return nil, errs.ErrNotFound
		}
		if s.budgetCategoryTaken(b.UserID, b.Category, b.ID) {
			return nil, errs.ErrConflict
		}
		b.CreatedAt = prev.CreatedAt
		s.budgets[b.ID] = b
		return func() { s.budgets[b.ID] = prev }, nil

	case ledger.DeleteBudget:
		prev, ok := s.budgets[o.ID]
		if !ok || prev.UserID != o.UserID {
			return nil, errs.ErrNotFound
		}
		delete(s.budgets, o.ID)
		return func() { s.budgets[o.ID] = prev }, nil

	case ledger.CreatePot:
		p := o.Pot
		if _, ok := s.users[p.UserID]; !ok {
			return nil, errs.ErrNotFound
		}
		if p.Total < 0 {
			return nil, errs.ErrInsufficientFunds
		}
		s.pots[p.ID] = p
		return func() { delete(s.pots, p.ID) }, nil

	case ledger.UpdatePot:
		prev, ok := s.pots[o.Pot.ID]
		if !ok || prev.UserID != o.Pot.UserID {
			return nil, errs.ErrNotFound
		}
		next := prev
		next.Name, next.Target, next.Theme = o.Pot.Name, o.Pot.Target, o.Pot.Theme
		s.pots[next.ID] = next
		return func() { s.pots[prev.ID] = prev }, nil

	case ledger.DeletePot:
		prev, ok := s.pots[o.ID]
		if !ok || prev.UserID != o.UserID {
			return nil, errs.ErrNotFound
		}
		if prev.Total != o.ExpectedTotal {
			return nil, errs.ErrStale
		}
		delete(s.pots, o.ID)
		return func() { s.pots[o.ID] = prev }, nil

	case ledger.AdjustPot:
		prev, ok := s.pots[o.PotID]
		if !ok || prev.UserID != o.UserID {
			return nil, errs.ErrNotFound
		}
		if prev.Total+o.Delta < 0 {
			return nil, errs.ErrInsufficientFunds
		}
		next := prev
		next.Total += o.Delta
		s.pots[next.ID] = next
		return func() { s.pots[prev.ID] = prev }, nil

	case ledger.CreateBill:
		b := o.Bill
		if _, ok := s.users[b.UserID]; !ok {
			return nil, errs.ErrNotFound
		}
		s.bills[b.ID] = b
		return func() { delete(s.bills, b.ID) }, nil

	case ledger.UpdateBill:
		b := o.Bill
		prev, ok := s.bills[b.ID]
		if !ok || prev.UserID != b.UserID {
			return nil, errs.ErrNotFound
		}
		b.CreatedAt = prev.CreatedAt
		s.bills[b.ID] = b
		return func() { s.bills[b.ID] = prev }, nil

	case ledger.DeleteBill:
		prev, ok := s.bills[o.ID]
		if !ok || prev.UserID != o.UserID {
			return nil, errs.ErrNotFound
		}
		delete(s.bills, o.ID)
		return func() { s.bills[o.ID] = prev }, nil

	case ledger.SaveIdempotencyKey:
		k := idemKey{o.Key.UserID, o.Key.Key}
		if _, ok := s.idem[k]; ok {
			return nil, errs.ErrConflict
		}
		if _, ok := s.users[k.userID]; !ok {
			return nil, errs.ErrNotFound
		}
		s.idem[k] = o.Key
		return func() { delete(s.idem, k) }, nil
	}
	return nil, fmt.Errorf("memory: unsupported op %T", op)
}

func (s *Store) budgetCategoryTaken(userID uuid.UUID, c ledger.Category, except uuid.UUID) bool {
	for _, b := range s.budgets {
		if b.UserID == userID && b.Category == c && b.ID != except {
			return true
		}
	}
	return false
}
