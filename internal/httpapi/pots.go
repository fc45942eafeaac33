package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/service/pot"
)

// validatePotAmount decodes {"amount": n} for the transfer routes and stores
// the minor-unit amount in the request context.
func (s *Server) validatePotAmount() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req potAmountRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			amount, err := parseAmount("amount", req.Amount)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if amount <= 0 {
				badRequest(w, "amount must be greater than zero")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPotAmount, amount)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GET /api/pots
func (s *Server) listPots(w http.ResponseWriter, r *http.Request) {
	list, err := s.pots.List(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]potResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPotResponse(p))
	}
	writeData(w, http.StatusOK, out)
}

// GET /api/pots/{id}
func (s *Server) getPot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.pots.Get(r.Context(), identity(r).UserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPotResponse(p))
}

// POST /api/pots
func (s *Server) postPot(w http.ResponseWriter, r *http.Request) {
	var req postPotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target, err := parseAmount("target", req.Target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.pots.Create(r.Context(), identity(r).UserID, pot.Input{Name: req.Name, Target: target, Theme: req.Theme})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toPotResponse(p))
}

// PATCH /api/pots/{id}
func (s *Server) patchPot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req patchPotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target, err := parseOptionalAmount("target", req.Target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.pots.Update(r.Context(), identity(r).UserID, id, pot.Patch{Name: req.Name, Target: target, Theme: req.Theme})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPotResponse(p))
}

// DELETE /api/pots/{id} returns the pot's money to the balance.
func (s *Server) deletePot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	bal, err := s.pots.Delete(r.Context(), identity(r).UserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, potDeletedResponse{ID: id, Balance: toBalanceResponse(bal)})
}

type transferFunc func(ctx context.Context, userID, id uuid.UUID, amount int64) (pot.Transfer, error)

func (s *Server) transfer(w http.ResponseWriter, r *http.Request, direction string, move transferFunc) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	amount, _ := r.Context().Value(ctxKeyPotAmount).(int64)
	t, err := move(r.Context(), identity(r).UserID, id, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	potTransfers.WithLabelValues(direction).Inc()
	writeData(w, http.StatusOK, toTransferResponse(t))
}

// POST /api/pots/{id}/add
func (s *Server) addToPot(w http.ResponseWriter, r *http.Request) {
	s.transfer(w, r, "deposit", s.pots.AddMoney)
}

// POST /api/pots/{id}/withdraw
func (s *Server) withdrawFromPot(w http.ResponseWriter, r *http.Request) {
	s.transfer(w, r, "withdrawal", s.pots.Withdraw)
}
