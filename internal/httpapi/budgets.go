package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tinoosan/fintrack/internal/ledger"
	"github.com/tinoosan/fintrack/internal/service/budget"
)

// GET /api/budgets
func (s *Server) listBudgets(w http.ResponseWriter, r *http.Request) {
	list, err := s.budgets.List(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]budgetWithSpendingResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toBudgetWithSpendingResponse(b))
	}
	writeData(w, http.StatusOK, out)
}

// GET /api/budgets/{id}
func (s *Server) getBudget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.budgets.Get(r.Context(), identity(r).UserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBudgetWithSpendingResponse(b))
}

// POST /api/budgets
func (s *Server) postBudget(w http.ResponseWriter, r *http.Request) {
	var req postBudgetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	maximum, err := parseAmount("maximum", req.Maximum)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.budgets.Create(r.Context(), identity(r).UserID, budget.Input{Category: req.Category, Maximum: maximum, Theme: req.Theme})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toBudgetResponse(b))
}

// PATCH /api/budgets/{id}
func (s *Server) patchBudget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req patchBudgetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	maximum, err := parseOptionalAmount("maximum", req.Maximum)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.budgets.Update(r.Context(), identity(r).UserID, id, budget.Patch{Category: req.Category, Maximum: maximum, Theme: req.Theme})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBudgetResponse(b))
}

// DELETE /api/budgets/{id}
func (s *Server) deleteBudget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.budgets.Delete(r.Context(), identity(r).UserID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, deletedResponse{ID: id})
}

// GET /api/budgets/category/{category}/latest
func (s *Server) latestForCategory(w http.ResponseWriter, r *http.Request) {
	c := ledger.Category(chi.URLParam(r, "category"))
	if !c.Valid() {
		badRequest(w, "invalid category")
		return
	}
	txs, err := s.budgets.Latest(r.Context(), identity(r).UserID, c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t))
	}
	writeData(w, http.StatusOK, out)
}
