package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
	"github.com/tinoosan/fintrack/internal/service/transaction"
)

// validateListTransactions parses GET /transactions query parameters into a
// transaction.ListQuery stored in the request context.
func (s *Server) validateListTransactions() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			var lq transaction.ListQuery
			if raw := q.Get("page"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 1 {
					badRequest(w, "page must be a positive integer")
					return
				}
				lq.Page = n
			}
			if raw := q.Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 1 || n > transaction.MaxPageSize {
					badRequest(w, "limit must be between 1 and "+strconv.Itoa(transaction.MaxPageSize))
					return
				}
				lq.Limit = n
			}
			lq.Search = strings.TrimSpace(q.Get("search"))
			lq.Sort = transaction.Sort(q.Get("sort"))
			if !lq.Sort.Valid() {
				badRequest(w, "invalid sort")
				return
			}
			if c := q.Get("category"); c != "" && !strings.EqualFold(c, "all") {
				lq.Category = ledger.Category(c)
				if !lq.Category.Valid() {
					badRequest(w, "invalid category")
					return
				}
			}
			ctx := context.WithValue(r.Context(), ctxKeyListTx, lq)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validatePostTransaction decodes and converts the POST /transactions body.
func (s *Server) validatePostTransaction() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postTransactionRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			in, err := req.toInput()
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostTx, in)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GET /api/transactions
func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	lq, _ := r.Context().Value(ctxKeyListTx).(transaction.ListQuery)
	page, err := s.txs.List(r.Context(), identity(r).UserID, lq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toTransactionPage(page))
}

// POST /api/transactions
func (s *Server) postTransaction(w http.ResponseWriter, r *http.Request) {
	in, ok := r.Context().Value(ctxKeyPostTx).(transaction.Input)
	if !ok {
		s.writeError(w, r, errs.Invalid("invalid request"))
		return
	}
	t, err := s.txs.Create(r.Context(), identity(r).UserID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toTransactionResponse(t))
}

// GET /api/transactions/{id}
func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := s.txs.Get(r.Context(), identity(r).UserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toTransactionResponse(t))
}

// PATCH /api/transactions/{id}
func (s *Server) patchTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req patchTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := req.toPatch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.txs.Update(r.Context(), identity(r).UserID, id, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toTransactionResponse(t))
}

// DELETE /api/transactions/{id}
func (s *Server) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.txs.Delete(r.Context(), identity(r).UserID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, deletedResponse{ID: id})
}

// GET /api/balance
func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.txs.Balance(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBalanceResponse(b))
}

// GET /api/balance/reconcile reports drift between the stored balance and the
// one implied by the transactions and pots. It never writes.
func (s *Server) reconcileBalance(w http.ResponseWriter, r *http.Request) {
	rec, err := s.txs.Reconcile(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !rec.Consistent() {
		d := rec.Drift()
		s.log.Warn("balance drift detected", "req_id", reqID(r), "user_id", rec.Stored.UserID,
			"current", d.Current, "income", d.Income, "expenses", d.Expenses)
	}
	writeData(w, http.StatusOK, toReconcileResponse(rec))
}
