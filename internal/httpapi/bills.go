package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/tinoosan/fintrack/internal/service/bill"
)

// validateListBills parses search and sort for GET /bills.
func (s *Server) validateListBills() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := bill.ListQuery{
				Search: strings.TrimSpace(r.URL.Query().Get("search")),
				Sort:   bill.Sort(r.URL.Query().Get("sort")),
			}
			if !q.Sort.Valid() {
				badRequest(w, "invalid sort")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyBillsQuery, q)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GET /api/bills
func (s *Server) listBills(w http.ResponseWriter, r *http.Request) {
	q, _ := r.Context().Value(ctxKeyBillsQuery).(bill.ListQuery)
	list, err := s.bills.List(r.Context(), identity(r).UserID, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBillResponses(list))
}

// GET /api/bills/summary
func (s *Server) billsSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.bills.Summary(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBillsSummaryResponse(sum))
}

// GET /api/bills/{id}
func (s *Server) getBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.bills.Get(r.Context(), identity(r).UserID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBillResponse(b))
}

// POST /api/bills
func (s *Server) postBill(w http.ResponseWriter, r *http.Request) {
	var req postBillRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.bills.Create(r.Context(), identity(r).UserID, bill.Input{
		VendorName: req.VendorName,
		Avatar:     req.Avatar,
		Amount:     amount,
		DueDay:     req.DueDay,
		Category:   req.Category,
		Theme:      req.Theme,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toBillResponse(b))
}

// PATCH /api/bills/{id}
func (s *Server) patchBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req patchBillRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseOptionalAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.bills.Update(r.Context(), identity(r).UserID, id, bill.Patch{
		VendorName: req.VendorName,
		Avatar:     req.Avatar,
		Amount:     amount,
		DueDay:     req.DueDay,
		Category:   req.Category,
		Theme:      req.Theme,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toBillResponse(b))
}

// DELETE /api/bills/{id}
func (s *Server) deleteBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.bills.Delete(r.Context(), identity(r).UserID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, deletedResponse{ID: id})
}
