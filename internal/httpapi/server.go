// Package httpapi wires the REST surface of fintrack.
// It keeps handlers thin, delegating business rules to the service layer.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tinoosan/fintrack/internal/service/auth"
	"github.com/tinoosan/fintrack/internal/service/bill"
	"github.com/tinoosan/fintrack/internal/service/budget"
	"github.com/tinoosan/fintrack/internal/service/pot"
	"github.com/tinoosan/fintrack/internal/service/transaction"
)

// ReadyChecker reports whether the backing store can serve requests.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// Services groups the domain services the handlers delegate to.
type Services struct {
	Auth         auth.Service
	Transactions transaction.Service
	Budgets      budget.Service
	Pots         pot.Service
	Bills        bill.Service
}

// Server wires handlers and middleware using Chi.
type Server struct {
	auth    auth.Service
	txs     transaction.Service
	budgets budget.Service
	pots    pot.Service
	bills   bill.Service
	ready   ReadyChecker
	log     *slog.Logger
	rt      *chi.Mux

	requestTimeout time.Duration
}

// Option customises a Server.
type Option func(*Server)

// WithRequestTimeout bounds the handling of each /api request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// New constructs the HTTP server with routes and middleware.
func New(svc Services, ready ReadyChecker, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		auth:           svc.Auth,
		txs:            svc.Transactions,
		budgets:        svc.Budgets,
		pots:           svc.Pots,
		bills:          svc.Bills,
		ready:          ready,
		log:            logger,
		rt:             chi.NewRouter(),
		requestTimeout: 8 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.rt.Use(chimw.RequestID)
	s.rt.Use(requestLogger(logger))
	s.rt.Use(recoverer(logger))
	s.rt.Use(metricsMiddleware)
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints and attaches any per-route middleware.
func (s *Server) routes() {
	s.rt.NotFound(notFound)
	s.rt.MethodNotAllowed(methodNotAllowed)

	// Probes and metrics (unauthenticated)
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Method(http.MethodGet, "/metrics", metricsHandler())

	s.rt.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(s.requestTimeout))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Post("/refresh", s.refresh)
			r.Post("/logout", s.logout)
			r.With(s.authenticate).Post("/change-password", s.changePassword)
			r.With(s.authenticate).Get("/me", s.me)
		})

		r.Get("/dictionary/categories", s.getCategories)
		r.Get("/dictionary/themes", s.getThemes)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/balance", s.getBalance)
			r.Get("/balance/reconcile", s.reconcileBalance)

			r.With(s.validateListTransactions()).Get("/transactions", s.listTransactions)
			r.With(idempotent, s.validatePostTransaction()).Post("/transactions", s.postTransaction)
			r.Get("/transactions/{id}", s.getTransaction)
			r.Patch("/transactions/{id}", s.patchTransaction)
			r.Delete("/transactions/{id}", s.deleteTransaction)

			r.Get("/budgets", s.listBudgets)
			r.Post("/budgets", s.postBudget)
			r.Get("/budgets/category/{category}/latest", s.latestForCategory)
			r.Get("/budgets/{id}", s.getBudget)
			r.Patch("/budgets/{id}", s.patchBudget)
			r.Delete("/budgets/{id}", s.deleteBudget)

			r.Get("/pots", s.listPots)
			r.Post("/pots", s.postPot)
			r.Get("/pots/{id}", s.getPot)
			r.Patch("/pots/{id}", s.patchPot)
			r.Delete("/pots/{id}", s.deletePot)
			r.With(idempotent, s.validatePotAmount()).Post("/pots/{id}/add", s.addToPot)
			r.With(idempotent, s.validatePotAmount()).Post("/pots/{id}/withdraw", s.withdrawFromPot)

			r.With(s.validateListBills()).Get("/bills", s.listBills)
			r.Get("/bills/summary", s.billsSummary)
			r.Post("/bills", s.postBill)
			r.Get("/bills/{id}", s.getBill)
			r.Patch("/bills/{id}", s.patchBill)
			r.Delete("/bills/{id}", s.deleteBill)
		})
	})
}
