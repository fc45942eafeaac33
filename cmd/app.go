package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinoosan/fintrack/internal/config"
	"github.com/tinoosan/fintrack/internal/events"
	"github.com/tinoosan/fintrack/internal/httpapi"
	"github.com/tinoosan/fintrack/internal/service/auth"
	"github.com/tinoosan/fintrack/internal/service/bill"
	"github.com/tinoosan/fintrack/internal/service/budget"
	"github.com/tinoosan/fintrack/internal/service/pot"
	"github.com/tinoosan/fintrack/internal/service/transaction"
	"github.com/tinoosan/fintrack/internal/storage"
	"github.com/tinoosan/fintrack/internal/storage/backend"
)

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	store    storage.Store
	services httpapi.Services
	closers  []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger, store: store, closers: []func() error{store.Close}}

	var pub events.Publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		amqp, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("publishing events", "exchange", cfg.AMQP.Exchange)
		a.closers = append(a.closers, amqp.Close)
		pub = amqp
	}

	authSvc, err := auth.New(store, store, auth.Config{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
		BcryptCost:    cfg.Auth.BcryptCost,
		Issuer:        cfg.Auth.Issuer,
	}, auth.WithPublisher(pub))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	a.services = httpapi.Services{
		Auth:         authSvc,
		Transactions: transaction.New(store, store, transaction.WithPublisher(pub)),
		Budgets:      budget.New(store, store, budget.WithPublisher(pub)),
		Pots:         pot.New(store, store, pot.WithPublisher(pub)),
		Bills:        bill.New(store, store, bill.WithPublisher(pub)),
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errList []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	a.closers = nil
	return errors.Join(errList...)
}
