// Package backend opens the store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinoosan/fintrack/internal/config"
	"github.com/tinoosan/fintrack/internal/storage"
	"github.com/tinoosan/fintrack/internal/storage/memory"
	"github.com/tinoosan/fintrack/internal/storage/postgres"
	"github.com/tinoosan/fintrack/internal/storage/sqlite"
)

// Open returns a ready, migrated store for cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		logger.Info("storage backend: memory")
		return memory.New(), nil
	case config.BackendPostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("storage backend: postgres", "max_conns", cfg.MaxConns)
		return pg, nil
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("storage backend: sqlite", "path", cfg.SQLitePath)
		return db, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// Migrate applies schema migrations for cfg.Backend and releases the
// connection. The memory backend has nothing to migrate.
func Migrate(ctx context.Context, cfg config.StorageConfig) error {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return nil
	case config.BackendPostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pg.Close()
		return pg.Migrate(ctx)
	case config.BackendSQLite:
		return sqlite.RunMigrations(cfg.SQLitePath)
	}
	return fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
