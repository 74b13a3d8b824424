package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/emiliopalmerini/mltrackr/internal/adapters/badger"
	"github.com/emiliopalmerini/mltrackr/internal/adapters/turso"
	"github.com/emiliopalmerini/mltrackr/internal/infrastructure/config"
	"github.com/emiliopalmerini/mltrackr/internal/migrate"
	"github.com/emiliopalmerini/mltrackr/internal/ports"
)

// AppContext holds the shared dependencies of the commands that touch the store.
type AppContext struct {
	Config *config.Config
	Log    *slog.Logger
	Repo   ports.ExperimentRepository

	// Exactly one of these is set, depending on Config.Store.
	Badger *badger.DB
	SQL    *sql.DB
}

// loadApp reads the environment and opens the configured store.
func loadApp(ctx context.Context) (*AppContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return NewAppContext(ctx, cfg, log)
}

// NewAppContext opens the store named by cfg. A libsql store is migrated to
// the latest schema before use.
func NewAppContext(ctx context.Context, cfg *config.Config, log *slog.Logger) (*AppContext, error) {
	app := &AppContext{Config: cfg, Log: log}

	switch cfg.Store {
	case config.StoreBadger:
		bc := badger.DefaultConfig(cfg.BadgerPath)
		if cfg.BadgerInMemory {
			bc = badger.InMemoryConfig()
		}
		bc.Logger = log.With(slog.String("component", "badger"))

		db, err := badger.Open(bc)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		app.Badger = db
		app.Repo = badger.NewExperimentRepository(db)

	case config.StoreLibSQL:
		db, err := turso.Open(ctx, turso.Options{URL: cfg.DatabaseURL, AuthToken: cfg.AuthToken, Ping: true})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		applied, err := migrate.New(db, log).Up(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		log.Debug("schema ready", slog.Int("applied", applied))
		app.SQL = db
		app.Repo = turso.NewExperimentRepository(db)

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
	return app, nil
}

// Close releases the store.
func (a *AppContext) Close() error {
	var errs []error
	if a.Badger != nil {
		errs = append(errs, a.Badger.Close())
	}
	if a.SQL != nil {
		errs = append(errs, a.SQL.Close())
	}
	return errors.Join(errs...)
}
