package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq" // Registers "nrpostgres" driver
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"trainlog/internal/config"
	"trainlog/internal/repository/postgres"
	"trainlog/internal/repository/sqlite"
	"trainlog/internal/txn"
)

// NewDatabase opens the secondary PostgreSQL store and applies its schema.
// If nrApp is provided, it uses the New Relic instrumented driver.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	driver := "postgres"
	if nrApp != nil {
		driver = "nrpostgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database with %s: %w", driver, err)
	}

	// Mirror writes are one short transaction per lifecycle operation, and
	// the drift detector fans out at most eight reads.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgres.Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}

// Primary holds both sqlite primary stores.
type Primary struct {
	Main *sqlite.Handles
	Path *sqlite.Handles
}

// OpenPrimary opens the main and path databases, creating their directories.
func OpenPrimary(cfg config.PrimaryConfig) (*Primary, error) {
	for _, p := range []string{cfg.MainPath, cfg.PathPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", p, err)
		}
	}

	main, err := sqlite.Open(cfg.MainPath, sqlite.MainSchema, cfg.BusyTimeout)
	if err != nil {
		return nil, err
	}
	path, err := sqlite.Open(cfg.PathPath, sqlite.PathSchema, cfg.BusyTimeout)
	if err != nil {
		_ = main.Close()
		return nil, err
	}
	return &Primary{Main: main, Path: path}, nil
}

// Close closes the reader pools. The writer pools belong to the registry.
func (p *Primary) Close() error {
	return errors.Join(p.Main.Reader.Close(), p.Path.Reader.Close())
}

// NewRegistry registers the primary writers and, when db is not nil, the
// secondary store.
func NewRegistry(cfg config.PrimaryConfig, primary *Primary, db *sql.DB, logger zerolog.Logger) (*txn.Registry, error) {
	reg := txn.NewRegistry(logger)
	opts := []txn.Option{
		txn.WithMaxRetries(cfg.MaxRetries),
		txn.WithRetryDelay(cfg.RetryDelay),
		txn.WithBusyTimeout(cfg.BusyTimeout),
	}

	if err := reg.Register(sqlite.MainStore, primary.Main.Writer, opts...); err != nil {
		return nil, err
	}
	if err := reg.Register(sqlite.PathStore, primary.Path.Writer, opts...); err != nil {
		return nil, err
	}
	if db != nil {
		if err := reg.Register(postgres.StoreName, db, append(opts, txn.WithBeginStatement("BEGIN"))...); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
