package app

import (
	"context"
	"database/sql"
	"errors"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trainlog/internal/alert"
	"trainlog/internal/carbon"
	"trainlog/internal/config"
	"trainlog/internal/drift"
	"trainlog/internal/migration"
	internalRedis "trainlog/internal/redis"
	"trainlog/internal/repository"
	"trainlog/internal/repository/memory"
	"trainlog/internal/repository/postgres"
	"trainlog/internal/repository/sqlite"
	"trainlog/internal/service"
	"trainlog/internal/txn"
)

// Secondary is a secondary store that can also be rebuilt by migration.
type Secondary interface {
	repository.SecondaryStore
	repository.BulkTarget
}

// Options select optional collaborators.
type Options struct {
	// DryRun swaps postgres for the in-memory store and Redis for an
	// in-process marker.
	DryRun bool
}

// App is the wired core shared by the server and tripctl.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	NewRelic *newrelic.Application

	Primary   *Primary
	DB        *sql.DB
	Redis     *redis.Client
	Registry  *txn.Registry
	Secondary Secondary
	Cache     internalRedis.CacheStoreInterface

	Alerts   *alert.Service
	Detector *drift.Detector
	Marker   migration.Marker
	Trips    *service.TripService
	Migrator *migration.Migrator
}

// New opens every store and wires the services. nrApp may be nil.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, nrApp *newrelic.Application, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger, NewRelic: nrApp}

	primary, err := OpenPrimary(cfg.Primary)
	if err != nil {
		return nil, err
	}
	a.Primary = primary

	if !opts.DryRun {
		if a.DB, err = NewDatabase(ctx, cfg.Database, nrApp); err != nil {
			_ = a.Close()
			return nil, err
		}
		logger.Info().Str("host", cfg.Database.Host).Msg("connected to PostgreSQL")
	}

	if a.Registry, err = NewRegistry(cfg.Primary, primary, a.DB, logger); err != nil {
		_ = a.Close()
		return nil, err
	}

	if opts.DryRun {
		a.Secondary = memory.NewStore()
	} else {
		a.Secondary = postgres.NewTripStore(a.DB, a.Registry)
	}

	a.Marker = migration.NewLocalMarker()
	if !opts.DryRun {
		client, err := NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			// The primary write locks still exclude a running migration.
			logger.Warn().Err(err).Msg("redis unavailable, using in-process migration marker")
		} else {
			a.Redis = client
			a.Marker = internalRedis.NewLockStore(client)
			a.Cache = internalRedis.NewCacheStore(client)
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	estimator := carbon.NewModel()
	a.Alerts = alert.New(cfg.Alert, cfg.Environment, logger)
	a.Detector = drift.NewDetector(
		sqlite.NewTripRepository(primary.Main.Reader),
		sqlite.NewPathRepository(primary.Path.Reader),
		a.Secondary, a.Alerts, logger,
	)
	a.Trips = service.NewTripService(
		a.Registry, a.Secondary, estimator, a.Detector, a.Marker, a.Alerts,
		cfg.Alert.OwnerUsername, logger,
	)
	a.Migrator = migration.NewMigrator(
		a.Registry, a.Secondary, a.Marker, estimator, a.Alerts, logger,
		migration.WithBatchSize(cfg.Migration.BatchSize),
		migration.WithLockTTL(cfg.Redis.LockTTL),
	)
	return a, nil
}

// Close releases every store. The registry owns the primary writers and the
// postgres pool once it exists.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Registry != nil {
		errs = append(errs, a.Registry.Close())
	} else {
		if a.DB != nil {
			errs = append(errs, a.DB.Close())
		}
		if a.Primary != nil {
			errs = append(errs, a.Primary.Main.Writer.Close(), a.Primary.Path.Writer.Close())
		}
	}
	if a.Primary != nil {
		errs = append(errs, a.Primary.Close())
	}
	return errors.Join(errs...)
}
