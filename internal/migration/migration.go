// Package migration rebuilds the secondary store from the primary stores.
//
// A run walks Idle -> Quiescing -> Migrating -> Verifying -> Idle. It holds
// the write lock of every primary store for its whole duration, so it never
// overlaps a trip lifecycle operation.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trainlog/internal/carbon"
	"trainlog/internal/domain"
	"trainlog/internal/geo"
	"trainlog/internal/repository"
	"trainlog/internal/repository/sqlite"
	"trainlog/internal/txn"
)

// State is a step of the migration state machine.
type State string

const (
	StateIdle      State = "idle"
	StateQuiescing State = "quiescing"
	StateMigrating State = "migrating"
	StateVerifying State = "verifying"
)

// ErrAlreadyRunning is returned when Run is called during another run.
var ErrAlreadyRunning = errors.New("migration already running")

// Alerter is told about a run that aborted.
type Alerter interface {
	NotifyMigrationFailed(ctx context.Context, runID string, state string, err error) error
}

// Result summarises a completed run.
type Result struct {
	RunID        string        `json:"run_id"`
	Trips        int           `json:"trips"`
	Paths        int           `json:"paths"`
	SkippedPaths int           `json:"skipped_paths"`
	Recomputed   int           `json:"recomputed"`
	Duration     time.Duration `json:"duration"`
}

// Migrator runs the bulk migration.
type Migrator struct {
	registry  *txn.Registry
	target    repository.BulkTarget
	marker    Marker
	estimator carbon.Estimator
	alerter   Alerter
	logger    zerolog.Logger

	batchSize    int
	lockTTL      time.Duration
	onTransition func(State)

	running sync.Mutex
	mu      sync.Mutex
	state   State
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithBatchSize sets how many rows each derived-value batch commits.
func WithBatchSize(n int) Option {
	return func(m *Migrator) { m.batchSize = n }
}

// WithLockTTL bounds how long a crashed run can leave the marker behind.
func WithLockTTL(d time.Duration) Option {
	return func(m *Migrator) { m.lockTTL = d }
}

// WithTransitionHook is called on every state change.
func WithTransitionHook(fn func(State)) Option {
	return func(m *Migrator) { m.onTransition = fn }
}

// NewMigrator creates a Migrator. alerter may be nil.
func NewMigrator(
	registry *txn.Registry,
	target repository.BulkTarget,
	marker Marker,
	estimator carbon.Estimator,
	alerter Alerter,
	logger zerolog.Logger,
	opts ...Option,
) *Migrator {
	m := &Migrator{
		registry:  registry,
		target:    target,
		marker:    marker,
		estimator: estimator,
		alerter:   alerter,
		logger:    logger.With().Str("component", "migration").Logger(),
		batchSize: 100,
		lockTTL:   2 * time.Hour,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Migrator) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Migrator) enter(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	m.logger.Info().Str("state", string(s)).Msg("migration state")
	if m.onTransition != nil {
		m.onTransition(s)
	}
}

// Run performs one full migration and blocks until the machine is back in
// Idle. The marker and every lock are released whether or not it succeeds.
// A failed run leaves the secondary store as its last completed step did;
// running again repairs it.
func (m *Migrator) Run(ctx context.Context) (*Result, error) {
	if !m.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer m.running.Unlock()

	start := time.Now()
	res := &Result{RunID: uuid.NewString()}
	logger := m.logger.With().Str("run_id", res.RunID).Logger()

	m.enter(StateQuiescing)
	token, err := m.marker.Acquire(ctx, m.lockTTL)
	if err != nil {
		m.enter(StateIdle)
		return nil, fmt.Errorf("acquire migration marker: %w", err)
	}
	defer func() {
		if err := m.marker.Release(context.WithoutCancel(ctx), token); err != nil {
			logger.Error().Err(err).Msg("release migration marker")
		}
		m.enter(StateIdle)
	}()

	if err := m.run(ctx, res, logger); err != nil {
		failedIn := m.State()
		logger.Error().Err(err).Str("state", string(failedIn)).Msg("migration failed")
		if m.alerter != nil {
			_ = m.alerter.NotifyMigrationFailed(context.WithoutCancel(ctx), res.RunID, string(failedIn), err)
		}
		return nil, fmt.Errorf("migration %s failed while %s: %w", res.RunID, failedIn, err)
	}

	res.Duration = time.Since(start)
	logger.Info().
		Int("trips", res.Trips).
		Int("paths", res.Paths).
		Int("skipped_paths", res.SkippedPaths).
		Int("recomputed", res.Recomputed).
		Dur("duration", res.Duration).
		Msg("migration complete")
	return res, nil
}

func (m *Migrator) run(ctx context.Context, res *Result, logger zerolog.Logger) error {
	stores := []string{sqlite.MainStore, sqlite.PathStore}

	// The primary transactions only read; holding them keeps every writer
	// out until the derived values are in place.
	return m.registry.WithCoordinatedTransaction(ctx, stores, func(txs txn.Txs) error {
		session, err := m.target.Quiesce(ctx)
		if err != nil {
			return fmt.Errorf("quiesce secondary: %w", err)
		}
		committed := false
		defer func() {
			if !committed {
				if err := session.Rollback(); err != nil {
					logger.Warn().Err(err).Msg("rollback bulk session")
				}
			}
		}()

		m.enter(StateMigrating)
		if err := m.migrate(ctx, txs, session, res, logger); err != nil {
			return err
		}
		if err := session.Commit(); err != nil {
			return fmt.Errorf("commit bulk load: %w", err)
		}
		committed = true

		m.enter(StateVerifying)
		n, err := m.target.RecomputeDerived(ctx, m.batchSize, m.derive)
		res.Recomputed = n
		if err != nil {
			return fmt.Errorf("recompute derived values after %d rows: %w", n, err)
		}
		return nil
	})
}

func (m *Migrator) migrate(ctx context.Context, txs txn.Txs, session repository.BulkSession, res *Result, logger zerolog.Logger) error {
	trips, err := sqlite.NewTripRepository(txs.Get(sqlite.MainStore)).All(ctx)
	if err != nil {
		return fmt.Errorf("read primary trips: %w", err)
	}
	rows := make([]domain.TripRow, len(trips))
	for i, t := range trips {
		rows[i] = t.Row()
	}
	if res.Trips, err = session.ReplaceTrips(ctx, rows); err != nil {
		return fmt.Errorf("replace trips: %w", err)
	}

	var geoms []domain.PathGeometry
	err = sqlite.NewPathRepository(txs.Get(sqlite.PathStore)).Each(ctx, func(tripID int64, path domain.Path) error {
		wkt, err := geo.EncodeWKT(path)
		if errors.Is(err, geo.ErrEmptyPath) {
			logger.Warn().Int64("trip_id", tripID).Msg("skipping path with no points")
			res.SkippedPaths++
			return nil
		}
		if err != nil {
			return fmt.Errorf("encode path %d: %w", tripID, err)
		}
		geoms = append(geoms, domain.PathGeometry{TripID: tripID, WKT: wkt})
		return nil
	})
	if err != nil {
		return fmt.Errorf("read primary paths: %w", err)
	}
	if res.Paths, err = session.ReplacePaths(ctx, geoms); err != nil {
		return fmt.Errorf("replace paths: %w", err)
	}
	return nil
}

func (m *Migrator) derive(row *domain.TripRow, path domain.Path) float64 {
	return m.estimator.Estimate(carbon.FromRow(row, path))
}
