package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trainlog/internal/carbon"
	"trainlog/internal/domain"
	"trainlog/internal/repository"
	"trainlog/internal/repository/sqlite"
	"trainlog/internal/txn"
)

// primaryStores is every store a trip write touches, in the registry.
var primaryStores = []string{sqlite.MainStore, sqlite.PathStore}

// DriftChecker verifies one trip across both stores after a write.
type DriftChecker interface {
	CompareTrip(ctx context.Context, id int64) error
}

// MigrationGuard reports whether a bulk migration currently holds the stores.
type MigrationGuard interface {
	MigrationInProgress(ctx context.Context) (bool, error)
}

// PartialCommitNotifier is told when a coordinated commit left the primary
// stores out of step.
type PartialCommitNotifier interface {
	NotifyPartialCommit(ctx context.Context, operation string, err error) error
}

// TripService handles trip lifecycle operations. Every operation writes the
// primary stores in one coordinated transaction, mirrors the change to the
// secondary store, then drift-checks the trips it touched.
type TripService struct {
	registry  *txn.Registry
	secondary repository.SecondaryStore
	estimator carbon.Estimator
	drift     DriftChecker
	guard     MigrationGuard
	notifier  PartialCommitNotifier
	owner     string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewTripService creates a new TripService. guard and notifier may be nil.
// owner is the username allowed to act on every trip.
func NewTripService(
	registry *txn.Registry,
	secondary repository.SecondaryStore,
	estimator carbon.Estimator,
	drift DriftChecker,
	guard MigrationGuard,
	notifier PartialCommitNotifier,
	owner string,
	logger zerolog.Logger,
) *TripService {
	return &TripService{
		registry:  registry,
		secondary: secondary,
		estimator: estimator,
		drift:     drift,
		guard:     guard,
		notifier:  notifier,
		owner:     owner,
		logger:    logger.With().Str("component", "trips").Logger(),
		now:       time.Now,
	}
}

// CreateTrip stores a new trip owned by username and returns it with the
// identity the primary store assigned.
func (s *TripService) CreateTrip(ctx context.Context, username string, trip *domain.Trip) (*domain.Trip, error) {
	if err := validate(trip); err != nil {
		return nil, err
	}
	if len(trip.Path) == 0 {
		return nil, ErrEmptyPath
	}
	if err := s.checkMigration(ctx); err != nil {
		return nil, err
	}

	created := trip.Duplicate()
	created.Username = username
	created.Created = s.stamp()
	created.LastModified = created.Created
	if created.Visibility == "" {
		created.Visibility = domain.VisibilityPrivate
	}
	created.Carbon = s.estimate(created, created.Path)

	err := s.registry.WithCoordinatedTransaction(ctx, primaryStores, func(txs txn.Txs) error {
		uid, err := sqlite.NewUserRepository(txs.Get(sqlite.MainStore)).IDByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUnknownUser
			}
			return err
		}
		created.UserID = uid

		if created.TicketID != nil {
			if err := s.checkTicket(ctx, txs.Get(sqlite.MainStore), username, *created.TicketID); err != nil {
				return err
			}
		}

		// The path is keyed by the id this insert assigns.
		id, err := sqlite.NewTripRepository(txs.Get(sqlite.MainStore)).Insert(ctx, created)
		if err != nil {
			return err
		}
		created.ID = id

		return sqlite.NewPathRepository(txs.Get(sqlite.PathStore)).Insert(ctx, id, created.Path)
	})
	if err != nil {
		return nil, s.primaryFailed(ctx, "createTrip", err)
	}

	mirrorErr := s.secondary.InsertTrip(ctx, created.Row(), created.Path)
	s.verify(ctx, "createTrip", created.ID)
	if mirrorErr != nil {
		return nil, fmt.Errorf("mirror trip %d: %w", created.ID, mirrorErr)
	}

	s.logger.Info().Int64("trip_id", created.ID).Str("username", username).Msg("trip created")
	return created, nil
}

// UpdateOptions tune UpdateTrip.
type UpdateOptions struct {
	// UpdateCreated overwrites the creation timestamp with the payload's.
	UpdateCreated bool
}

// UpdateTrip replaces a trip's fields. The owner, the linked ticket and,
// unless opts says otherwise, the creation time are kept from the stored
// trip. A nil path keeps the stored one.
func (s *TripService) UpdateTrip(ctx context.Context, username string, id int64, trip *domain.Trip, opts UpdateOptions) (*domain.Trip, error) {
	if err := validate(trip); err != nil {
		return nil, err
	}
	if trip.Path != nil && len(trip.Path) == 0 {
		return nil, ErrEmptyPath
	}
	if err := s.checkMigration(ctx); err != nil {
		return nil, err
	}

	updated := trip.Duplicate()
	updated.ID = id

	err := s.registry.WithCoordinatedTransaction(ctx, primaryStores, func(txs txn.Txs) error {
		trips := sqlite.NewTripRepository(txs.Get(sqlite.MainStore))
		paths := sqlite.NewPathRepository(txs.Get(sqlite.PathStore))

		current, err := s.ownedTrip(ctx, trips, username, id)
		if err != nil {
			return err
		}

		updated.Username = current.Username
		updated.UserID = current.UserID
		updated.TicketID = current.TicketID
		if !opts.UpdateCreated || updated.Created.IsZero() {
			updated.Created = current.Created
		}
		if updated.Visibility == "" {
			updated.Visibility = current.Visibility
		}
		updated.LastModified = s.stamp()

		path := updated.Path
		if path == nil {
			if path, err = paths.Get(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		} else if err := paths.Save(ctx, id, path); err != nil {
			return err
		}
		updated.Carbon = s.estimate(updated, path)

		return trips.Update(ctx, updated)
	})
	if err != nil {
		return nil, s.primaryFailed(ctx, "updateTrip", err)
	}

	mirrorErr := s.secondary.UpdateTrip(ctx, updated.Row(), trip.Path)
	s.verify(ctx, "updateTrip", id)
	if mirrorErr != nil {
		return nil, fmt.Errorf("mirror trip %d: %w", id, mirrorErr)
	}
	return updated, nil
}

// DeleteTrip removes a trip and its path.
func (s *TripService) DeleteTrip(ctx context.Context, username string, id int64) error {
	if err := s.checkMigration(ctx); err != nil {
		return err
	}

	err := s.registry.WithCoordinatedTransaction(ctx, primaryStores, func(txs txn.Txs) error {
		trips := sqlite.NewTripRepository(txs.Get(sqlite.MainStore))
		if err := s.checkOwner(ctx, trips, username, id); err != nil {
			return err
		}
		if err := trips.Delete(ctx, id); err != nil {
			return err
		}
		return sqlite.NewPathRepository(txs.Get(sqlite.PathStore)).Delete(ctx, id)
	})
	if err != nil {
		return s.primaryFailed(ctx, "deleteTrip", err)
	}

	mirrorErr := s.secondary.DeleteTrip(ctx, id)
	s.verify(ctx, "deleteTrip", id)
	if mirrorErr != nil {
		return fmt.Errorf("mirror delete of trip %d: %w", id, mirrorErr)
	}

	s.logger.Info().Int64("trip_id", id).Msg("trip deleted")
	return nil
}

// DuplicateTrip copies a trip and its path under a new identity.
func (s *TripService) DuplicateTrip(ctx context.Context, username string, id int64) (*domain.Trip, error) {
	if err := s.checkMigration(ctx); err != nil {
		return nil, err
	}

	var dup *domain.Trip
	err := s.registry.WithCoordinatedTransaction(ctx, primaryStores, func(txs txn.Txs) error {
		trips := sqlite.NewTripRepository(txs.Get(sqlite.MainStore))
		paths := sqlite.NewPathRepository(txs.Get(sqlite.PathStore))

		source, err := s.ownedTrip(ctx, trips, username, id)
		if err != nil {
			return err
		}
		path, err := paths.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && len(path) == 0) {
			return fmt.Errorf("trip %d has no stored path: %w", id, ErrEmptyPath)
		}
		if err != nil {
			return err
		}
		source.Path = path

		dup = source.Duplicate()
		dup.Carbon = s.estimate(dup, dup.Path)

		newID, err := trips.Insert(ctx, dup)
		if err != nil {
			return err
		}
		dup.ID = newID
		return paths.Insert(ctx, newID, dup.Path)
	})
	if err != nil {
		return nil, s.primaryFailed(ctx, "duplicateTrip", err)
	}

	mirrorErr := s.secondary.InsertTrip(ctx, dup.Row(), dup.Path)
	s.verify(ctx, "duplicateTrip", id, dup.ID)
	if mirrorErr != nil {
		return nil, fmt.Errorf("mirror duplicate %d of trip %d: %w", dup.ID, id, mirrorErr)
	}

	s.logger.Info().Int64("trip_id", id).Int64("duplicate_id", dup.ID).Msg("trip duplicated")
	return dup, nil
}

// AttachTicket links every trip in tripIDs to ticketID. The ticket and all
// the trips must belong to username.
func (s *TripService) AttachTicket(ctx context.Context, username string, ticketID int64, tripIDs []int64) error {
	if len(tripIDs) == 0 {
		return ErrNoTrips
	}
	if err := s.checkMigration(ctx); err != nil {
		return err
	}

	err := s.registry.WithTransaction(ctx, sqlite.MainStore, func(tx *txn.Tx) error {
		if err := s.checkTicket(ctx, tx, username, ticketID); err != nil {
			return err
		}
		trips := sqlite.NewTripRepository(tx)
		if err := s.checkOwnsAll(ctx, trips, username, tripIDs); err != nil {
			return err
		}
		return trips.SetTicket(ctx, &ticketID, tripIDs)
	})
	if err != nil {
		return err
	}

	mirrorErr := s.secondary.AttachTicket(ctx, ticketID, tripIDs)
	s.verify(ctx, "attachTicket", tripIDs...)
	if mirrorErr != nil {
		return fmt.Errorf("mirror ticket %d: %w", ticketID, mirrorErr)
	}
	return nil
}

// ChangeVisibility sets the visibility of every trip in tripIDs.
func (s *TripService) ChangeVisibility(ctx context.Context, username string, visibility domain.Visibility, tripIDs []int64) error {
	if !visibility.Valid() {
		return ErrInvalidVisibility
	}
	if len(tripIDs) == 0 {
		return ErrNoTrips
	}
	if err := s.checkMigration(ctx); err != nil {
		return err
	}

	err := s.registry.WithTransaction(ctx, sqlite.MainStore, func(tx *txn.Tx) error {
		trips := sqlite.NewTripRepository(tx)
		if err := s.checkOwnsAll(ctx, trips, username, tripIDs); err != nil {
			return err
		}
		return trips.SetVisibility(ctx, visibility, tripIDs)
	})
	if err != nil {
		return err
	}

	mirrorErr := s.secondary.SetVisibility(ctx, visibility, tripIDs)
	s.verify(ctx, "changeVisibility", tripIDs...)
	if mirrorErr != nil {
		return fmt.Errorf("mirror visibility: %w", mirrorErr)
	}
	return nil
}

// UpdateType changes a trip's transport mode and recomputes its carbon.
func (s *TripService) UpdateType(ctx context.Context, username string, id int64, tripType domain.TripType) error {
	if !tripType.Valid() {
		return ErrInvalidTripType
	}
	if err := s.checkMigration(ctx); err != nil {
		return err
	}

	var footprint *float64
	err := s.registry.WithCoordinatedTransaction(ctx, primaryStores, func(txs txn.Txs) error {
		trips := sqlite.NewTripRepository(txs.Get(sqlite.MainStore))
		trip, err := s.ownedTrip(ctx, trips, username, id)
		if err != nil {
			return err
		}
		path, err := sqlite.NewPathRepository(txs.Get(sqlite.PathStore)).Get(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		trip.Type = tripType
		footprint = s.estimate(trip, path)
		return trips.SetType(ctx, id, tripType)
	})
	if err != nil {
		return s.primaryFailed(ctx, "updateType", err)
	}

	mirrorErr := s.secondary.SetTripType(ctx, id, tripType, footprint)
	s.verify(ctx, "updateType", id)
	if mirrorErr != nil {
		return fmt.Errorf("mirror type of trip %d: %w", id, mirrorErr)
	}
	return nil
}

// DeleteTicket unlinks a ticket from its trips and deletes it.
func (s *TripService) DeleteTicket(ctx context.Context, username string, ticketID int64) error {
	if err := s.checkMigration(ctx); err != nil {
		return err
	}

	var linked []int64
	err := s.registry.WithTransaction(ctx, sqlite.MainStore, func(tx *txn.Tx) error {
		if err := s.checkTicket(ctx, tx, username, ticketID); err != nil {
			return err
		}
		trips := sqlite.NewTripRepository(tx)

		var err error
		if linked, err = trips.IDsByTicket(ctx, ticketID); err != nil {
			return err
		}
		if err := trips.SetTicket(ctx, nil, linked); err != nil {
			return err
		}
		return sqlite.NewTicketRepository(tx).Delete(ctx, ticketID)
	})
	if err != nil {
		return err
	}
	if len(linked) == 0 {
		return nil
	}

	mirrorErr := s.secondary.ClearTicket(ctx, linked)
	s.verify(ctx, "deleteTicket", linked...)
	if mirrorErr != nil {
		return fmt.Errorf("mirror ticket %d removal: %w", ticketID, mirrorErr)
	}
	return nil
}

func validate(trip *domain.Trip) error {
	if trip == nil {
		return ErrInvalidTrip
	}
	if !trip.Type.Valid() {
		return ErrInvalidTripType
	}
	if trip.Visibility != "" && !trip.Visibility.Valid() {
		return ErrInvalidVisibility
	}
	return nil
}

func (s *TripService) checkMigration(ctx context.Context) error {
	if s.guard == nil {
		return nil
	}
	running, err := s.guard.MigrationInProgress(ctx)
	if err != nil {
		// The primary lock set still excludes a running migration.
		s.logger.Warn().Err(err).Msg("migration marker unreadable")
		return nil
	}
	if running {
		return ErrMigrationInProgress
	}
	return nil
}

func (s *TripService) canActFor(username, owner string) bool {
	return username == owner || (s.owner != "" && username == s.owner)
}

func (s *TripService) checkOwner(ctx context.Context, trips *sqlite.TripRepository, username string, id int64) error {
	owner, err := trips.Owner(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTripNotFound
		}
		return err
	}
	if !s.canActFor(username, owner) {
		return ErrNotOwner
	}
	return nil
}

func (s *TripService) ownedTrip(ctx context.Context, trips *sqlite.TripRepository, username string, id int64) (*domain.Trip, error) {
	if err := s.checkOwner(ctx, trips, username, id); err != nil {
		return nil, err
	}
	trip, err := trips.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTripNotFound
	}
	return trip, err
}

// checkOwnsAll requires every id to exist and belong to username. The
// instance owner passes once every id exists.
func (s *TripService) checkOwnsAll(ctx context.Context, trips *sqlite.TripRepository, username string, ids []int64) error {
	if s.owner != "" && username == s.owner {
		for _, id := range ids {
			if _, err := trips.Owner(ctx, id); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrTripNotFound
				}
				return err
			}
		}
		return nil
	}

	n, err := trips.CountOwned(ctx, username, ids)
	if err != nil {
		return err
	}
	if n != len(uniqueIDs(ids)) {
		return ErrNotOwner
	}
	return nil
}

func (s *TripService) checkTicket(ctx context.Context, q repository.Querier, username string, ticketID int64) error {
	owner, err := sqlite.NewTicketRepository(q).Owner(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTicketNotOwned
		}
		return err
	}
	if !s.canActFor(username, owner) {
		return ErrTicketNotOwned
	}
	return nil
}

func (s *TripService) estimate(trip *domain.Trip, path domain.Path) *float64 {
	if s.estimator == nil {
		return nil
	}
	v := s.estimator.Estimate(carbon.FromTrip(trip, path))
	return &v
}

// stamp is the current time at the precision the primary store keeps.
func (s *TripService) stamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// primaryFailed alerts on a partial commit and passes err through.
func (s *TripService) primaryFailed(ctx context.Context, op string, err error) error {
	var partial *txn.PartialCommitError
	if errors.As(err, &partial) && s.notifier != nil {
		_ = s.notifier.NotifyPartialCommit(ctx, op, err)
	}
	return err
}

// verify drift-checks ids. Drift never fails the operation; the detector
// has already logged and alerted it.
func (s *TripService) verify(ctx context.Context, op string, ids ...int64) {
	if s.drift == nil {
		return
	}
	for _, id := range ids {
		err := s.drift.CompareTrip(ctx, id)
		if err == nil {
			continue
		}
		s.logger.Warn().Err(err).Str("op", op).Int64("trip_id", id).Msg("post-write drift check failed")
	}
}

func uniqueIDs(ids []int64) map[int64]struct{} {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return seen
}
