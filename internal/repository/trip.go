package repository

import (
	"context"

	"trainlog/internal/domain"
)

// SecondaryStore is the client-server mirror of the primary trip tables.
// Each method is its own transaction on the secondary side.
type SecondaryStore interface {
	// InsertTrip writes a new trip row and, when path is non-empty, its geometry.
	InsertTrip(ctx context.Context, row domain.TripRow, path domain.Path) error

	// UpdateTrip replaces a trip row. A nil path leaves the geometry as is.
	UpdateTrip(ctx context.Context, row domain.TripRow, path domain.Path) error

	// DeleteTrip removes the trip and its geometry.
	DeleteTrip(ctx context.Context, id int64) error

	AttachTicket(ctx context.Context, ticketID int64, tripIDs []int64) error
	ClearTicket(ctx context.Context, tripIDs []int64) error
	SetVisibility(ctx context.Context, visibility domain.Visibility, tripIDs []int64) error
	SetTripType(ctx context.Context, id int64, tripType domain.TripType, carbon *float64) error

	// GetTrip returns ErrNotFound when the row does not exist.
	GetTrip(ctx context.Context, id int64) (*domain.TripRow, error)

	// PathPointCount returns ErrNotFound when the trip has no geometry.
	PathPointCount(ctx context.Context, id int64) (int, error)

	TripIDs(ctx context.Context) ([]int64, error)
	PathIDs(ctx context.Context) ([]int64, error)
}

// BulkTarget is a secondary store that can be rebuilt wholesale.
type BulkTarget interface {
	// Quiesce opens a session holding share locks on the trip and path
	// tables: readers continue, other writers wait.
	Quiesce(ctx context.Context) (BulkSession, error)

	// RecomputeDerived walks rows whose derived values are missing, in id
	// order and in batches of batchSize, committing after each batch.
	// It returns the number of rows updated.
	RecomputeDerived(ctx context.Context, batchSize int, compute DeriveFunc) (int, error)
}

// DeriveFunc computes a row's carbon value from the row and its path.
type DeriveFunc func(row *domain.TripRow, path domain.Path) float64

// BulkSession replaces table contents under the locks taken by Quiesce.
type BulkSession interface {
	// ReplaceTrips deletes every trip row and bulk-loads rows.
	ReplaceTrips(ctx context.Context, rows []domain.TripRow) (int, error)

	// ReplacePaths deletes every geometry and loads paths.
	ReplacePaths(ctx context.Context, paths []domain.PathGeometry) (int, error)

	Commit() error
	Rollback() error
}
