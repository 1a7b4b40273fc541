package memory

import (
	"context"
	"errors"
	"maps"

	"trainlog/internal/domain"
	"trainlog/internal/geo"
	"trainlog/internal/repository"
)

var errSessionClosed = errors.New("bulk session already closed")

// Quiesce blocks other writers until the session commits or rolls back.
// Replacements are staged and only become visible on Commit.
func (s *Store) Quiesce(ctx context.Context) (repository.BulkSession, error) {
	s.mu.Lock()
	err := s.fault("Quiesce")
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.gate.Lock()
	return &session{store: s}, nil
}

type session struct {
	store  *Store
	trips  map[int64]domain.TripRow
	paths  map[int64]string
	closed bool
}

func (b *session) ReplaceTrips(ctx context.Context, rows []domain.TripRow) (int, error) {
	if b.closed {
		return 0, errSessionClosed
	}
	b.store.mu.Lock()
	err := b.store.fault("ReplaceTrips")
	b.store.mu.Unlock()
	if err != nil {
		return 0, err
	}

	b.trips = make(map[int64]domain.TripRow, len(rows))
	for _, r := range rows {
		b.trips[r.TripID] = r
	}
	return len(rows), nil
}

func (b *session) ReplacePaths(ctx context.Context, paths []domain.PathGeometry) (int, error) {
	if b.closed {
		return 0, errSessionClosed
	}
	b.store.mu.Lock()
	err := b.store.fault("ReplacePaths")
	b.store.mu.Unlock()
	if err != nil {
		return 0, err
	}

	b.paths = make(map[int64]string, len(paths))
	for _, p := range paths {
		if _, err := geo.DecodeWKT(p.WKT); err != nil {
			return 0, err
		}
		b.paths[p.TripID] = p.WKT
	}
	return len(paths), nil
}

func (b *session) Commit() error {
	if b.closed {
		return errSessionClosed
	}
	b.closed = true
	defer b.store.gate.Unlock()

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if err := b.store.fault("Commit"); err != nil {
		return err
	}
	if b.trips != nil {
		b.store.trips = b.trips
	}
	if b.paths != nil {
		b.store.paths = b.paths
	}
	return nil
}

func (b *session) Rollback() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.store.gate.Unlock()
	return nil
}

// RecomputeDerived fills in carbon for every row missing it, batch by batch
// in trip id order.
func (s *Store) RecomputeDerived(ctx context.Context, batchSize int, compute repository.DeriveFunc) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var (
		updated int
		last    int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		n, next, err := s.recomputeBatch(last, batchSize, compute)
		updated += n
		if err != nil || n == 0 {
			return updated, err
		}
		last = next
	}
}

func (s *Store) recomputeBatch(after int64, limit int, compute repository.DeriveFunc) (int, int64, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("RecomputeDerived"); err != nil {
		return 0, after, err
	}

	// Compute into a copy so a failed batch leaves nothing behind.
	batch := make(map[int64]domain.TripRow)
	for _, id := range sortedKeys(s.trips) {
		if id <= after || s.trips[id].Carbon != nil {
			continue
		}
		row := s.trips[id]
		var path domain.Path
		if wkt, ok := s.paths[id]; ok {
			p, err := geo.DecodeWKT(wkt)
			if err != nil {
				return 0, after, err
			}
			path = p
		}
		c := compute(&row, path)
		row.Carbon = &c
		batch[id] = row
		after = id
		if len(batch) == limit {
			break
		}
	}
	maps.Copy(s.trips, batch)
	return len(batch), after, nil
}
