// Package memory is an in-process secondary store used by tests and by
// single-binary setups with no Postgres available.
package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"trainlog/internal/domain"
	"trainlog/internal/geo"
	"trainlog/internal/repository"
)

// Store implements repository.SecondaryStore and repository.BulkTarget.
type Store struct {
	// gate is held shared by writers and exclusively by a bulk session.
	gate sync.RWMutex

	mu     sync.Mutex
	trips  map[int64]domain.TripRow
	paths  map[int64]string
	faults map[string]error
}

func NewStore() *Store {
	return &Store{
		trips:  make(map[int64]domain.TripRow),
		paths:  make(map[int64]string),
		faults: make(map[string]error),
	}
}

var (
	_ repository.SecondaryStore = (*Store)(nil)
	_ repository.BulkTarget     = (*Store)(nil)
)

// FailNext makes the next call to the named method return err.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

func (s *Store) fault(method string) error {
	if err, ok := s.faults[method]; ok {
		delete(s.faults, method)
		return err
	}
	return nil
}

func (s *Store) write(method string, fn func() error) error {
	s.gate.RLock()
	defer s.gate.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(method); err != nil {
		return err
	}
	return fn()
}

func (s *Store) InsertTrip(ctx context.Context, row domain.TripRow, path domain.Path) error {
	return s.write("InsertTrip", func() error {
		s.trips[row.TripID] = row
		return s.putPath(row.TripID, path)
	})
}

func (s *Store) UpdateTrip(ctx context.Context, row domain.TripRow, path domain.Path) error {
	return s.write("UpdateTrip", func() error {
		if _, ok := s.trips[row.TripID]; !ok {
			return repository.ErrNotFound
		}
		s.trips[row.TripID] = row
		if path == nil {
			return nil
		}
		return s.putPath(row.TripID, path)
	})
}

func (s *Store) putPath(id int64, path domain.Path) error {
	if len(path) == 0 {
		delete(s.paths, id)
		return nil
	}
	wkt, err := geo.EncodeWKT(path)
	if err != nil {
		return err
	}
	s.paths[id] = wkt
	return nil
}

func (s *Store) DeleteTrip(ctx context.Context, id int64) error {
	return s.write("DeleteTrip", func() error {
		delete(s.trips, id)
		delete(s.paths, id)
		return nil
	})
}

func (s *Store) AttachTicket(ctx context.Context, ticketID int64, tripIDs []int64) error {
	return s.write("AttachTicket", func() error {
		s.update(tripIDs, func(r *domain.TripRow) {
			id := ticketID
			r.TicketID = &id
		})
		return nil
	})
}

func (s *Store) ClearTicket(ctx context.Context, tripIDs []int64) error {
	return s.write("ClearTicket", func() error {
		s.update(tripIDs, func(r *domain.TripRow) { r.TicketID = nil })
		return nil
	})
}

func (s *Store) SetVisibility(ctx context.Context, visibility domain.Visibility, tripIDs []int64) error {
	return s.write("SetVisibility", func() error {
		s.update(tripIDs, func(r *domain.TripRow) { r.Visibility = string(visibility) })
		return nil
	})
}

func (s *Store) SetTripType(ctx context.Context, id int64, tripType domain.TripType, carbon *float64) error {
	return s.write("SetTripType", func() error {
		if _, ok := s.trips[id]; !ok {
			return repository.ErrNotFound
		}
		s.update([]int64{id}, func(r *domain.TripRow) {
			r.TripType = string(tripType)
			r.Carbon = carbon
		})
		return nil
	})
}

func (s *Store) update(ids []int64, fn func(*domain.TripRow)) {
	for _, id := range ids {
		row, ok := s.trips[id]
		if !ok {
			continue
		}
		fn(&row)
		s.trips[id] = row
	}
}

func (s *Store) GetTrip(ctx context.Context, id int64) (*domain.TripRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetTrip"); err != nil {
		return nil, err
	}

	row, ok := s.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (s *Store) PathPointCount(ctx context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wkt, ok := s.paths[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	path, err := geo.DecodeWKT(wkt)
	if err != nil {
		return 0, err
	}
	return len(path), nil
}

func (s *Store) TripIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.trips), nil
}

func (s *Store) PathIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.paths), nil
}

// Snapshot serialises the whole store in id order, so two snapshots are
// byte-identical exactly when the contents are.
func (s *Store) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	type pathEntry struct {
		TripID int64  `json:"trip_id"`
		WKT    string `json:"wkt"`
	}
	var snap struct {
		Trips []domain.TripRow `json:"trips"`
		Paths []pathEntry      `json:"paths"`
	}
	for _, id := range sortedKeys(s.trips) {
		snap.Trips = append(snap.Trips, s.trips[id])
	}
	for _, id := range sortedKeys(s.paths) {
		snap.Paths = append(snap.Paths, pathEntry{TripID: id, WKT: s.paths[id]})
	}

	b, _ := json.Marshal(snap)
	return b
}

func sortedKeys[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
