package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trainlog/internal/domain"
	"trainlog/internal/repository"
)

// PathRepository stores each trip's path as a JSON array of [lat, lng]
// pairs in the path database.
type PathRepository struct {
	q repository.Querier
}

func NewPathRepository(q repository.Querier) *PathRepository {
	return &PathRepository{q: q}
}

func (r *PathRepository) Insert(ctx context.Context, tripID int64, path domain.Path) error {
	text, err := encodePath(path)
	if err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx, `INSERT INTO paths (trip_id, path) VALUES (?, ?)`, tripID, text); err != nil {
		return fmt.Errorf("insert path %d: %w", tripID, err)
	}
	return nil
}

// Save inserts or replaces the path of tripID.
func (r *PathRepository) Save(ctx context.Context, tripID int64, path domain.Path) error {
	text, err := encodePath(path)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO paths (trip_id, path) VALUES (?, ?)
		 ON CONFLICT (trip_id) DO UPDATE SET path = excluded.path`,
		tripID, text)
	if err != nil {
		return fmt.Errorf("save path %d: %w", tripID, err)
	}
	return nil
}

// Get returns ErrNotFound when the trip has no stored path.
func (r *PathRepository) Get(ctx context.Context, tripID int64) (domain.Path, error) {
	var text string
	err := r.q.QueryRowContext(ctx, `SELECT path FROM paths WHERE trip_id = ?`, tripID).Scan(&text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return decodePath(tripID, text)
}

// Delete removes the path if there is one.
func (r *PathRepository) Delete(ctx context.Context, tripID int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM paths WHERE trip_id = ?`, tripID)
	return err
}

func (r *PathRepository) IDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT trip_id FROM paths ORDER BY trip_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Each calls fn for every stored path in trip id order and stops at the
// first error fn returns.
func (r *PathRepository) Each(ctx context.Context, fn func(tripID int64, path domain.Path) error) error {
	rows, err := r.q.QueryContext(ctx, `SELECT trip_id, path FROM paths ORDER BY trip_id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			text string
		)
		if err := rows.Scan(&id, &text); err != nil {
			return err
		}
		path, err := decodePath(id, text)
		if err != nil {
			return err
		}
		if err := fn(id, path); err != nil {
			return err
		}
	}
	return rows.Err()
}

func encodePath(path domain.Path) (string, error) {
	if path == nil {
		path = domain.Path{}
	}
	b, err := json.Marshal(path)
	if err != nil {
		return "", fmt.Errorf("encode path: %w", err)
	}
	return string(b), nil
}

func decodePath(tripID int64, text string) (domain.Path, error) {
	var path domain.Path
	if err := json.Unmarshal([]byte(text), &path); err != nil {
		return nil, fmt.Errorf("decode path %d: %w", tripID, err)
	}
	return path, nil
}
