package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"trainlog/internal/domain"
	"trainlog/internal/geo"
	"trainlog/internal/repository"
	"trainlog/internal/txn"
)

// Quiesce opens a transaction holding SHARE locks on trips and paths:
// concurrent readers proceed, concurrent writers queue behind it. Each lock
// attempt waits at most the store's busy timeout and is retried within the
// store's budget.
func (s *TripStore) Quiesce(ctx context.Context) (repository.BulkSession, error) {
	store, err := s.runner.Store(StoreName)
	if err != nil {
		return nil, err
	}
	stmts := []string{
		lockTimeoutStatement(store.BusyTimeout()),
		`LOCK TABLE trips, paths IN SHARE MODE`,
	}

	var tx *sql.Tx
	err = s.runner.Execute(ctx, StoreName, "quiesce", func(ctx context.Context) error {
		t, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin bulk session: %w", err)
		}
		for _, stmt := range stmts {
			if _, err := t.ExecContext(ctx, stmt); err != nil {
				_ = t.Rollback()
				return fmt.Errorf("lock secondary tables: %w", err)
			}
		}
		tx = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bulkSession{tx: tx}, nil
}

// lockTimeoutStatement bounds lock waits for the rest of the transaction.
// A wait that runs out fails with 55P03, which the registry retries.
func lockTimeoutStatement(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)
}

type bulkSession struct {
	tx *sql.Tx
}

// ReplaceTrips empties trips and streams rows in with COPY.
func (b *bulkSession) ReplaceTrips(ctx context.Context, rows []domain.TripRow) (int, error) {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM trips`); err != nil {
		return 0, fmt.Errorf("clear trips: %w", err)
	}

	stmt, err := b.tx.PrepareContext(ctx, pq.CopyIn("trips", tripColumnNames...))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, rowArgs(r)...); err != nil {
			return 0, fmt.Errorf("copy trip %d: %w", r.TripID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, fmt.Errorf("flush trips copy: %w", err)
	}
	return len(rows), nil
}

// ReplacePaths empties paths and loads the geometries through a text
// staging table, since COPY cannot call ST_GeomFromText.
func (b *bulkSession) ReplacePaths(ctx context.Context, paths []domain.PathGeometry) (int, error) {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM paths`); err != nil {
		return 0, fmt.Errorf("clear paths: %w", err)
	}
	if _, err := b.tx.ExecContext(ctx,
		`CREATE TEMP TABLE paths_staging (trip_id BIGINT, wkt TEXT) ON COMMIT DROP`); err != nil {
		return 0, fmt.Errorf("create staging: %w", err)
	}

	stmt, err := b.tx.PrepareContext(ctx, pq.CopyIn("paths_staging", "trip_id", "wkt"))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.ExecContext(ctx, p.TripID, p.WKT); err != nil {
			return 0, fmt.Errorf("copy path %d: %w", p.TripID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, fmt.Errorf("flush paths copy: %w", err)
	}

	res, err := b.tx.ExecContext(ctx,
		`INSERT INTO paths (trip_id, path) SELECT trip_id, ST_GeomFromText(wkt, $1) FROM paths_staging`,
		geo.SRID)
	if err != nil {
		return 0, fmt.Errorf("load paths: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (b *bulkSession) Commit() error   { return b.tx.Commit() }
func (b *bulkSession) Rollback() error { return b.tx.Rollback() }

// RecomputeDerived fills in carbon for rows that lack it. Rows are walked by
// trip_id keyset, each batch in its own transaction.
func (s *TripStore) RecomputeDerived(ctx context.Context, batchSize int, compute repository.DeriveFunc) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var (
		total int
		last  int64
	)
	for {
		n, next, err := s.recomputeBatch(ctx, last, batchSize, compute)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		last = next
	}
}

func (s *TripStore) recomputeBatch(ctx context.Context, after int64, limit int, compute repository.DeriveFunc) (int, int64, error) {
	type pending struct {
		id     int64
		carbon float64
	}
	var batch []pending

	err := s.runner.WithTransaction(ctx, StoreName, func(tx *txn.Tx) error {
		batch = batch[:0]
		rows, err := tx.QueryContext(ctx, `
			SELECT `+qualified("t")+`, COALESCE(ST_AsText(p.path), '')
			FROM trips t LEFT JOIN paths p ON p.trip_id = t.trip_id
			WHERE t.carbon IS NULL AND t.trip_id > $1
			ORDER BY t.trip_id
			LIMIT $2
			FOR UPDATE OF t`, after, limit)
		if err != nil {
			return err
		}

		for rows.Next() {
			var wkt string
			row, err := scanRow(rows, &wkt)
			if err != nil {
				rows.Close()
				return err
			}
			var path domain.Path
			if wkt != "" {
				if path, err = geo.DecodeWKT(wkt); err != nil {
					rows.Close()
					return fmt.Errorf("trip %d geometry: %w", row.TripID, err)
				}
			}
			batch = append(batch, pending{id: row.TripID, carbon: compute(row, path)})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, p := range batch {
			if _, err := tx.ExecContext(ctx, `UPDATE trips SET carbon = $1 WHERE trip_id = $2`, p.carbon, p.id); err != nil {
				return fmt.Errorf("update carbon %d: %w", p.id, err)
			}
		}
		return nil
	})
	if err != nil || len(batch) == 0 {
		return 0, after, err
	}
	return len(batch), batch[len(batch)-1].id, nil
}

// qualified prefixes every trip column with alias.
func qualified(alias string) string {
	cols := make([]string, len(tripColumnNames))
	for i, c := range tripColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}
