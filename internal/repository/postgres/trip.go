// Package postgres implements the secondary store on PostgreSQL with PostGIS.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"trainlog/internal/domain"
	"trainlog/internal/geo"
	"trainlog/internal/repository"
	"trainlog/internal/txn"
)

// StoreName is the name the secondary store is registered under.
const StoreName = "secondary"

//go:embed schema.sql
var Schema string

// Runner runs work on a registered store with its retry budget.
type Runner interface {
	WithTransaction(ctx context.Context, name string, fn func(tx *txn.Tx) error) error
	Execute(ctx context.Context, name, label string, op func(ctx context.Context) error) error
	Store(name string) (*txn.Store, error)
}

// TripStore is the PostgreSQL implementation of repository.SecondaryStore.
// Writes go through the registry so lock timeouts and deadlocks are retried;
// reads use the pool directly.
type TripStore struct {
	db     *sql.DB
	runner Runner
}

// NewTripStore creates a secondary store over db. The registry must have db
// registered as StoreName.
func NewTripStore(db *sql.DB, runner Runner) *TripStore {
	return &TripStore{db: db, runner: runner}
}

// Ensure TripStore implements the repository interfaces.
var (
	_ repository.SecondaryStore = (*TripStore)(nil)
	_ repository.BulkTarget     = (*TripStore)(nil)
)

const tripColumnList = `
	trip_id, user_id, origin_station, destination_station, start_datetime, end_datetime,
	is_project, utc_start_datetime, utc_end_datetime, estimated_trip_duration,
	manual_trip_duration, trip_length, operator, countries, line_name, created,
	last_modified, trip_type, material_type, seat, reg, waypoints, notes, price,
	currency, ticket_id, purchase_date, carbon, visibility`

var tripColumnNames = []string{
	"trip_id", "user_id", "origin_station", "destination_station", "start_datetime", "end_datetime",
	"is_project", "utc_start_datetime", "utc_end_datetime", "estimated_trip_duration",
	"manual_trip_duration", "trip_length", "operator", "countries", "line_name", "created",
	"last_modified", "trip_type", "material_type", "seat", "reg", "waypoints", "notes", "price",
	"currency", "ticket_id", "purchase_date", "carbon", "visibility",
}

func rowArgs(r domain.TripRow) []any {
	return []any{
		r.TripID,
		r.UserID,
		r.OriginStation,
		r.DestinationStation,
		nullTime(r.StartDatetime),
		nullTime(r.EndDatetime),
		r.IsProject,
		nullTime(r.UTCStartDatetime),
		nullTime(r.UTCEndDatetime),
		r.EstimatedTripDuration,
		nullFloat(r.ManualTripDuration),
		r.TripLength,
		nullString(r.Operator),
		r.Countries,
		nullString(r.LineName),
		r.Created,
		r.LastModified,
		r.TripType,
		nullString(r.MaterialType),
		nullString(r.Seat),
		nullString(r.Reg),
		nullString(r.Waypoints),
		nullString(r.Notes),
		nullFloat(r.Price),
		r.Currency,
		nullInt(r.TicketID),
		nullTime(r.PurchaseDate),
		nullFloat(r.Carbon),
		r.Visibility,
	}
}

// InsertTrip writes the row and, when path has points, its geometry.
func (s *TripStore) InsertTrip(ctx context.Context, row domain.TripRow, path domain.Path) error {
	return s.runner.WithTransaction(ctx, StoreName, func(tx *txn.Tx) error {
		query := `INSERT INTO trips (` + tripColumnList + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`
		if _, err := tx.ExecContext(ctx, query, rowArgs(row)...); err != nil {
			return fmt.Errorf("insert trip %d: %w", row.TripID, err)
		}
		return upsertPath(ctx, tx, row.TripID, path)
	})
}

// UpdateTrip replaces every column of the row. A nil path leaves the
// geometry untouched; an empty one removes it.
func (s *TripStore) UpdateTrip(ctx context.Context, row domain.TripRow, path domain.Path) error {
	return s.runner.WithTransaction(ctx, StoreName, func(tx *txn.Tx) error {
		query := `
			UPDATE trips SET
				user_id = $2, origin_station = $3, destination_station = $4,
				start_datetime = $5, end_datetime = $6, is_project = $7,
				utc_start_datetime = $8, utc_end_datetime = $9,
				estimated_trip_duration = $10, manual_trip_duration = $11, trip_length = $12,
				operator = $13, countries = $14, line_name = $15, created = $16,
				last_modified = $17, trip_type = $18, material_type = $19, seat = $20,
				reg = $21, waypoints = $22, notes = $23, price = $24, currency = $25,
				ticket_id = $26, purchase_date = $27, carbon = $28, visibility = $29
			WHERE trip_id = $1
		`
		res, err := tx.ExecContext(ctx, query, rowArgs(row)...)
		if err != nil {
			return fmt.Errorf("update trip %d: %w", row.TripID, err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		if path == nil {
			return nil
		}
		return upsertPath(ctx, tx, row.TripID, path)
	})
}

func upsertPath(ctx context.Context, tx *txn.Tx, tripID int64, path domain.Path) error {
	if len(path) == 0 {
		_, err := tx.ExecContext(ctx, `DELETE FROM paths WHERE trip_id = $1`, tripID)
		return err
	}
	wkt, err := geo.EncodeWKT(path)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO paths (trip_id, path) VALUES ($1, ST_GeomFromText($2, $3))
		ON CONFLICT (trip_id) DO UPDATE SET path = EXCLUDED.path`,
		tripID, wkt, geo.SRID)
	if err != nil {
		return fmt.Errorf("write path %d: %w", tripID, err)
	}
	return nil
}

func (s *TripStore) DeleteTrip(ctx context.Context, id int64) error {
	return s.runner.WithTransaction(ctx, StoreName, func(tx *txn.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM paths WHERE trip_id = $1`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM trips WHERE trip_id = $1`, id)
		return err
	})
}

func (s *TripStore) AttachTicket(ctx context.Context, ticketID int64, tripIDs []int64) error {
	return s.exec(ctx, `UPDATE trips SET ticket_id = $1 WHERE trip_id = ANY($2)`, ticketID, pq.Array(tripIDs))
}

func (s *TripStore) ClearTicket(ctx context.Context, tripIDs []int64) error {
	return s.exec(ctx, `UPDATE trips SET ticket_id = NULL WHERE trip_id = ANY($1)`, pq.Array(tripIDs))
}

func (s *TripStore) SetVisibility(ctx context.Context, visibility domain.Visibility, tripIDs []int64) error {
	return s.exec(ctx, `UPDATE trips SET visibility = $1 WHERE trip_id = ANY($2)`, string(visibility), pq.Array(tripIDs))
}

func (s *TripStore) SetTripType(ctx context.Context, id int64, tripType domain.TripType, carbon *float64) error {
	return s.runner.WithTransaction(ctx, StoreName, func(tx *txn.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE trips SET trip_type = $1, carbon = $2 WHERE trip_id = $3`,
			string(tripType), nullFloat(carbon), id)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

func (s *TripStore) exec(ctx context.Context, query string, args ...any) error {
	return s.runner.WithTransaction(ctx, StoreName, func(tx *txn.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

// GetTrip retrieves a trip row by id.
func (s *TripStore) GetTrip(ctx context.Context, id int64) (*domain.TripRow, error) {
	row, err := scanRow(s.db.QueryRowContext(ctx, `SELECT `+tripColumnList+` FROM trips WHERE trip_id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return row, nil
}

// PathPointCount returns how many vertices the stored geometry has.
func (s *TripStore) PathPointCount(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT ST_NPoints(path) FROM paths WHERE trip_id = $1`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	return n, err
}

func (s *TripStore) TripIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, s.db, `SELECT trip_id FROM trips ORDER BY trip_id`)
}

func (s *TripStore) PathIDs(ctx context.Context) ([]int64, error) {
	return queryIDs(ctx, s.db, `SELECT trip_id FROM paths ORDER BY trip_id`)
}

func queryIDs(ctx context.Context, q repository.Querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner, extra ...any) (*domain.TripRow, error) {
	var (
		r                                  domain.TripRow
		start, end, utcStart, utcEnd       sql.NullTime
		purchase                           sql.NullTime
		manual, price, carbon              sql.NullFloat64
		operator, lineName, material, seat sql.NullString
		reg, waypoints, notes              sql.NullString
		ticket                             sql.NullInt64
	)

	dest := []any{
		&r.TripID,
		&r.UserID,
		&r.OriginStation,
		&r.DestinationStation,
		&start,
		&end,
		&r.IsProject,
		&utcStart,
		&utcEnd,
		&r.EstimatedTripDuration,
		&manual,
		&r.TripLength,
		&operator,
		&r.Countries,
		&lineName,
		&r.Created,
		&r.LastModified,
		&r.TripType,
		&material,
		&seat,
		&reg,
		&waypoints,
		&notes,
		&price,
		&r.Currency,
		&ticket,
		&purchase,
		&carbon,
		&r.Visibility,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	r.StartDatetime = timePtr(start)
	r.EndDatetime = timePtr(end)
	r.UTCStartDatetime = timePtr(utcStart)
	r.UTCEndDatetime = timePtr(utcEnd)
	r.PurchaseDate = timePtr(purchase)
	r.ManualTripDuration = floatPtr(manual)
	r.Price = floatPtr(price)
	r.Carbon = floatPtr(carbon)
	r.Operator = stringPtr(operator)
	r.LineName = stringPtr(lineName)
	r.MaterialType = stringPtr(material)
	r.Seat = stringPtr(seat)
	r.Reg = stringPtr(reg)
	r.Waypoints = stringPtr(waypoints)
	r.Notes = stringPtr(notes)
	if ticket.Valid {
		r.TicketID = &ticket.Int64
	}
	return &r, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
