package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/demdxx/gocast"

	"trainlog/internal/domain"
	"trainlog/internal/repository"
)

// Legacy encodings of the unknown dates in start_datetime / end_datetime.
const (
	sentinelUnknownPast   = int64(-1)
	sentinelUnknownFuture = int64(1)
)

// TripRepository reads and writes the trip table of the main store.
type TripRepository struct {
	q repository.Querier
}

// NewTripRepository binds the repository to q: a read pool for cold reads,
// or an open transaction for writes.
func NewTripRepository(q repository.Querier) *TripRepository {
	return &TripRepository{q: q}
}

const tripColumns = `
	t.uid, t.username, COALESCE(u.uid, 0),
	t.origin_station, t.destination_station, t.start_datetime, t.end_datetime,
	t.trip_length, t.estimated_trip_duration, t.manual_trip_duration,
	COALESCE(t.operator, ''), COALESCE(t.countries, ''),
	t.utc_start_datetime, t.utc_end_datetime, t.created, t.last_modified,
	COALESCE(t.line_name, ''), t.type, COALESCE(t.material_type, ''),
	COALESCE(t.seat, ''), COALESCE(t.reg, ''), COALESCE(t.waypoints, ''), COALESCE(t.notes, ''),
	t.price, COALESCE(t.currency, ''), t.purchasing_date, t.ticket_id, t.visibility`

const tripFrom = `FROM trip t LEFT JOIN users u ON u.username = t.username`

// Insert writes a new trip and returns the id the store assigned.
func (r *TripRepository) Insert(ctx context.Context, trip *domain.Trip) (int64, error) {
	query := `
		INSERT INTO trip (
			username, origin_station, destination_station, start_datetime, end_datetime,
			trip_length, estimated_trip_duration, manual_trip_duration, operator, countries,
			utc_start_datetime, utc_end_datetime, created, last_modified, line_name, type,
			material_type, seat, reg, waypoints, notes, price, currency, purchasing_date,
			ticket_id, visibility
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := r.q.ExecContext(ctx, query,
		trip.Username,
		trip.OriginStation,
		trip.DestinationStation,
		encodeBound(trip.Start),
		encodeBound(trip.End),
		trip.TripLength,
		trip.EstimatedTripDuration,
		nullFloat(trip.ManualTripDuration),
		trip.Operator,
		trip.Countries,
		nullTime(trip.UTCStart),
		nullTime(trip.UTCEnd),
		trip.Created.Format(domain.DateLayout),
		trip.LastModified.Format(domain.DateLayout),
		trip.LineName,
		string(trip.Type),
		trip.MaterialType,
		trip.Seat,
		trip.Reg,
		trip.Waypoints,
		trip.Notes,
		nullFloat(trip.Price),
		trip.Currency,
		nullTime(trip.PurchaseDate),
		nullInt(trip.TicketID),
		string(trip.Visibility),
	)
	if err != nil {
		return 0, fmt.Errorf("insert trip: %w", err)
	}
	return res.LastInsertId()
}

// GetByID returns the trip's scalar fields. The path lives in the path store.
func (r *TripRepository) GetByID(ctx context.Context, id int64) (*domain.Trip, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+tripColumns+` `+tripFrom+` WHERE t.uid = ?`, id)
	trip, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return trip, nil
}

// All returns every trip in id order.
func (r *TripRepository) All(ctx context.Context) ([]*domain.Trip, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+tripColumns+` `+tripFrom+` ORDER BY t.uid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// Owner returns the username owning trip id.
func (r *TripRepository) Owner(ctx context.Context, id int64) (string, error) {
	var username string
	err := r.q.QueryRowContext(ctx, `SELECT username FROM trip WHERE uid = ?`, id).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", repository.ErrNotFound
	}
	return username, err
}

// Update overwrites every scalar field except the owner.
func (r *TripRepository) Update(ctx context.Context, trip *domain.Trip) error {
	query := `
		UPDATE trip SET
			origin_station = ?, destination_station = ?, start_datetime = ?, end_datetime = ?,
			trip_length = ?, estimated_trip_duration = ?, manual_trip_duration = ?, operator = ?,
			countries = ?, utc_start_datetime = ?, utc_end_datetime = ?, created = ?,
			last_modified = ?, line_name = ?, type = ?, material_type = ?, seat = ?, reg = ?,
			waypoints = ?, notes = ?, price = ?, currency = ?, purchasing_date = ?,
			ticket_id = ?, visibility = ?
		WHERE uid = ?
	`

	res, err := r.q.ExecContext(ctx, query,
		trip.OriginStation,
		trip.DestinationStation,
		encodeBound(trip.Start),
		encodeBound(trip.End),
		trip.TripLength,
		trip.EstimatedTripDuration,
		nullFloat(trip.ManualTripDuration),
		trip.Operator,
		trip.Countries,
		nullTime(trip.UTCStart),
		nullTime(trip.UTCEnd),
		trip.Created.Format(domain.DateLayout),
		trip.LastModified.Format(domain.DateLayout),
		trip.LineName,
		string(trip.Type),
		trip.MaterialType,
		trip.Seat,
		trip.Reg,
		trip.Waypoints,
		trip.Notes,
		nullFloat(trip.Price),
		trip.Currency,
		nullTime(trip.PurchaseDate),
		nullInt(trip.TicketID),
		string(trip.Visibility),
		trip.ID,
	)
	if err != nil {
		return fmt.Errorf("update trip %d: %w", trip.ID, err)
	}
	return expectOne(res)
}

func (r *TripRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM trip WHERE uid = ?`, id)
	if err != nil {
		return fmt.Errorf("delete trip %d: %w", id, err)
	}
	return expectOne(res)
}

// CountOwned counts how many of ids exist and belong to username.
func (r *TripRepository) CountOwned(ctx context.Context, username string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `SELECT COUNT(*) FROM trip WHERE username = ? AND uid IN (` + placeholders(len(ids)) + `)`
	args := append([]any{username}, int64Args(ids)...)

	var n int
	err := r.q.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// SetTicket links ids to ticketID, or unlinks them when ticketID is nil.
func (r *TripRepository) SetTicket(ctx context.Context, ticketID *int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE trip SET ticket_id = ? WHERE uid IN (` + placeholders(len(ids)) + `)`
	args := append([]any{nullInt(ticketID)}, int64Args(ids)...)
	_, err := r.q.ExecContext(ctx, query, args...)
	return err
}

// IDsByTicket lists the trips linked to a ticket.
func (r *TripRepository) IDsByTicket(ctx context.Context, ticketID int64) ([]int64, error) {
	return r.ids(ctx, `SELECT uid FROM trip WHERE ticket_id = ? ORDER BY uid`, ticketID)
}

func (r *TripRepository) SetVisibility(ctx context.Context, visibility domain.Visibility, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE trip SET visibility = ? WHERE uid IN (` + placeholders(len(ids)) + `)`
	args := append([]any{string(visibility)}, int64Args(ids)...)
	_, err := r.q.ExecContext(ctx, query, args...)
	return err
}

func (r *TripRepository) SetType(ctx context.Context, id int64, tripType domain.TripType) error {
	res, err := r.q.ExecContext(ctx, `UPDATE trip SET type = ? WHERE uid = ?`, string(tripType), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// IDs lists every trip id in order.
func (r *TripRepository) IDs(ctx context.Context) ([]int64, error) {
	return r.ids(ctx, `SELECT uid FROM trip ORDER BY uid`)
}

func (r *TripRepository) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
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

func scanTrip(s scanner) (*domain.Trip, error) {
	var (
		trip                  domain.Trip
		start, end            any
		length, estimated     any
		manual, price, ticket any
		utcStart, utcEnd      sql.NullString
		created, modified     string
		purchase              sql.NullString
		tripType, visibility  string
	)

	if err := s.Scan(
		&trip.ID,
		&trip.Username,
		&trip.UserID,
		&trip.OriginStation,
		&trip.DestinationStation,
		&start,
		&end,
		&length,
		&estimated,
		&manual,
		&trip.Operator,
		&trip.Countries,
		&utcStart,
		&utcEnd,
		&created,
		&modified,
		&trip.LineName,
		&tripType,
		&trip.MaterialType,
		&trip.Seat,
		&trip.Reg,
		&trip.Waypoints,
		&trip.Notes,
		&price,
		&trip.Currency,
		&purchase,
		&ticket,
		&visibility,
	); err != nil {
		return nil, err
	}

	var err error
	if trip.Start, err = decodeBound(start); err != nil {
		return nil, fmt.Errorf("trip %d start: %w", trip.ID, err)
	}
	if trip.End, err = decodeBound(end); err != nil {
		return nil, fmt.Errorf("trip %d end: %w", trip.ID, err)
	}
	if trip.Created, err = domain.ParseDate(created); err != nil {
		return nil, fmt.Errorf("trip %d created: %w", trip.ID, err)
	}
	if trip.LastModified, err = domain.ParseDate(modified); err != nil {
		return nil, fmt.Errorf("trip %d last_modified: %w", trip.ID, err)
	}
	if trip.UTCStart, err = parseNullTime(utcStart); err != nil {
		return nil, err
	}
	if trip.UTCEnd, err = parseNullTime(utcEnd); err != nil {
		return nil, err
	}
	if trip.PurchaseDate, err = parseNullTime(purchase); err != nil {
		return nil, err
	}

	if v := looseFloat(length); v != nil {
		trip.TripLength = *v
	}
	if v := looseFloat(estimated); v != nil {
		trip.EstimatedTripDuration = *v
	}
	trip.ManualTripDuration = looseFloat(manual)
	trip.Price = looseFloat(price)
	trip.TicketID = looseInt(ticket)
	trip.Type = domain.TripType(tripType)
	trip.Visibility = domain.Visibility(visibility)

	return &trip, nil
}

// encodeBound keeps the legacy column encoding: a timestamp, or -1 / 1 for
// the unknown past and future.
func encodeBound(d domain.DateBound) any {
	switch d.Kind {
	case domain.DateUnknownPast:
		return sentinelUnknownPast
	case domain.DateUnknownFuture:
		return sentinelUnknownFuture
	default:
		return d.Time.Format(domain.DateLayout)
	}
}

// decodeBound accepts the sentinel stored as an integer or as text.
func decodeBound(v any) (domain.DateBound, error) {
	if v == nil {
		return domain.UnknownPast(), nil
	}
	s := gocast.ToString(v)
	switch s {
	case "", "-1":
		return domain.UnknownPast(), nil
	case "1":
		return domain.UnknownFuture(), nil
	}
	t, err := domain.ParseDate(s)
	if err != nil {
		return domain.DateBound{}, err
	}
	return domain.At(t), nil
}

// looseFloat reads numeric columns older rows filled with text, including
// the empty string for "not set".
func looseFloat(v any) *float64 {
	if v == nil || gocast.ToString(v) == "" {
		return nil
	}
	f := gocast.ToFloat64(v)
	return &f
}

func looseInt(v any) *int64 {
	if v == nil || gocast.ToString(v) == "" {
		return nil
	}
	n := gocast.ToInt64(v)
	return &n
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := domain.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(domain.DateLayout), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
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
