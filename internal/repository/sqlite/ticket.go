package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trainlog/internal/domain"
	"trainlog/internal/repository"
)

// Ticket is a purchase several trips can share.
type Ticket struct {
	ID           int64
	Username     string
	Name         string
	Price        *float64
	Currency     string
	PurchaseDate *time.Time
}

type TicketRepository struct {
	q repository.Querier
}

func NewTicketRepository(q repository.Querier) *TicketRepository {
	return &TicketRepository{q: q}
}

func (r *TicketRepository) Create(ctx context.Context, t *Ticket) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO tickets (username, name, price, currency, purchasing_date) VALUES (?, ?, ?, ?, ?)`,
		t.Username, t.Name, nullFloat(t.Price), t.Currency, nullTime(t.PurchaseDate),
	)
	if err != nil {
		return 0, fmt.Errorf("insert ticket: %w", err)
	}
	return res.LastInsertId()
}

// Owner returns the username that bought the ticket.
func (r *TicketRepository) Owner(ctx context.Context, id int64) (string, error) {
	var username string
	err := r.q.QueryRowContext(ctx, `SELECT username FROM tickets WHERE uid = ?`, id).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", repository.ErrNotFound
	}
	return username, err
}

func (r *TicketRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM tickets WHERE uid = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *TicketRepository) GetByID(ctx context.Context, id int64) (*Ticket, error) {
	var (
		t        Ticket
		price    sql.NullFloat64
		purchase sql.NullString
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT uid, username, name, price, currency, purchasing_date FROM tickets WHERE uid = ?`, id,
	).Scan(&t.ID, &t.Username, &t.Name, &price, &t.Currency, &purchase)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if price.Valid {
		t.Price = &price.Float64
	}
	if purchase.Valid && purchase.String != "" {
		at, err := domain.ParseDate(purchase.String)
		if err != nil {
			return nil, fmt.Errorf("ticket %d purchasing_date: %w", id, err)
		}
		t.PurchaseDate = &at
	}
	return &t, nil
}
