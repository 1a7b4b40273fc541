package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"trainlog/internal/repository"
)

// UserRepository resolves usernames to the numeric ids the secondary
// store keys trips by.
type UserRepository struct {
	q repository.Querier
}

func NewUserRepository(q repository.Querier) *UserRepository {
	return &UserRepository{q: q}
}

// Create registers username and returns its id. An existing user keeps
// its id.
func (r *UserRepository) Create(ctx context.Context, username string) (int64, error) {
	if _, err := r.q.ExecContext(ctx, `INSERT OR IGNORE INTO users (username) VALUES (?)`, username); err != nil {
		return 0, err
	}
	return r.IDByUsername(ctx, username)
}

func (r *UserRepository) IDByUsername(ctx context.Context, username string) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `SELECT uid FROM users WHERE username = ?`, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	return id, err
}
