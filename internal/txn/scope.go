package txn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
)

// Tx is an open write transaction on one store. It satisfies the
// repositories' Querier interface.
type Tx struct {
	store   *Store
	conn    *sql.Conn
	done    bool
	discard bool
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.conn.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.conn.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.conn.QueryRowContext(ctx, query, args...)
}

// Conn exposes the underlying connection for driver-specific work such
// as bulk copy.
func (t *Tx) Conn() *sql.Conn { return t.conn }

// StoreName returns the name the transaction was opened on.
func (t *Tx) StoreName() string { return t.store.name }

// Txs holds the transactions of a coordinated scope, keyed by store name.
type Txs map[string]*Tx

// Get returns the transaction for name, or nil when it was not requested.
func (t Txs) Get(name string) *Tx { return t[name] }

// WithTransaction runs fn inside an exclusive write transaction on the
// named store. fn's error, or panic, rolls the transaction back; otherwise
// it is committed. Begin and commit are retried on contention.
func (r *Registry) WithTransaction(ctx context.Context, name string, fn func(tx *Tx) error) (err error) {
	s, err := r.Store(name)
	if err != nil {
		return err
	}

	tx, err := r.begin(ctx, s)
	if err != nil {
		return err
	}
	defer r.release(tx)

	defer func() {
		if p := recover(); p != nil {
			r.rollback(tx)
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		r.rollback(tx)
		return err
	}
	return r.commit(ctx, tx)
}

// WithCoordinatedTransaction opens a transaction on every named store in
// lexicographic order, hands them to fn together and then commits them in
// that same order. Any failure before the first commit rolls back every
// opened store in reverse order and returns the original error.
func (r *Registry) WithCoordinatedTransaction(ctx context.Context, names []string, fn func(txs Txs) error) (err error) {
	stores, err := r.resolve(names)
	if err != nil {
		return err
	}

	opened := make([]*Tx, 0, len(stores))
	defer func() {
		for _, tx := range opened {
			r.release(tx)
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			r.rollbackAll(opened)
			panic(p)
		}
	}()

	for _, s := range stores {
		tx, err := r.begin(ctx, s)
		if err != nil {
			r.rollbackAll(opened)
			return fmt.Errorf("open %s: %w", s.name, err)
		}
		opened = append(opened, tx)
	}

	txs := make(Txs, len(opened))
	for _, tx := range opened {
		txs[tx.store.name] = tx
	}

	if err = fn(txs); err != nil {
		r.rollbackAll(opened)
		return err
	}

	for i, tx := range opened {
		if err := r.commit(ctx, tx); err != nil {
			r.rollbackAll(opened[i+1:])
			if i == 0 {
				return err
			}
			committed := make([]string, 0, i)
			for _, c := range opened[:i] {
				committed = append(committed, c.store.name)
			}
			r.logger.Error().
				Strs("committed", committed).
				Str("failed", tx.store.name).
				Err(err).
				Msg("coordinated commit left stores out of step")
			return &PartialCommitError{Committed: committed, Failed: tx.store.name, Err: err}
		}
	}
	return nil
}

// begin takes the store's write connection and opens a transaction on it.
// Waiting longer than the busy timeout for the connection counts as busy.
func (r *Registry) begin(ctx context.Context, s *Store) (*Tx, error) {
	var tx *Tx
	err := r.retry(ctx, s, "begin", func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, s.busyTimeout)
		defer cancel()

		conn, err := s.db.Conn(connCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w: %s", ErrStoreBusy, s.name)
			}
			return err
		}

		if _, err := conn.ExecContext(ctx, s.beginStmt); err != nil {
			_ = conn.Close()
			return err
		}
		tx = &Tx{store: s, conn: conn}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// commit must run to completion even when the caller has gone away, so it
// ignores cancellation. A commit that still fails is rolled back.
func (r *Registry) commit(ctx context.Context, tx *Tx) error {
	ctx = context.WithoutCancel(ctx)
	err := r.retry(ctx, tx.store, "commit", func(ctx context.Context) error {
		_, err := tx.conn.ExecContext(ctx, "COMMIT")
		return err
	})
	if err != nil {
		r.rollback(tx)
		return err
	}
	tx.done = true
	return nil
}

// rollback never raises. A connection whose rollback failed may still be
// inside a transaction, so it is discarded instead of returned to the pool.
func (r *Registry) rollback(tx *Tx) {
	if tx.done {
		return
	}
	tx.done = true
	if _, err := tx.conn.ExecContext(context.Background(), "ROLLBACK"); err != nil {
		tx.discard = true
		r.logger.Error().Str("store", tx.store.name).Err(err).Msg("rollback failed")
	}
}

func (r *Registry) rollbackAll(opened []*Tx) {
	for i := len(opened) - 1; i >= 0; i-- {
		r.rollback(opened[i])
	}
}

func (r *Registry) release(tx *Tx) {
	if tx.discard {
		_ = tx.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	if err := tx.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		r.logger.Warn().Str("store", tx.store.name).Err(err).Msg("release connection")
	}
}
