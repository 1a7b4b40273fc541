package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, name, schema string) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=2000&_foreign_keys=1",
		filepath.Join(t.TempDir(), name+".db"))
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

func newTestRegistry(t *testing.T) (*Registry, *sql.DB, *sql.DB) {
	t.Helper()
	r := NewRegistry(zerolog.Nop())
	r.sleep = func(context.Context, time.Duration) error { return nil }

	main := openStore(t, "main", `CREATE TABLE trip (uid INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	path := openStore(t, "path", `CREATE TABLE paths (trip_id INTEGER PRIMARY KEY, path TEXT NOT NULL)`)

	require.NoError(t, r.Register("main", main, WithBusyTimeout(2*time.Second)))
	require.NoError(t, r.Register("path", path, WithBusyTimeout(2*time.Second)))
	return r, main, path
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

var busyErr = sqlite3.Error{Code: sqlite3.ErrBusy}

// ──────────────────────────────────────────────
// REGISTRY
// ──────────────────────────────────────────────

func TestRegister_RejectsDuplicateName(t *testing.T) {
	r, main, _ := newTestRegistry(t)

	err := r.Register("main", main)
	require.ErrorIs(t, err, ErrDuplicateStore)
}

func TestRegister_AppliesDefaults(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	db := openStore(t, "x", `CREATE TABLE t (id INTEGER)`)
	require.NoError(t, r.Register("x", db))

	s, err := r.Store("x")
	require.NoError(t, err)
	assert.Equal(t, 5, s.maxRetries)
	assert.Equal(t, 100*time.Millisecond, s.retryDelay)
	assert.Equal(t, 30*time.Second, s.busyTimeout)
	assert.Equal(t, "BEGIN IMMEDIATE", s.beginStmt)
}

func TestNames_SortedLockOrder(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	assert.Equal(t, []string{"main", "path"}, r.Names())
}

// ──────────────────────────────────────────────
// RETRY EXECUTOR
// ──────────────────────────────────────────────

func TestExecute_ExhaustsAfterExactlyMaxRetries(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	var delays []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	r.jitter = func(time.Duration) time.Duration { return 0 }

	var calls int32
	err := r.Execute(context.Background(), "main", "insert trip", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return busyErr
	})

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "main", exhausted.Store)
	assert.Equal(t, "insert trip", exhausted.Label)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, delays)
}

func TestExecute_NonBusyErrorIsNotRetried(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	boom := errors.New("UNIQUE constraint failed")

	var calls int32
	err := r.Execute(context.Background(), "main", "insert", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_RecoversAfterContention(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	var calls int32
	err := r.Execute(context.Background(), "path", "read", func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecute_UnknownStore(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	err := r.Execute(context.Background(), "nope", "read", func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrStoreNotRegistered)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(busyErr))
	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrLocked}))
	assert.True(t, IsBusy(fmt.Errorf("wrapped: %w", ErrStoreBusy)))
	assert.False(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsBusy(errors.New("syntax error")))
	assert.False(t, IsBusy(nil))
}

// ──────────────────────────────────────────────
// SINGLE-STORE SCOPE
// ──────────────────────────────────────────────

func TestWithTransaction_Commits(t *testing.T) {
	r, main, _ := newTestRegistry(t)

	err := r.WithTransaction(context.Background(), "main", func(tx *Tx) error {
		_, err := tx.ExecContext(context.Background(), `INSERT INTO trip (name) VALUES ('a')`)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 1, count(t, main, "trip"))
}

func TestWithTransaction_RollsBackAndReturnsOriginalError(t *testing.T) {
	r, main, _ := newTestRegistry(t)
	boom := errors.New("boom")

	err := r.WithTransaction(context.Background(), "main", func(tx *Tx) error {
		if _, err := tx.ExecContext(context.Background(), `INSERT INTO trip (name) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, count(t, main, "trip"))
}

func TestWithTransaction_PanicRollsBackAndReleases(t *testing.T) {
	r, main, _ := newTestRegistry(t)

	require.Panics(t, func() {
		_ = r.WithTransaction(context.Background(), "main", func(tx *Tx) error {
			_, _ = tx.ExecContext(context.Background(), `INSERT INTO trip (name) VALUES ('a')`)
			panic("handler bug")
		})
	})
	assert.Equal(t, 0, count(t, main, "trip"))

	// The single write connection must be usable again and not left in a
	// transaction.
	err := r.WithTransaction(context.Background(), "main", func(tx *Tx) error {
		_, err := tx.ExecContext(context.Background(), `INSERT INTO trip (name) VALUES ('b')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, main, "trip"))
}

func TestWithTransaction_BusyConnectionTimesOut(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.sleep = func(context.Context, time.Duration) error { return nil }
	db := openStore(t, "solo", `CREATE TABLE t (id INTEGER)`)
	require.NoError(t, r.Register("solo", db, WithMaxRetries(2), WithBusyTimeout(20*time.Millisecond)))

	held, err := db.Conn(context.Background())
	require.NoError(t, err)
	defer held.Close()

	err = r.WithTransaction(context.Background(), "solo", func(*Tx) error { return nil })

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, err, ErrStoreBusy)
}

// ──────────────────────────────────────────────
// COORDINATED SCOPE
// ──────────────────────────────────────────────

func TestWithCoordinatedTransaction_Validation(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	noop := func(Txs) error { return nil }
	ctx := context.Background()

	require.ErrorIs(t, r.WithCoordinatedTransaction(ctx, nil, noop), ErrNoStores)
	require.ErrorIs(t, r.WithCoordinatedTransaction(ctx, []string{"main", "ghost"}, noop), ErrStoreNotRegistered)
	require.ErrorIs(t, r.WithCoordinatedTransaction(ctx, []string{"path", "main", "path"}, noop), ErrDuplicateStore)
}

func TestWithCoordinatedTransaction_CommitsAll(t *testing.T) {
	r, main, path := newTestRegistry(t)
	ctx := context.Background()

	err := r.WithCoordinatedTransaction(ctx, []string{"path", "main"}, func(txs Txs) error {
		res, err := txs.Get("main").ExecContext(ctx, `INSERT INTO trip (name) VALUES ('a')`)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = txs.Get("path").ExecContext(ctx, `INSERT INTO paths (trip_id, path) VALUES (?, '[]')`, id)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 1, count(t, main, "trip"))
	assert.Equal(t, 1, count(t, path, "paths"))
}

func TestWithCoordinatedTransaction_PathFailureUndoesMainInsert(t *testing.T) {
	r, main, path := newTestRegistry(t)
	ctx := context.Background()

	err := r.WithCoordinatedTransaction(ctx, []string{"main", "path"}, func(txs Txs) error {
		if _, err := txs.Get("main").ExecContext(ctx, `INSERT INTO trip (name) VALUES ('a')`); err != nil {
			return err
		}
		_, err := txs.Get("path").ExecContext(ctx, `INSERT INTO paths (trip_id, path) VALUES (1, NULL)`)
		return err
	})

	require.Error(t, err)
	assert.Equal(t, 0, count(t, main, "trip"))
	assert.Equal(t, 0, count(t, path, "paths"))
}

func TestWithCoordinatedTransaction_OpenFailureRollsBackOpened(t *testing.T) {
	r, main, _ := newTestRegistry(t)
	bad := openStore(t, "zzz", `CREATE TABLE t (id INTEGER)`)
	require.NoError(t, r.Register("zzz", bad, WithBeginStatement("BEGIN NONSENSE")))
	ctx := context.Background()

	called := false
	err := r.WithCoordinatedTransaction(ctx, []string{"zzz", "main"}, func(Txs) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)

	err = r.WithTransaction(ctx, "main", func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO trip (name) VALUES ('after')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, main, "trip"))
}

func TestWithCoordinatedTransaction_PartialCommitIsReported(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.sleep = func(context.Context, time.Duration) error { return nil }
	a := openStore(t, "a", `CREATE TABLE t (id INTEGER)`)
	b := openStore(t, "b", `
		CREATE TABLE parent (id INTEGER PRIMARY KEY);
		CREATE TABLE child (
			id INTEGER PRIMARY KEY,
			parent_id INTEGER REFERENCES parent(id) DEFERRABLE INITIALLY DEFERRED
		);`)
	require.NoError(t, r.Register("a", a))
	require.NoError(t, r.Register("b", b))
	ctx := context.Background()

	err := r.WithCoordinatedTransaction(ctx, []string{"b", "a"}, func(txs Txs) error {
		if _, err := txs.Get("a").ExecContext(ctx, `INSERT INTO t (id) VALUES (1)`); err != nil {
			return err
		}
		// The deferred foreign key only fails at COMMIT.
		_, err := txs.Get("b").ExecContext(ctx, `INSERT INTO child (id, parent_id) VALUES (1, 42)`)
		return err
	})

	var partial *PartialCommitError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"a"}, partial.Committed)
	assert.Equal(t, "b", partial.Failed)
	assert.Equal(t, 1, count(t, a, "t"))
	assert.Equal(t, 0, count(t, b, "child"))
}

func TestWithCoordinatedTransaction_OppositeOrdersDoNotDeadlock(t *testing.T) {
	r, main, path := newTestRegistry(t)
	ctx := context.Background()

	const iterations = 25
	orders := [][]string{{"path", "main"}, {"main", "path"}}

	var wg sync.WaitGroup
	errs := make(chan error, len(orders)*iterations)
	for _, order := range orders {
		wg.Add(1)
		go func(order []string) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				errs <- r.WithCoordinatedTransaction(ctx, order, func(txs Txs) error {
					if _, err := txs.Get(order[0]).ExecContext(ctx, insertFor(order[0]), i); err != nil {
						return err
					}
					_, err := txs.Get(order[1]).ExecContext(ctx, insertFor(order[1]), i)
					return err
				})
			}
		}(order)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("coordinated transactions did not finish: deadlock")
	}
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 2*iterations, count(t, main, "trip"))
	assert.Equal(t, 2*iterations, count(t, path, "paths"))
}

func insertFor(store string) string {
	if store == "main" {
		return `INSERT INTO trip (name) VALUES (?)`
	}
	return `INSERT INTO paths (path) VALUES (?)`
}
