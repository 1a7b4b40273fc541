package postgres

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainlog/internal/domain"
	"trainlog/internal/repository"
	"trainlog/internal/txn"
)

func TestRowArgs_MatchesColumnOrder(t *testing.T) {
	notes := "aisle"
	r := domain.TripRow{TripID: 3, UserID: 9, Notes: &notes, TripType: "bus", Visibility: "public"}

	args := rowArgs(r)
	require.Len(t, args, len(tripColumnNames))

	idx := func(col string) int {
		for i, c := range tripColumnNames {
			if c == col {
				return i
			}
		}
		t.Fatalf("no column %s", col)
		return -1
	}

	assert.Equal(t, int64(3), args[idx("trip_id")])
	assert.Equal(t, sql.NullString{String: "aisle", Valid: true}, args[idx("notes")])
	assert.Equal(t, sql.NullString{}, args[idx("operator")])
	assert.Equal(t, sql.NullTime{}, args[idx("start_datetime")])
	assert.Equal(t, sql.NullFloat64{}, args[idx("carbon")])
	assert.Equal(t, "public", args[idx("visibility")])
}

func TestColumnListAgreesWithNames(t *testing.T) {
	fields := strings.Split(tripColumnList, ",")
	require.Len(t, fields, len(tripColumnNames))
	for i, f := range fields {
		assert.Equal(t, tripColumnNames[i], strings.TrimSpace(f))
	}
	assert.True(t, strings.HasPrefix(qualified("t"), "t.trip_id, t.user_id"))
}

func TestLockTimeoutStatement(t *testing.T) {
	assert.Equal(t, "SET LOCAL lock_timeout = 1500", lockTimeoutStatement(1500*time.Millisecond))
	assert.Equal(t, "SET LOCAL lock_timeout = 1", lockTimeoutStatement(0))
}

// ──────────────────────────────────────────────
// INTEGRATION (needs PostGIS)
// ──────────────────────────────────────────────

func openPostgres(t *testing.T) (*TripStore, *sql.DB) {
	t.Helper()
	dsn := os.Getenv("TRAINLOG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRAINLOG_TEST_POSTGRES_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(Schema)
	require.NoError(t, err)
	_, err = db.Exec(`TRUNCATE trips, paths`)
	require.NoError(t, err)

	reg := txn.NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(StoreName, db, txn.WithBeginStatement("BEGIN")))
	return NewTripStore(db, reg), db
}

func TestTripStore_Lifecycle(t *testing.T) {
	store, _ := openPostgres(t)
	ctx := context.Background()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	row := domain.TripRow{
		TripID: 1, UserID: 2, OriginStation: "Bern", DestinationStation: "Thun",
		Created: created, LastModified: created, TripType: "train", Visibility: "private",
	}
	path := domain.Path{{Lat: 46.948, Lng: 7.439}, {Lat: 46.754, Lng: 7.629}}

	require.NoError(t, store.InsertTrip(ctx, row, path))

	got, err := store.GetTrip(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Thun", got.DestinationStation)
	assert.Nil(t, got.StartDatetime)
	assert.True(t, created.Equal(got.Created))

	n, err := store.PathPointCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c := 1.25
	require.NoError(t, store.SetTripType(ctx, 1, domain.TripTypeBus, &c))
	require.NoError(t, store.AttachTicket(ctx, 7, []int64{1}))
	got, err = store.GetTrip(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "bus", got.TripType)
	assert.Equal(t, int64(7), *got.TicketID)

	require.NoError(t, store.DeleteTrip(ctx, 1))
	_, err = store.GetTrip(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTripStore_BulkReplaceAndRecompute(t *testing.T) {
	store, _ := openPostgres(t)
	ctx := context.Background()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := []domain.TripRow{
		{TripID: 1, UserID: 1, Created: created, LastModified: created, TripType: "train", TripLength: 1000, Visibility: "private"},
		{TripID: 2, UserID: 1, Created: created, LastModified: created, TripType: "bus", TripLength: 2000, Visibility: "private"},
	}

	sess, err := store.Quiesce(ctx)
	require.NoError(t, err)
	n, err := sess.ReplaceTrips(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = sess.ReplacePaths(ctx, []domain.PathGeometry{{TripID: 1, WKT: "POINT(7.4 46.9)"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, sess.Commit())

	n, err = store.RecomputeDerived(ctx, 1, func(r *domain.TripRow, _ domain.Path) float64 { return r.TripLength / 1000 })
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.GetTrip(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got.Carbon)
	assert.Equal(t, 2.0, *got.Carbon)
}

func TestQuiesce_GivesUpWhileAWriterHoldsTheTables(t *testing.T) {
	_, db := openPostgres(t)
	ctx := context.Background()

	reg := txn.NewRegistry(zerolog.Nop())
	require.NoError(t, reg.Register(StoreName, db,
		txn.WithBeginStatement("BEGIN"),
		txn.WithMaxRetries(2),
		txn.WithRetryDelay(time.Millisecond),
		txn.WithBusyTimeout(100*time.Millisecond),
	))
	store := NewTripStore(db, reg)

	writer, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer writer.Rollback()
	_, err = writer.ExecContext(ctx, `LOCK TABLE trips IN ROW EXCLUSIVE MODE`)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := store.Quiesce(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		var exhausted *txn.RetryExhaustedError
		assert.ErrorAs(t, err, &exhausted)
	case <-time.After(10 * time.Second):
		t.Fatal("quiesce kept waiting on the held lock")
	}

	require.NoError(t, writer.Rollback())
	sess, err := store.Quiesce(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Rollback())
}
