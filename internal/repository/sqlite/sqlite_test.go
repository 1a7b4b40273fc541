package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainlog/internal/domain"
	"trainlog/internal/repository"
)

func openTest(t *testing.T, name, schema string) *Handles {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), name+".db"), schema, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func sampleTrip(username string) *domain.Trip {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	utc := time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC)
	price := 42.5
	return &domain.Trip{
		Username:              username,
		OriginStation:         "Paris Gare de Lyon",
		DestinationStation:    "Lyon Part-Dieu",
		Start:                 domain.At(time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)),
		End:                   domain.At(time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)),
		UTCStart:              &utc,
		TripLength:            465_000,
		EstimatedTripDuration: 7200,
		Operator:              "SNCF",
		Countries:             `{"FR": 465000}`,
		Created:               created,
		LastModified:          created,
		Type:                  domain.TripTypeTrain,
		Seat:                  "42",
		Price:                 &price,
		Currency:              "EUR",
		Visibility:            domain.VisibilityPrivate,
	}
}

// ──────────────────────────────────────────────
// TRIPS
// ──────────────────────────────────────────────

func TestTripRepository_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	h := openTest(t, "main", MainSchema)

	userID, err := NewUserRepository(h.Writer).Create(ctx, "alice")
	require.NoError(t, err)

	repo := NewTripRepository(h.Writer)
	id, err := repo.Insert(ctx, sampleTrip("alice"))
	require.NoError(t, err)

	got, err := NewTripRepository(h.Reader).GetByID(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, got.ID)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, "SNCF", got.Operator)
	assert.Equal(t, 465_000.0, got.TripLength)
	require.NotNil(t, got.Price)
	assert.Equal(t, 42.5, *got.Price)
	assert.Nil(t, got.ManualTripDuration)
	assert.Nil(t, got.TicketID)
	assert.True(t, got.Start.Known())
	assert.Equal(t, "2024-03-02 08:00:00", got.Start.String())
	require.NotNil(t, got.UTCStart)
	assert.Nil(t, got.UTCEnd)
}

func TestTripRepository_UnknownDatesRoundTripAsSentinels(t *testing.T) {
	ctx := context.Background()
	h := openTest(t, "main", MainSchema)
	repo := NewTripRepository(h.Writer)

	trip := sampleTrip("bob")
	trip.Start = domain.UnknownPast()
	trip.End = domain.UnknownFuture()
	id, err := repo.Insert(ctx, trip)
	require.NoError(t, err)

	var start, end string
	require.NoError(t, h.Writer.QueryRow(
		`SELECT start_datetime, end_datetime FROM trip WHERE uid = ?`, id).Scan(&start, &end))
	assert.Equal(t, "-1", start)
	assert.Equal(t, "1", end)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DateUnknownPast, got.Start.Kind)
	assert.Equal(t, domain.DateUnknownFuture, got.End.Kind)
	assert.True(t, got.IsProject())
}

func TestTripRepository_LooseLegacyValues(t *testing.T) {
	ctx := context.Background()
	h := openTest(t, "main", MainSchema)

	_, err := h.Writer.Exec(`
		INSERT INTO trip (username, start_datetime, end_datetime, trip_length, price, ticket_id,
			created, last_modified, type)
		VALUES ('carol', -1, -1, '', '', '', '2020-01-01 00:00:00', '2020-01-01 00:00:00', 'bus')`)
	require.NoError(t, err)

	trips, err := NewTripRepository(h.Reader).All(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 1)

	assert.Zero(t, trips[0].TripLength)
	assert.Nil(t, trips[0].Price)
	assert.Nil(t, trips[0].TicketID)
	assert.Zero(t, trips[0].UserID)
	assert.False(t, trips[0].IsProject())
}

func TestTripRepository_GetMissing(t *testing.T) {
	h := openTest(t, "main", MainSchema)

	_, err := NewTripRepository(h.Reader).GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	err = NewTripRepository(h.Writer).Delete(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTripRepository_BatchOperations(t *testing.T) {
	ctx := context.Background()
	h := openTest(t, "main", MainSchema)
	repo := NewTripRepository(h.Writer)

	a, err := repo.Insert(ctx, sampleTrip("alice"))
	require.NoError(t, err)
	b, err := repo.Insert(ctx, sampleTrip("alice"))
	require.NoError(t, err)
	c, err := repo.Insert(ctx, sampleTrip("bob"))
	require.NoError(t, err)

	n, err := repo.CountOwned(ctx, "alice", []int64{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ticket := int64(5)
	require.NoError(t, repo.SetTicket(ctx, &ticket, []int64{a, b}))
	ids, err := repo.IDsByTicket(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b}, ids)

	require.NoError(t, repo.SetTicket(ctx, nil, ids))
	ids, err = repo.IDsByTicket(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, repo.SetVisibility(ctx, domain.VisibilityPublic, []int64{c}))
	require.NoError(t, repo.SetType(ctx, a, domain.TripTypeBus))

	got, err := repo.GetByID(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityPublic, got.Visibility)

	got, err = repo.GetByID(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, domain.TripTypeBus, got.Type)

	all, err := repo.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{a, b, c}, all)
}

func TestTripRepository_UpdateKeepsOwner(t *testing.T) {
	ctx := context.Background()
	h := openTest(t, "main", MainSchema)
	repo := NewTripRepository(h.Writer)

	id, err := repo.Insert(ctx, sampleTrip("alice"))
	require.NoError(t, err)

	trip := sampleTrip("mallory")
	trip.ID = id
	trip.Notes = "rebooked"
	require.NoError(t, repo.Update(ctx, trip))

	owner, err := repo.Owner(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "rebooked", got.Notes)
}

// ──────────────────────────────────────────────
// TICKETS & USERS
// ──────────────────────────────────────────────

func TestTicketRepository(t *testing.T) {
	ctx := context.Background()
	h := openTest(t, "main", MainSchema)
	repo := NewTicketRepository(h.Writer)

	price := 89.0
	id, err := repo.Create(ctx, &Ticket{Username: "alice", Name: "Interrail", Price: &price, Currency: "EUR"})
	require.NoError(t, err)

	owner, err := repo.Owner(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Interrail", got.Name)
	assert.Nil(t, got.PurchaseDate)

	require.NoError(t, repo.Delete(ctx, id))
	_, err = repo.Owner(ctx, id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserRepository_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := openTest(t, "main", MainSchema)
	repo := NewUserRepository(h.Writer)

	first, err := repo.Create(ctx, "alice")
	require.NoError(t, err)
	second, err := repo.Create(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = repo.IDByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// ──────────────────────────────────────────────
// PATHS
// ──────────────────────────────────────────────

func TestPathRepository(t *testing.T) {
	ctx := context.Background()
	h := openTest(t, "path", PathSchema)
	repo := NewPathRepository(h.Writer)

	path := domain.Path{{Lat: 48.8443, Lng: 2.3744}, {Lat: 45.7606, Lng: 4.8593}}
	require.NoError(t, repo.Insert(ctx, 1, path))
	require.Error(t, repo.Insert(ctx, 1, path))

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	require.NoError(t, repo.Save(ctx, 1, path[:1]))
	require.NoError(t, repo.Save(ctx, 2, nil))

	got, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	seen := map[int64]int{}
	require.NoError(t, repo.Each(ctx, func(id int64, p domain.Path) error {
		seen[id] = len(p)
		return nil
	}))
	assert.Equal(t, map[int64]int{1: 1, 2: 0}, seen)

	require.NoError(t, repo.Delete(ctx, 1))
	_, err = repo.Get(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	ids, err := repo.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}
