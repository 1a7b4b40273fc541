package tests

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trainlog/internal/domain"
	"trainlog/internal/drift"
	"trainlog/internal/repository/memory"
	"trainlog/internal/repository/sqlite"
	"trainlog/internal/service"
	"trainlog/internal/txn"
)

const ownerUsername = "admin"

// harness is a full lifecycle stack over real sqlite files and the
// in-memory secondary store.
type harness struct {
	main      *sqlite.Handles
	path      *sqlite.Handles
	registry  *txn.Registry
	secondary *memory.Store
	detector  *drift.Detector
	drift     *MockDriftChecker
	guard     *MockMigrationGuard
	notifier  *MockNotifier
	estimator *MockEstimator
	service   *service.TripService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	main, err := sqlite.Open(filepath.Join(dir, "main.db"), sqlite.MainSchema, 2*time.Second)
	if err != nil {
		t.Fatalf("open main: %v", err)
	}
	path, err := sqlite.Open(filepath.Join(dir, "path.db"), sqlite.PathSchema, 2*time.Second)
	if err != nil {
		t.Fatalf("open path: %v", err)
	}

	reg := txn.NewRegistry(zerolog.Nop())
	for name, db := range map[string]*sqlite.Handles{sqlite.MainStore: main, sqlite.PathStore: path} {
		if err := reg.Register(name, db.Writer, txn.WithBusyTimeout(2*time.Second), txn.WithRetryDelay(time.Millisecond)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	t.Cleanup(func() {
		_ = main.Reader.Close()
		_ = path.Reader.Close()
		_ = reg.Close()
	})

	h := &harness{
		main:      main,
		path:      path,
		registry:  reg,
		secondary: memory.NewStore(),
		guard:     NewMockMigrationGuard(),
		notifier:  NewMockNotifier(),
		estimator: NewMockEstimator(),
	}
	h.detector = drift.NewDetector(
		sqlite.NewTripRepository(main.Reader),
		sqlite.NewPathRepository(path.Reader),
		h.secondary, nil, zerolog.Nop(),
	)
	h.drift = NewMockDriftChecker(h.detector)
	h.service = service.NewTripService(reg, h.secondary, h.estimator, h.drift, h.guard, h.notifier, ownerUsername, zerolog.Nop())

	for _, u := range []string{"alice", "bob", ownerUsername} {
		if _, err := sqlite.NewUserRepository(main.Writer).Create(context.Background(), u); err != nil {
			t.Fatalf("create user %s: %v", u, err)
		}
	}
	return h
}

var berlinMunich = domain.Path{
	{Lat: 52.5251, Lng: 13.3694},
	{Lat: 51.3397, Lng: 12.3731},
	{Lat: 48.1402, Lng: 11.5600},
}

func newTrip() *domain.Trip {
	price := 79.9
	return &domain.Trip{
		OriginStation:         "Berlin Hbf",
		DestinationStation:    "München Hbf",
		Start:                 domain.At(time.Date(2024, 9, 14, 8, 2, 0, 0, time.UTC)),
		End:                   domain.At(time.Date(2024, 9, 14, 12, 31, 0, 0, time.UTC)),
		TripLength:            584_000,
		EstimatedTripDuration: 16_140,
		Operator:              "DB Fernverkehr",
		Countries:             `{"DE": 584000}`,
		LineName:              "ICE 1001",
		Type:                  domain.TripTypeTrain,
		MaterialType:          "ICE 4",
		Seat:                  "61",
		Price:                 &price,
		Currency:              "EUR",
		Path:                  berlinMunich.Clone(),
	}
}

func (h *harness) countTrips(t *testing.T) int {
	t.Helper()
	var n int
	if err := h.main.Reader.QueryRow(`SELECT COUNT(*) FROM trip`).Scan(&n); err != nil {
		t.Fatalf("count trips: %v", err)
	}
	return n
}

func (h *harness) countPaths(t *testing.T) int {
	t.Helper()
	var n int
	if err := h.path.Reader.QueryRow(`SELECT COUNT(*) FROM paths`).Scan(&n); err != nil {
		t.Fatalf("count paths: %v", err)
	}
	return n
}

func (h *harness) mustCreate(t *testing.T, username string) *domain.Trip {
	t.Helper()
	trip, err := h.service.CreateTrip(context.Background(), username, newTrip())
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return trip
}

func (h *harness) createTicket(t *testing.T, username string) int64 {
	t.Helper()
	id, err := sqlite.NewTicketRepository(h.main.Writer).Create(context.Background(), &sqlite.Ticket{
		Username: username,
		Name:     "Interrail Global Pass",
		Currency: "EUR",
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return id
}

func zerologNop() zerolog.Logger {
	return zerolog.Nop()
}
