// Package txn coordinates write transactions across the named stores the
// application persists to.
//
// Every store is registered once at start-up with its own retry budget and
// lock wait. Writes go through WithTransaction for a single store or
// WithCoordinatedTransaction for several; the latter always opens stores in
// lexicographic name order so that overlapping callers cannot deadlock.
//
// Coordinated commits are sequential, not two-phase: a failure between two
// individual commits leaves the earlier stores committed. That window is
// reported as a PartialCommitError and is what drift detection exists for.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMaxRetries  = 5
	defaultRetryDelay  = 100 * time.Millisecond
	defaultBusyTimeout = 30 * time.Second
	defaultBeginStmt   = "BEGIN IMMEDIATE"
)

// Store is a named, independently locking persistence engine.
type Store struct {
	name        string
	db          *sql.DB
	maxRetries  int
	retryDelay  time.Duration
	busyTimeout time.Duration
	beginStmt   string
}

func (s *Store) Name() string { return s.name }
func (s *Store) DB() *sql.DB { return s.db }
func (s *Store) MaxRetries() int { return s.maxRetries }
func (s *Store) BusyTimeout() time.Duration { return s.busyTimeout }

// Option tunes a store at registration.
type Option func(*Store)

// WithMaxRetries sets the total number of attempts per operation.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// WithRetryDelay sets the base of the exponential backoff.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) { s.retryDelay = d }
}

// WithBusyTimeout bounds how long a caller waits for the store's write
// connection before the attempt counts as busy.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busyTimeout = d }
}

// WithBeginStatement overrides the statement that opens a write transaction.
// Embedded stores default to BEGIN IMMEDIATE; client-server stores use BEGIN.
func WithBeginStatement(stmt string) Option {
	return func(s *Store) { s.beginStmt = stmt }
}

func repair(s *Store) {
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.retryDelay <= 0 {
		s.retryDelay = defaultRetryDelay
	}
	if s.busyTimeout <= 0 {
		s.busyTimeout = defaultBusyTimeout
	}
	if s.beginStmt == "" {
		s.beginStmt = defaultBeginStmt
	}
}

// Registry holds every registered store for the lifetime of the process.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]*Store
	logger zerolog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(base time.Duration) time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		stores: make(map[string]*Store),
		logger: logger.With().Str("component", "txn").Logger(),
		sleep:  sleepContext,
		jitter: smallJitter,
	}
}

// Register adds a store under name. Names are registered once.
func (r *Registry) Register(name string, db *sql.DB, opts ...Option) error {
	if name == "" {
		return errors.New("txn: empty store name")
	}
	if db == nil {
		return fmt.Errorf("txn: nil handle for store %q", name)
	}

	s := &Store{name: name, db: db}
	for _, opt := range opts {
		opt(s)
	}
	repair(s)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStore, name)
	}
	r.stores[name] = s
	return nil
}

// Store returns the registered store called name.
func (r *Registry) Store(name string) (*Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotRegistered, name)
	}
	return s, nil
}

// Names lists registered stores in lock order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close closes every registered handle. Only call at shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, s := range r.stores {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// resolve validates a requested store set and returns it in lock order.
func (r *Registry) resolve(names []string) ([]*Store, error) {
	if len(names) == 0 {
		return nil, ErrNoStores
	}

	sorted := slices.Clone(names)
	slices.Sort(sorted)
	if i := duplicateAt(sorted); i >= 0 {
		return nil, fmt.Errorf("%w: %s requested twice", ErrDuplicateStore, sorted[i])
	}

	stores := make([]*Store, 0, len(sorted))
	for _, name := range sorted {
		s, err := r.Store(name)
		if err != nil {
			return nil, err
		}
		stores = append(stores, s)
	}
	return stores, nil
}

func duplicateAt(sorted []string) int {
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return i
		}
	}
	return -1
}
