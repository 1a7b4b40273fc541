package migration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMarkerHeld is returned by LocalMarker.Acquire while a run holds it.
var ErrMarkerHeld = errors.New("migration marker already held")

// Marker is the lock marker lifecycle operations check before writing.
// redis.LockStore is the shared implementation.
type Marker interface {
	Acquire(ctx context.Context, ttl time.Duration) (string, error)
	Release(ctx context.Context, token string) error
	MigrationInProgress(ctx context.Context) (bool, error)
}

// LocalMarker is an in-process Marker for a single server process.
type LocalMarker struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewLocalMarker() *LocalMarker {
	return &LocalMarker{now: time.Now}
}

func (m *LocalMarker) Acquire(_ context.Context, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heldLocked() {
		return "", ErrMarkerHeld
	}
	m.token = uuid.NewString()
	m.expires = time.Time{}
	if ttl > 0 {
		m.expires = m.now().Add(ttl)
	}
	return m.token, nil
}

// Release clears the marker if token still owns it.
func (m *LocalMarker) Release(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == token {
		m.token = ""
	}
	return nil
}

func (m *LocalMarker) MigrationInProgress(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heldLocked(), nil
}

func (m *LocalMarker) heldLocked() bool {
	if m.token == "" {
		return false
	}
	if !m.expires.IsZero() && !m.now().Before(m.expires) {
		m.token = ""
		return false
	}
	return true
}
