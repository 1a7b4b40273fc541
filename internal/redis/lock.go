package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MigrationLockKey marks a running bulk migration.
const MigrationLockKey = "lock:migration"

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock already held")

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

// Acquire sets the migration marker with a fresh token. It returns
// ErrLockHeld when a marker is already present.
func (s *LockStore) Acquire(ctx context.Context, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, MigrationLockKey, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("set %s: %w", MigrationLockKey, err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// Release removes the marker if token still owns it.
func (s *LockStore) Release(ctx context.Context, token string) error {
	return releaseScript.Run(ctx, s.client, []string{MigrationLockKey}, token).Err()
}

// MigrationInProgress reports whether a migration marker is set.
func (s *LockStore) MigrationInProgress(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, MigrationLockKey).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
