package redis

import (
	"context"
	"time"
)

// LockStoreInterface defines the interface for the migration marker.
type LockStoreInterface interface {
	Acquire(ctx context.Context, ttl time.Duration) (string, error)
	Release(ctx context.Context, token string) error
	MigrationInProgress(ctx context.Context) (bool, error)
}

// CacheStoreInterface defines the interface for replayable responses.
type CacheStoreInterface interface {
	GetResponse(ctx context.Context, key string) (*CachedResponse, error)
	SetResponse(ctx context.Context, key string, response *CachedResponse) error
}

// Ensure concrete types implement interfaces.
var (
	_ LockStoreInterface  = (*LockStore)(nil)
	_ CacheStoreInterface = (*CacheStore)(nil)
)
