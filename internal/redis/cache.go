package redis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseTTL is how long a replayable response is kept.
const ResponseTTL = 24 * time.Hour

const responseCachePrefix = "idempotency:"

// CachedResponse is an HTTP response stored for replay under an
// Idempotency-Key.
type CachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// CacheStore handles replayable responses in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// GetResponse returns nil, nil on a cache miss.
func (s *CacheStore) GetResponse(ctx context.Context, key string) (*CachedResponse, error) {
	data, err := s.client.Get(ctx, responseCachePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

// SetResponse stores a response for ResponseTTL.
func (s *CacheStore) SetResponse(ctx context.Context, key string, response *CachedResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, responseCachePrefix+key, data, ResponseTTL).Err()
}
