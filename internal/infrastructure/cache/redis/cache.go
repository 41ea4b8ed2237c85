package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

const keyPrefix = "retrieval:resp:"

// ResponseCache stores serialized retrieval responses keyed by request
// fingerprint. Expiry is delegated entirely to Redis through the per-key TTL;
// there is no second bookkeeping structure.
type ResponseCache struct {
	client *redis.Client
	logger *slog.Logger
}

func NewResponseCache(client *redis.Client, logger *slog.Logger) *ResponseCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseCache{client: client, logger: logger}
}

var _ ports.ResponseCache = (*ResponseCache)(nil)

// Get returns the cached response for a fingerprint. A corrupt entry is
// treated as a miss: the bad key is deleted and the caller recomputes.
func (c *ResponseCache) Get(ctx context.Context, fingerprint string) (*domain.RetrievalResponse, bool, error) {
	key := keyPrefix + fingerprint
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var response domain.RetrievalResponse
	if err := json.Unmarshal(data, &response); err != nil {
		c.logger.Warn("cache_entry_corrupt", "fingerprint", fingerprint, "error", err)
		if delErr := c.client.Del(ctx, key).Err(); delErr != nil {
			c.logger.Warn("cache_evict_failed", "fingerprint", fingerprint, "error", delErr)
		}
		return nil, false, nil
	}
	return &response, true, nil
}

func (c *ResponseCache) Put(ctx context.Context, fingerprint string, response *domain.RetrievalResponse, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+fingerprint, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
