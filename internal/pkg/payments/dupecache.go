package payments

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// duplicateCacheTTL bounds how long an event id stays in the fast path.
// Redeliveries older than this fall through to the ledger, which remains
// authoritative.
const duplicateCacheTTL = 24 * time.Hour

// RedisDuplicateCache fronts the idempotency ledger with a cache lookup so
// that redelivery storms skip the database insert. Cache errors are treated
// as "not seen"; correctness never depends on the cache.
type RedisDuplicateCache struct {
	client *redis.Client
}

func NewRedisDuplicateCache(client *redis.Client) *RedisDuplicateCache {
	return &RedisDuplicateCache{client: client}
}

func dupeKey(provider, providerEventID string) string {
	return "webhook:seen:" + provider + ":" + providerEventID
}

func (c *RedisDuplicateCache) Seen(ctx context.Context, provider, providerEventID string) bool {
	if c.client == nil {
		return false
	}
	count, err := c.client.Exists(ctx, dupeKey(provider, providerEventID)).Result()
	if err != nil {
		return false
	}
	return count > 0
}

func (c *RedisDuplicateCache) Remember(ctx context.Context, provider, providerEventID string) {
	if c.client == nil {
		return
	}
	c.client.Set(ctx, dupeKey(provider, providerEventID), "1", duplicateCacheTTL)
}
