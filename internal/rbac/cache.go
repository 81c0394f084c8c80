package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "authz:version"

// putFenced stores a set only while the key's generation still matches the
// one captured before the fill started. An invalidation bumps the
// generation, so a fill that raced it is discarded instead of resurrecting
// pre-mutation state.
var putFenced = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
if cur ~= tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// Cache memoizes resolved permission sets in Redis. Keys embed a global
// version so a full flush is a single INCR; precise invalidation deletes
// individual keys and bumps their fence generations. A nil client degrades
// to always-miss, which only costs recomputation.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the resolution cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// version returns the current cache version, initialising when missing.
func (c *Cache) version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// RoleKey composes the cache key for a role's effective permission set.
func (c *Cache) RoleKey(ctx context.Context, roleID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("authz:v%d:role:%d", ver, roleID), nil
}

// PrincipalKey composes the cache key for a principal's effective set.
func (c *Cache) PrincipalKey(ctx context.Context, principalID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("authz:v%d:principal:%d", ver, principalID), nil
}

// Get returns the cached set for a key, or a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]string, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var perms []string
	if err := json.Unmarshal(payload, &perms); err != nil {
		return nil, false, err
	}
	return perms, true, nil
}

// Generation returns the fence generation of a key, to be captured before
// the repository reads of a cache fill. Missing generations read as zero.
func (c *Cache) Generation(ctx context.Context, key string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, genKey(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return gen, nil
}

// Put stores the set under the key, fenced on the generation captured via
// Generation. If an invalidation moved the generation since, the write is
// silently dropped; the next read recomputes against current state.
func (c *Cache) Put(ctx context.Context, key string, perms []string, gen int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	return putFenced.Run(ctx, c.client, []string{key, genKey(key)},
		payload, gen, c.ttl.Milliseconds()).Err()
}

// Invalidate drops the cached sets for specific roles and principals and
// bumps their generations so in-flight fills cannot restore them.
func (c *Cache) Invalidate(ctx context.Context, roleIDs, principalIDs []int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	if len(roleIDs) == 0 && len(principalIDs) == 0 {
		return nil
	}
	ver, err := c.version(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(roleIDs)+len(principalIDs))
	for _, id := range roleIDs {
		keys = append(keys, fmt.Sprintf("authz:v%d:role:%d", ver, id))
	}
	for _, id := range principalIDs {
		keys = append(keys, fmt.Sprintf("authz:v%d:principal:%d", ver, id))
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, keys...)
	for _, key := range keys {
		pipe.Incr(ctx, genKey(key))
		// Generations only need to outlive in-flight fills; letting them
		// lapse afterwards merely resets the fence to zero.
		pipe.Expire(ctx, genKey(key), 2*c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func genKey(key string) string {
	return key + ":gen"
}

// InvalidateAll flushes every cached set by bumping the global version.
// Administrative recovery hatch; correctness never depends on it.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
