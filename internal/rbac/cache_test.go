package rbac

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

// mustPut fills a key the way a resolver cold path does: capture the
// generation, then write through the fence.
func mustPut(t *testing.T, c *Cache, key string, perms []string) {
	t.Helper()
	ctx := context.Background()
	gen, err := c.Generation(ctx, key)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, key, perms, gen))
}

func TestCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	key, err := c.RoleKey(ctx, 7)
	require.NoError(t, err)

	_, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, hit)

	mustPut(t, c, key, []string{"inventory.view"})
	perms, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []string{"inventory.view"}, perms)
}

func TestInvalidateDropsOnlyNamedKeys(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	roleKey, _ := c.RoleKey(ctx, 1)
	otherKey, _ := c.RoleKey(ctx, 2)
	principalKey, _ := c.PrincipalKey(ctx, 9)
	mustPut(t, c, roleKey, []string{"a"})
	mustPut(t, c, otherKey, []string{"b"})
	mustPut(t, c, principalKey, []string{"c"})

	require.NoError(t, c.Invalidate(ctx, []int64{1}, []int64{9}))

	_, hit, _ := c.Get(ctx, roleKey)
	require.False(t, hit)
	_, hit, _ = c.Get(ctx, principalKey)
	require.False(t, hit)
	_, hit, _ = c.Get(ctx, otherKey)
	require.True(t, hit)
}

func TestInvalidateFencesStaleFills(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	key, err := c.RoleKey(ctx, 1)
	require.NoError(t, err)

	// A fill starts and captures the generation.
	gen, err := c.Generation(ctx, key)
	require.NoError(t, err)

	// A mutation invalidates the key while the fill is still in flight.
	require.NoError(t, c.Invalidate(ctx, []int64{1}, nil))

	// The late write is dropped, not an error.
	require.NoError(t, c.Put(ctx, key, []string{"stale"}, gen))
	_, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, hit)

	// A fill started after the invalidation lands normally.
	mustPut(t, c, key, []string{"fresh"})
	perms, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []string{"fresh"}, perms)
}

func TestInvalidateAllBumpsVersion(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	before, err := c.RoleKey(ctx, 1)
	require.NoError(t, err)
	mustPut(t, c, before, []string{"a"})

	require.NoError(t, c.InvalidateAll(ctx))

	after, err := c.RoleKey(ctx, 1)
	require.NoError(t, err)
	require.NotEqual(t, before, after)
	_, hit, err := c.Get(ctx, after)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestCacheEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	key, _ := c.RoleKey(ctx, 1)
	mustPut(t, c, key, []string{"a"})

	mr.FastForward(2 * time.Minute)

	_, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestNilClientDegradesToMiss(t *testing.T) {
	c := NewCache(nil, time.Minute)
	ctx := context.Background()

	key, err := c.RoleKey(ctx, 1)
	require.NoError(t, err)
	gen, err := c.Generation(ctx, key)
	require.NoError(t, err)
	require.Zero(t, gen)
	require.NoError(t, c.Put(ctx, key, []string{"a"}, gen))
	_, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, hit)
	require.NoError(t, c.InvalidateAll(ctx))
}
