package lockmgr

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTryAcquireIsExclusive(t *testing.T) {
	client := setupTestRedis(t)
	mgr := NewManager(client)
	ctx := context.Background()

	lease, ok, err := mgr.TryAcquire(ctx, "cycle-test", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, lease)

	_, ok, err = mgr.TryAcquire(ctx, "cycle-test", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must not succeed while lease is held")

	require.NoError(t, lease.Release(ctx))

	_, ok, err = mgr.TryAcquire(ctx, "cycle-test", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock must be available after release")
}

func TestLeaseExpiresOnItsOwn(t *testing.T) {
	client := setupTestRedis(t)
	mgr := NewManager(client)
	ctx := context.Background()

	_, ok, err := mgr.TryAcquire(ctx, "crash-test", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate a crashed holder: never release, just wait out the TTL.
	time.Sleep(200 * time.Millisecond)

	_, ok, err = mgr.TryAcquire(ctx, "crash-test", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be reacquirable")
}

func TestRefreshExtendsOnlyOwnLease(t *testing.T) {
	client := setupTestRedis(t)
	mgr := NewManager(client)
	ctx := context.Background()

	lease, ok, err := mgr.TryAcquire(ctx, "refresh-test", 300*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	held, err := lease.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	// Force expiry, let another holder take over, then refresh the stale lease.
	require.NoError(t, client.Del(ctx, "lock:refresh-test").Err())
	other, ok, err := mgr.TryAcquire(ctx, "refresh-test", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	held, err = lease.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, held, "stale lease must not refresh another holder's lock")

	// The stale lease must not release the new holder's lock either.
	require.NoError(t, lease.Release(ctx))
	_, stillHeld, err := mgr.Holder(ctx, "refresh-test")
	require.NoError(t, err)
	assert.True(t, stillHeld)

	require.NoError(t, other.Release(ctx))
}

func TestRemainingTTL(t *testing.T) {
	client := setupTestRedis(t)
	mgr := NewManager(client)
	ctx := context.Background()

	_, held, err := mgr.RemainingTTL(ctx, "ttl-test")
	require.NoError(t, err)
	assert.False(t, held)

	lease, ok, err := mgr.TryAcquire(ctx, "ttl-test", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer lease.Release(ctx)

	ttl, held, err := mgr.RemainingTTL(ctx, "ttl-test")
	require.NoError(t, err)
	require.True(t, held)
	assert.Greater(t, ttl, 50*time.Second)
}
