// Package lockmgr provides TTL-based singleton leases backed by Redis.
// A lease expires on its own if the holder dies, so a crashed cycle or
// loop never wedges the scheduler.
package lockmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qrpay/reconciler/internal/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "lock"

// releaseScript deletes the lock only when the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only when the caller still holds the lock.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Manager acquires and inspects named leases.
type Manager struct {
	redis redis.Cmdable
}

func NewManager(client redis.Cmdable) *Manager {
	return &Manager{redis: client}
}

// Lease is a held lock. Release and Refresh are no-ops if the lease has
// already expired and been taken by another holder.
type Lease struct {
	mgr    *Manager
	name   string
	holder string
	ttl    time.Duration
}

// TryAcquire attempts to take the named lease without blocking. It returns
// (nil, false, nil) when another holder has it.
func (m *Manager) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	holder := uuid.NewString()
	ok, err := m.redis.SetNX(ctx, redisKey(name), holder, ttl).Result()
	if err != nil {
		observability.IncrementLockAcquire(name, "error")
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		observability.IncrementLockAcquire(name, "busy")
		return nil, false, nil
	}
	observability.IncrementLockAcquire(name, "acquired")
	zap.L().Debug("lock acquired", zap.String("lock", name), zap.String("holder", holder))
	return &Lease{mgr: m, name: name, holder: holder, ttl: ttl}, true, nil
}

// Holder reports the current holder token of the named lock, if any.
func (m *Manager) Holder(ctx context.Context, name string) (string, bool, error) {
	val, err := m.redis.Get(ctx, redisKey(name)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("inspect lock %s: %w", name, err)
	}
	return val, true, nil
}

// RemainingTTL reports how long the named lock has left before it expires.
// held is false when nobody holds the lock.
func (m *Manager) RemainingTTL(ctx context.Context, name string) (time.Duration, bool, error) {
	ttl, err := m.redis.PTTL(ctx, redisKey(name)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("inspect lock %s: %w", name, err)
	}
	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

// Refresh extends the lease TTL. It returns false when the lease expired
// and is no longer held by this holder.
func (l *Lease) Refresh(ctx context.Context) (bool, error) {
	res, err := refreshScript.Run(ctx, l.mgr.redis, []string{redisKey(l.name)},
		l.holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lock %s: %w", l.name, err)
	}
	return res == 1, nil
}

// Release drops the lease. Losing the race to a new holder is not an error.
func (l *Lease) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.mgr.redis, []string{redisKey(l.name)}, l.holder).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.name, err)
	}
	if res == 0 {
		zap.L().Warn("lease expired before release", zap.String("lock", l.name))
	}
	return nil
}

func redisKey(name string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, name)
}
