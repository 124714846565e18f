package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLock is a Redis lease that keeps concurrent instances from running
// the same sweep at once.
type SweepLock struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewSweepLock creates a lock whose leases expire after ttl.
func NewSweepLock(client *redis.Client, ttl time.Duration) *SweepLock {
	return &SweepLock{redis: client, ttl: ttl}
}

// TryLock acquires the named lease. When ok is false another holder has it.
func (l *SweepLock) TryLock(ctx context.Context, name string) (release func(), ok bool, err error) {
	key := fmt.Sprintf("lock:sweep:%s", name)
	token := uuid.New().String()

	ok, err = l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire %s lock: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(ctx, l.redis, []string{key}, token)
	}, true, nil
}
