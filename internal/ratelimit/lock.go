package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseOwnLock deletes the key only while it still holds our token, so an
// expired lock taken over by another replica is never released from here.
var releaseOwnLock = redis.NewScript(`
local held = redis.call("GET", KEYS[1])
if held == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a redis SetNX lock with token-checked release. The scheduler uses
// it to keep each background job single-flight across replicas sharing one
// store.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// TryLock attempts to take the named lock for ttl. It returns the release
// token and whether the lock was acquired; losing the race is not an error.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, fmt.Errorf("locker: no redis client")
	}
	if key == "" || ttl <= 0 {
		return "", false, fmt.Errorf("locker: bad key %q or ttl %v", key, ttl)
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("locker: acquire %s: %w", key, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if it is still held under token. Releasing a lock
// that expired or was never taken is a no-op.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	if err := releaseOwnLock.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("locker: release %s: %w", key, err)
	}
	return nil
}
