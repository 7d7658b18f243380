package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisDispatchLock is a single-holder lock with a TTL, used to keep two
// reminder sweeps for the same day from running at once.
type RedisDispatchLock struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisDispatchLock creates a lock whose keys live under prefix.
func NewRedisDispatchLock(client redis.UniversalClient, prefix string) *RedisDispatchLock {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "subtrack"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisDispatchLock{client: client, prefix: trimmedPrefix}
}

func (l *RedisDispatchLock) key(name string) string {
	return fmt.Sprintf("%s:lock:%s", l.prefix, name)
}

// TryLock acquires the lock when nobody holds it. The returned token must be
// passed to Unlock.
func (l *RedisDispatchLock) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, fmt.Errorf("redis client not configured")
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases the lock only if token still owns it, so a holder whose TTL
// ran out cannot release a successor's lock.
func (l *RedisDispatchLock) Unlock(ctx context.Context, name, token string) error {
	if l == nil || l.client == nil || token == "" {
		return nil
	}
	return releaseLockScript.Run(ctx, l.client, []string{l.key(name)}, token).Err()
}
