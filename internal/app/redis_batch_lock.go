package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseBatchLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBatchLock makes a single replica the coordinator of a daily batch run.
type RedisBatchLock struct {
	client redis.UniversalClient
	key    string
}

func NewRedisBatchLock(client redis.UniversalClient, key string) *RedisBatchLock {
	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		trimmedKey = "rewards:daily_batch:lock"
	}
	return &RedisBatchLock{client: client, key: trimmedKey}
}

// Acquire takes the lock for ttl. ok is false when another holder has it. The
// returned release function only deletes the key while this holder still owns it.
func (l *RedisBatchLock) Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	if l == nil || l.client == nil {
		return func(context.Context) error { return nil }, true, nil
	}

	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		err := releaseBatchLockScript.Run(ctx, l.client, []string{l.key}, token).Err()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	return release, true, nil
}
