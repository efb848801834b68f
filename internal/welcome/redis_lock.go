package welcome

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultLockTTL bounds how long a crashed process can hold a lock.
const DefaultLockTTL = 10 * time.Minute

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a Locker shared by every process using the same Redis.
type RedisLock struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Locker = (*RedisLock)(nil)

// NewRedisLock creates a lock. A non-positive ttl uses DefaultLockTTL.
func NewRedisLock(client redis.UniversalClient, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{client: client, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrGenerationInFlight
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may be done by the time the job finishes
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Failed to release lock")
			}
		})
	}, nil
}
