package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/user/ticketbot/pkg/logger"
)

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every bot process using the same Redis.
// A holder that dies releases its lock after TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis creates a Redis-backed locker.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		prefix: "ticket_lock:",
		ttl:    30 * time.Second,
		retry:  50 * time.Millisecond,
	}
}

// Lock polls SETNX until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	return func() {
		// release must outlive a cancelled caller context
		if err := unlockScript.Run(context.Background(), r.client, []string{redisKey}, token).Err(); err != nil {
			logger.Warn().Err(err).Str("key", redisKey).Msg("Failed to release lock")
		}
	}, nil
}
