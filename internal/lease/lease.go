package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a best-effort mutual exclusion token shared between replicas.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// Local always grants the lease. Used when no Redis is configured.
type Local struct{}

func (Local) Acquire(context.Context, time.Duration) (bool, error) { return true, nil }
func (Local) Release(context.Context) error                        { return nil }

const keyPrefix = "payments:lease:"

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func NewRedisLease(client redis.UniversalClient, name string) *RedisLease {
	return &RedisLease{
		client: client,
		key:    keyPrefix + name,
		token:  uuid.NewString(),
	}
}

func NewRedisClient(addr string) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})
}

func (l *RedisLease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("RedisLease.Acquire: %w", err)
	}
	if ok {
		return true, nil
	}

	// Re-entrant for the current holder so a long sweep can extend its hold.
	owner, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("RedisLease.Acquire: %w", err)
	}
	if owner != l.token {
		return false, nil
	}
	if err := l.client.Expire(ctx, l.key, ttl).Err(); err != nil {
		return false, fmt.Errorf("RedisLease.Acquire: extend: %w", err)
	}
	return true, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("RedisLease.Release: %w", err)
	}
	return nil
}
