package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis implements Locker with SET NX and a TTL. Each lease carries a random
// owner token so a holder never deletes a lock it no longer owns.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedis creates a redis backed locker; leases expire after ttl.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (l *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate lock owner: %w", err)
	}
	lease := &redisLease{client: l.client, key: "lock:" + key, owner: hex.EncodeToString(b)}

	ok, err := l.client.SetNX(ctx, lease.key, lease.owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", lease.key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return lease, nil
}

type redisLease struct {
	client redis.Cmdable
	key    string
	owner  string
}

// Release deletes the key only if this lease still owns it.
func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}
