package liveness

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants a lease on a key to at most one holder until ttl passes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLock is a Locker backed by redis SET NX PX, shared by every api server replica.
type RedisLock struct {
	client    *redis.Client
	keyPrefix string
	holder    string
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{
		client:    client,
		keyPrefix: "greenhouse-lock:",
		holder:    uuid.NewString(),
	}
}

func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.keyPrefix+key, l.holder, ttl).Result()
}

// Holder returns the value this lock writes, useful to tell replicas apart in logs.
func (l *RedisLock) Holder() string {
	return l.holder
}
