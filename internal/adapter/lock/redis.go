package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/simaogato/obligations-backend/internal/domain"
)

// RedisLocker serialises work across server instances with a redis lease
type RedisLocker struct {
	client  *redislock.Client
	prefix  string
	retries int
	backoff time.Duration
}

// NewRedisLocker wraps a connected redis client
func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{
		client:  redislock.New(rdb),
		prefix:  prefix,
		retries: 5,
		backoff: 100 * time.Millisecond,
	}
}

// Connect dials redis and verifies the connection
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Obtain acquires key for ttl, retrying briefly before giving up with ErrBusy
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	}
	lk, err := l.client.Obtain(ctx, l.prefix+key, ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, domain.E("lock.Obtain", domain.ErrBusy, "key %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return &redisLock{lock: lk}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (l *redisLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	// lease already expired: nothing left to release
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
