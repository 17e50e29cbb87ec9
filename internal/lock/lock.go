// Package lock provides best-effort per-reference locks so that worker replicas
// do not poll the gateway for the same top-up at once. Store compare-and-set
// keeps correctness without it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Release frees an obtained lock.
type Release func(ctx context.Context) error

type Locker interface {
	// TryLock returns ok=false without error when another holder has key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release Release, ok bool, err error)
}

type RedisLocker struct {
	rdb    *redis.Client
	locker *redislock.Client
	prefix string
}

// NewRedisLocker connects to url (redis://...) and verifies it with PING.
func NewRedisLocker(ctx context.Context, url, prefix string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisLocker{rdb: rdb, locker: redislock.New(rdb), prefix: prefix}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	lk, err := l.locker.Obtain(ctx, l.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, true, nil
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

// NoopLocker always grants the lock. Used when REDIS_URL is unset.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context, string, time.Duration) (Release, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}
