package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease grants exclusive ownership of a named role (e.g. the active sweeper)
// to a single process at a time.
type Lease interface {
	// Acquire takes the lease or renews it when this holder already owns it.
	// It reports false when another holder owns the lease.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with SETNX plus owner-checked renew and release.
type RedisLease struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration
}

// NewRedisClient parses a redis:// URL into a client with short timeouts.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	opts.PoolSize = 4
	return redis.NewClient(opts), nil
}

// NewRedisLease returns a lease on key owned by holder for ttl at a time.
func NewRedisLease(client *redis.Client, key, holder string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, holder: holder, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease setnx %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}
	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("lease renew %s: %w", l.key, err)
	}
	return renewed == 1, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lease release %s: %w", l.key, err)
	}
	return nil
}

// LocalLease always grants ownership. It is used when no Redis is configured
// and a single sweeper process is expected.
type LocalLease struct{}

func (LocalLease) Acquire(context.Context) (bool, error) { return true, nil }

func (LocalLease) Release(context.Context) error { return nil }

var (
	_ Lease = (*RedisLease)(nil)
	_ Lease = LocalLease{}
)
