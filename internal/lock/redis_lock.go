package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisLocker holds keys in redis so several API instances exclude each
// other. The TTL bounds how long a crashed holder can block a key.
type RedisLocker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    logrus.FieldLogger
}

func NewRedisLocker(rdb redis.UniversalClient, prefix string, ttl time.Duration, log logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		prefix: prefix,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		log:    log,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := fmt.Sprintf("%s:%s", r.prefix, key)

	// keep retrying for at most one TTL
	attempts := int(r.ttl / r.retry)
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.retry), attempts),
	}
	held, err := r.client.Obtain(ctx, lockKey, r.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	if err != nil {
		return nil, err
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := held.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.WithError(err).WithField("lock_key", lockKey).Warn("failed to release lock")
		}
	}, nil
}
