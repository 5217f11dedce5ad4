package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sirupsen/logrus"
)

const moduleName = "locking"

// ErrNotObtained is returned when the key stayed locked for the whole wait.
var ErrNotObtained = errors.New("could not obtain lock")

// RedisLocker serializes work per key across processes. A lock expires
// after ttl even if the holder never releases it.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	logger *logrus.Logger
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, logger *logrus.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: logger,
	}
}

// Lock retries until the key is obtained or the wait ends. Without a ctx
// deadline the wait is bounded by the lock ttl.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := fmt.Sprintf("lock:%s", key)
	lock, err := l.client.Obtain(ctx, lockKey, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		config.LogError(l.logger, moduleName, "Lock", "could not obtain lock", lockKey, err)
		return nil, fmt.Errorf("%s: %w", lockKey, ErrNotObtained)
	} else if err != nil {
		config.LogError(l.logger, moduleName, "Lock", "error obtaining lock", lockKey, err)
		return nil, fmt.Errorf("obtain %s: %w", lockKey, err)
	}

	return func() {
		// release with a fresh context so a cancelled request still frees the key
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			l.logger.WithFields(logrus.Fields{
				"module": moduleName,
				"key":    lockKey,
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}, nil
}

var _ interfaces.Locker = (*RedisLocker)(nil)
