package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clubsched/internal/shared/apperrors"
	"clubsched/internal/shared/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the holder of the token may delete the key.
var releaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig tunes the distributed lock.
type RedisConfig struct {
	TTL          time.Duration // auto-release if the holder dies
	Wait         time.Duration // max time spent acquiring when ctx has no deadline
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// DefaultRedisConfig returns the lock settings used in production.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		TTL:          5 * time.Second,
		Wait:         2 * time.Second,
		RetryInitial: 2 * time.Millisecond,
		RetryMax:     50 * time.Millisecond,
	}
}

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client  *redis.Client
	config  *RedisConfig
	metrics *metrics.Metrics
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(client *redis.Client, config *RedisConfig, m *metrics.Metrics) *RedisLocker {
	if config == nil {
		config = DefaultRedisConfig()
	}
	return &RedisLocker{
		client:  client,
		config:  config,
		metrics: m,
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client not available")
	}

	start := time.Now()
	if r.config.Wait > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.config.Wait)
			defer cancel()
		}
	}

	token := uuid.NewString()
	backoff := r.config.RetryInitial
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.config.TTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			r.metrics.ObserveLockWait("redis", time.Since(start))
			var once sync.Once
			return func() {
				once.Do(func() { r.release(key, token) })
			}, nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s", apperrors.ErrLockTimeout, key)
		case <-timer.C:
		}

		backoff *= 2
		if backoff > r.config.RetryMax {
			backoff = r.config.RetryMax
		}
	}
}

// release runs on a fresh context so a cancelled request still frees its lock.
func (r *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, r.client, []string{key}, token).Err()
}
