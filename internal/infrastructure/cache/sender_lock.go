package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	senderLockPrefix   = "payroll_relay:sender:"
	defaultLockTTL     = 5 * time.Minute
	defaultRetryPeriod = 200 * time.Millisecond
)

// releaseScript deletes the key only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// refreshScript extends the TTL only while the key still carries our token
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

// lockClient is the subset of the Redis client the lock needs
type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// RedisSenderLock serializes submissions per sending account across
// processes. The holder extends the TTL every third of it until release, so
// a long confirmation wait keeps the lock; a holder that dies releases it
// after one TTL.
type RedisSenderLock struct {
	client lockClient
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewRedisSenderLock creates a distributed sender lock
func NewRedisSenderLock(client lockClient, ttl time.Duration, logger *zap.Logger) *RedisSenderLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisSenderLock{
		client: client,
		ttl:    ttl,
		retry:  defaultRetryPeriod,
		logger: logger,
	}
}

// Acquire polls SETNX until the key is free or ctx is done
func (l *RedisSenderLock) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := senderLockPrefix + strings.ToLower(key)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire sender lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped

			// release must run even when the caller's context is gone
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("Failed to release sender lock",
					zap.String("key", key),
					zap.Error(err))
			}
		})
	}, nil
}

// keepAlive refreshes the TTL of a held lock until stop is closed or the
// key no longer carries token
func (l *RedisSenderLock) keepAlive(redisKey, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		held, err := refreshScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		if err != nil {
			l.logger.Warn("Failed to extend sender lock",
				zap.String("key", redisKey),
				zap.Error(err))
			continue
		}
		if held == 0 {
			l.logger.Error("Sender lock lost before release",
				zap.String("key", redisKey))
			return
		}
	}
}
