// Package lock provides the single-writer lock that serialises resource pool
// snapshots and commits.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/carefront/platform/internal/shared/errors"
	"github.com/go-redis/redis/v8"
)

// Locker grants exclusive access to resource availability. The returned
// release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalLocker is an in-process Locker backed by a one-slot semaphore.
type LocalLocker struct {
	sem chan struct{}
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-ctx.Done():
		return nil, errors.Unavailable("resource pool lock not acquired", ctx.Err())
	}
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures a RedisLocker
type RedisConfig struct {
	Key string
	// TTL bounds how long a crashed holder can block others
	TTL time.Duration
	// Wait bounds how long Acquire polls before giving up
	Wait time.Duration
	// Poll is the retry interval while the lock is held elsewhere
	Poll time.Duration
}

// RedisLocker is a Locker shared by every process talking to the same Redis.
type RedisLocker struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(client *redis.Client, cfg RedisConfig) *RedisLocker {
	if cfg.Key == "" {
		cfg.Key = "carefront:resource-pool:lock"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 25 * time.Millisecond
	}
	return &RedisLocker{client: client, cfg: cfg}
}

// Acquire polls SET NX until it wins, Wait elapses or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, errors.Internal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.Wait)
	defer cancel()

	ticker := time.NewTicker(l.cfg.Poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, l.cfg.Key, token, l.cfg.TTL).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, errors.Unavailable("resource pool lock backend failed", err)
		}
		if ok {
			return func() {
				// Release must run even when the caller's ctx is already cancelled.
				releaseScript.Run(context.Background(), l.client, []string{l.cfg.Key}, token)
			}, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, errors.Unavailable("resource pool lock not acquired", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
