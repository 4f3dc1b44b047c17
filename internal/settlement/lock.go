package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Lock.Acquire when another process owns the
// settlement window.
var ErrLockHeld = errors.New("settlement lock held by another process")

// Lock serializes settlement cycles across processes.
type Lock interface {
	Acquire(ctx context.Context) (token string, err error)
	Release(ctx context.Context, token string) error
}

// LockStore is the subset of redis the lock needs.
type LockStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type redisLockStore struct{ c *redis.Client }

func (r *redisLockStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, value, ttl).Result()
}

func (r *redisLockStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.c, []string{key}, value).Int()
	return n == 1, err
}

// RedisLock is a single-instance SET NX PX lock. The TTL bounds how long a
// crashed holder can block other settlers, so it must exceed the longest
// expected cycle.
type RedisLock struct {
	store LockStore
	key   string
	ttl   time.Duration
}

const DefaultLockKey = "settlement:cycle:lock"

func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	return NewRedisLockWithStore(&redisLockStore{c: client}, DefaultLockKey, ttl)
}

func NewRedisLockWithStore(store LockStore, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{store: store, key: key, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return "", fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// Release drops the lock if token still owns it. A lock that expired and was
// taken by someone else is left alone.
func (l *RedisLock) Release(ctx context.Context, token string) error {
	if _, err := l.store.CompareAndDelete(ctx, l.key, token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
