package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"laybyku/backend/internal/cache"
)

const (
	DefaultLockKey = "layby:sweeper:lock"
	defaultLockTTL = 2 * time.Minute
)

// Lock makes sure only one instance sweeps at a time.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLock is SETNX with a TTL. Release is a compare-and-delete on the
// owner token so an instance never deletes a lock that expired and was
// taken by someone else.
type RedisLock struct {
	kv    cache.KV
	key   string
	ttl   time.Duration
	owner string
}

func NewRedisLock(kv cache.KV, key string, ttl time.Duration) (*RedisLock, error) {
	if kv == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{kv: kv, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.kv.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""
	if _, err := l.kv.CompareAndDelete(ctx, l.key, owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// NoopLock always succeeds. Used when Redis is not configured, which means
// a single instance.
type NoopLock struct{}

func (NoopLock) Acquire(context.Context) (bool, error) { return true, nil }

func (NoopLock) Release(context.Context) error { return nil }
