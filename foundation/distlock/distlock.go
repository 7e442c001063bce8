// Package distlock implements a short lived, per key mutual exclusion lock
// on top of a redis compatible store.
package distlock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Lock provides try-lock semantics over a set of keys. There is no explicit
// release: a key frees itself when the expiry passes, which also covers a
// holder that crashed mid critical section.
type Lock struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

// New constructs a Lock backed by the specified redis client. The expiry
// must exceed the worst case duration of the critical section it guards.
func New(client *redis.Client, expiry time.Duration) *Lock {
	pool := goredis.NewPool(client)

	return &Lock{
		rs:     redsync.New(pool),
		expiry: expiry,
	}
}

// TryAcquire performs a single set-if-absent round trip on the specified
// key. It reports false when another holder currently exists. The caller is
// expected to surface that as a conflict, not to retry.
func (l *Lock) TryAcquire(ctx context.Context, key string) (bool, error) {
	mutex := l.rs.NewMutex("lock:"+key, redsync.WithExpiry(l.expiry), redsync.WithTries(1))

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}
