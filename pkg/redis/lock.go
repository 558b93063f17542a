package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when the lock is held by someone else
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing or extending a lock we don't own
	ErrLockNotHeld = errors.New("lock not held")
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// extendScript refreshes the TTL only if the key still holds our token
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Locker provides distributed locks backed by SET NX
type Locker struct {
	client    *Client
	keyPrefix string
}

// NewLocker creates a Locker. All lock keys get the given prefix.
func NewLocker(client *Client, keyPrefix string) *Locker {
	return &Locker{client: client, keyPrefix: keyPrefix}
}

// Lock is an acquired distributed lock
type Lock struct {
	locker *Locker
	key    string
	token  string
	ttl    time.Duration
}

func (l *Locker) lockKey(name string) string {
	return fmt.Sprintf("%s:lock:%s", l.keyPrefix, name)
}

// Acquire attempts to take the lock once. Returns ErrLockNotAcquired if it
// is already held.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	key := l.lockKey(name)

	ok, err := l.client.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	return &Lock{locker: l, key: key, token: token, ttl: ttl}, nil
}

// TryAcquire retries Acquire with exponential backoff until the deadline
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	backoff := 10 * time.Millisecond

	for {
		lock, err := l.Acquire(ctx, name, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > 500*time.Millisecond {
			backoff = 500 * time.Millisecond
		}
	}
}

// Release frees the lock. Safe against releasing a lock that expired and was
// re-acquired by another holder.
func (lk *Lock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, lk.locker.client.rdb, []string{lk.key}, lk.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend refreshes the lock's TTL
func (lk *Lock) Extend(ctx context.Context) error {
	res, err := extendScript.Run(ctx, lk.locker.client.rdb, []string{lk.key}, lk.token, lk.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// WithLock runs fn while holding the named lock
func (l *Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	return fn(ctx)
}
