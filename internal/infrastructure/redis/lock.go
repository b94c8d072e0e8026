package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/cassiomorais/callbacks/pkg/retry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// Lua script for safe lock release (only owner can release)
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	// Lua script for lock extension
	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// LockClient is the subset of the Redis client the lock needs.
type LockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// LockKey returns the Redis key guarding callbacks for refID.
func LockKey(refID string) string {
	return "lock:callback:" + refID
}

// DistributedLock is a single-owner Redis lock with a TTL.
type DistributedLock struct {
	client   LockClient
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates a lock on key owned by a fresh token.
func NewDistributedLock(client LockClient, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    key,
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock once.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.acquired = ok
	return ok, nil
}

// AcquireWithRetry polls for the lock until it is taken or attempts run out.
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, attempts uint, delay time.Duration) error {
	policy := retry.FixedConfig(attempts, delay)
	return retry.Do(ctx, policy, func() error {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return domainErrors.ErrLockAcquisitionFailed
		}
		return nil
	})
}

// Extend pushes the expiry out by ttl if the lock is still ours.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.acquired {
		return domainErrors.ErrLockNotHeld
	}

	res, err := extendLockScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if res == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// Release drops the lock if it is still ours.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}

	res, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.acquired = false
	if res == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// Locker hands out per-ref_id locks shared by every replica.
type Locker struct {
	client   LockClient
	ttl      time.Duration
	attempts uint
	delay    time.Duration
}

// NewLocker builds a Locker. Acquisition polls for up to ttl.
func NewLocker(client LockClient, ttl time.Duration) *Locker {
	delay := 50 * time.Millisecond
	attempts := uint(ttl / delay)
	if attempts == 0 {
		attempts = 1
	}
	return &Locker{client: client, ttl: ttl, attempts: attempts, delay: delay}
}

// WithLock runs fn while holding the lock for refID. The lock is extended
// every ttl/2 while fn runs. If an extension fails, fn's context is
// cancelled and WithLock reports ErrLockNotHeld.
func (lk *Locker) WithLock(ctx context.Context, refID string, fn func(context.Context) error) error {
	lock := NewDistributedLock(lk.client, LockKey(refID), lk.ttl)
	if err := lock.AcquireWithRetry(ctx, lk.attempts, lk.delay); err != nil {
		return fmt.Errorf("lock %s: %w", refID, err)
	}
	defer lock.Release(context.WithoutCancel(ctx))

	held, lost := context.WithCancelCause(ctx)
	defer lost(nil)
	stop := lk.keepAlive(held, lock, lost)

	err := fn(held)
	stop()
	if cause := context.Cause(held); err != nil && errors.Is(cause, domainErrors.ErrLockNotHeld) {
		return fmt.Errorf("lock %s: %w", refID, cause)
	}
	return err
}

func (lk *Locker) keepAlive(ctx context.Context, lock *DistributedLock, lost context.CancelCauseFunc) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(lk.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Extend(ctx, lk.ttl); err != nil {
					if !errors.Is(err, domainErrors.ErrLockNotHeld) {
						err = fmt.Errorf("%w: %w", domainErrors.ErrLockNotHeld, err)
					}
					lost(err)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
