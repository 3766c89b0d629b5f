package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrLockFailed is returned when the lock is still held after every retry.
var ErrLockFailed = errors.New("could not acquire wallet lock")

// unlockScript deletes the key only while it still holds our token.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock is a SET NX lock with an owner token.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{client: client, key: key, value: value, expiration: expiration}
}

// TryLock makes one non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock until it succeeds, maxRetries runs out or ctx ends.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock if we still own it. An expired lock taken over
// by another owner is left alone.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// WalletLocker hands out per-user locks so one wallet is mutated by one
// request at a time across every service instance.
type WalletLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retry      time.Duration
	maxRetries int
}

func NewWalletLocker(client *redis.Client, ttl, retry time.Duration, maxRetries int) *WalletLocker {
	return &WalletLocker{client: client, ttl: ttl, retry: retry, maxRetries: maxRetries}
}

// WalletKey is the redis key guarding one wallet.
func WalletKey(userID string) string { return "wallet:lock:" + userID }

// LockWallet blocks until the user's wallet lock is held by owner and
// returns its release function.
func (w *WalletLocker) LockWallet(ctx context.Context, userID, owner string) (func(context.Context) error, error) {
	l := NewDistributedLock(w.client, WalletKey(userID), owner, w.ttl)
	if err := l.Lock(ctx, w.retry, w.maxRetries); err != nil {
		return nil, err
	}
	return l.Unlock, nil
}
