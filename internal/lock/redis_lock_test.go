package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributedLock_LockUnlock(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	ctx := context.Background()

	mock.ExpectSetNX("wallet:lock:u1", "req-1", 30*time.Second).SetVal(true)
	mock.ExpectEval(unlockScript, []string{"wallet:lock:u1"}, "req-1").SetVal(int64(1))

	l := NewDistributedLock(rdb, WalletKey("u1"), "req-1", 30*time.Second)
	require.NoError(t, l.Lock(ctx, time.Millisecond, 3))
	require.NoError(t, l.Unlock(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributedLock_RetriesThenGivesUp(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mock.ExpectSetNX("wallet:lock:u1", "req-2", time.Second).SetVal(false)
	}

	l := NewDistributedLock(rdb, WalletKey("u1"), "req-2", time.Second)
	err := l.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributedLock_RedisError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	boom := errors.New("connection refused")
	mock.ExpectSetNX("wallet:lock:u1", "req-3", time.Second).SetErr(boom)

	l := NewDistributedLock(rdb, WalletKey("u1"), "req-3", time.Second)
	err := l.Lock(context.Background(), time.Millisecond, 3)
	assert.ErrorIs(t, err, boom)
}

func TestWalletLocker_SecondAttemptWins(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	ctx := context.Background()

	mock.ExpectSetNX("wallet:lock:u9", "owner", 10*time.Second).SetVal(false)
	mock.ExpectSetNX("wallet:lock:u9", "owner", 10*time.Second).SetVal(true)
	mock.ExpectEval(unlockScript, []string{"wallet:lock:u9"}, "owner").SetVal(int64(1))

	locker := NewWalletLocker(rdb, 10*time.Second, time.Millisecond, 5)
	unlock, err := locker.LockWallet(ctx, "u9", "owner")
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributedLock_ContextCancelled(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	ctx, cancel := context.WithCancel(context.Background())

	mock.ExpectSetNX("wallet:lock:u1", "req-4", time.Second).SetVal(false)
	cancel()

	l := NewDistributedLock(rdb, WalletKey("u1"), "req-4", time.Second)
	err := l.Lock(ctx, time.Hour, 3)
	assert.ErrorIs(t, err, context.Canceled)
}
