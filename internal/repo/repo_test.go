package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/gamestore-wallet/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func strPtr(s string) *string { return &s }

func TestRepository_WalletNotFound(t *testing.T) {
	repo, db := newTestRepo(t)
	_, err := repo.GetWallet(context.Background(), db, "ghost")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepository_CreateWalletDuplicate(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateWallet(ctx, db, &model.Wallet{UserID: "u1"}))
	err := repo.CreateWallet(ctx, db, &model.Wallet{UserID: "u1"})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestRepository_TransactionLog(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&model.User{ID: "u1", Name: "Alice", Email: "alice@example.com"}).Error)

	records := []*model.Transaction{
		{UserID: "u1", Type: model.TxTypeTopUp, Amount: decimal.NewFromInt(100), Detail: "top-up", RequestID: strPtr("r1"), CreatedAt: base},
		{UserID: "u2", Type: model.TxTypeTopUp, Amount: decimal.NewFromInt(30), Detail: "top-up", CreatedAt: base.Add(time.Minute)},
		{UserID: "u1", Type: model.TxTypeWithdraw, Amount: decimal.NewFromInt(40), Detail: "withdraw", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		require.NoError(t, repo.CreateTransaction(ctx, db, rec))
		assert.Len(t, rec.ID, 36, "uuid assigned on insert")
	}

	mine, err := repo.ListTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, model.TxTypeTopUp, mine[0].Type)
	assert.Equal(t, model.TxTypeWithdraw, mine[1].Type)
	require.NotNil(t, mine[0].RequestID)
	assert.Equal(t, "r1", *mine[0].RequestID)

	none, err := repo.ListTransactions(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	all, err := repo.ListAllTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.TxTypeWithdraw, all[0].Type, "newest first")
	assert.Equal(t, "Alice", all[0].UserName)
	assert.Equal(t, "alice@example.com", all[0].UserEmail)
	assert.Equal(t, "u2", all[1].UserID)
	assert.Equal(t, "", all[1].UserName)
	assert.Equal(t, records[0].ID, all[2].ID)
}

func TestRepository_Purchases(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	buys := []*model.Transaction{
		{UserID: "u1", Type: model.TxTypePurchase, Amount: decimal.NewFromInt(20), GameID: strPtr("chess"), GameName: "Chess", CreatedAt: base},
		{UserID: "u1", Type: model.TxTypePurchase, Amount: decimal.NewFromInt(50), GameID: strPtr("doom"), GameName: "Doom", CreatedAt: base.Add(time.Minute)},
		{UserID: "u2", Type: model.TxTypePurchase, Amount: decimal.NewFromInt(50), GameID: strPtr("doom"), GameName: "Doom", CreatedAt: base.Add(2 * time.Minute)},
		{UserID: "u1", Type: model.TxTypeTopUp, Amount: decimal.NewFromInt(500), CreatedAt: base},
	}
	for _, b := range buys {
		require.NoError(t, repo.CreateTransaction(ctx, db, b))
	}

	owned, err := repo.PurchasedGameIDs(ctx, db, "u1", []string{"chess", "tetris"})
	require.NoError(t, err)
	assert.Equal(t, []string{"chess"}, owned)

	owned, err = repo.PurchasedGameIDs(ctx, db, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, owned)

	err = repo.CreateTransaction(ctx, db, &model.Transaction{
		UserID: "u1", Type: model.TxTypePurchase, Amount: decimal.NewFromInt(20), GameID: strPtr("chess"),
	})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey, "one purchase per user and game")

	lib, err := repo.ListPurchases(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, lib, 2)
	assert.Equal(t, "Doom", lib[0].GameName)
	assert.Equal(t, "Chess", lib[1].GameName)

	top, err := repo.TopGames(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "doom", top[0].GameID)
	assert.Equal(t, int64(2), top[0].SoldCount)
	assert.Equal(t, "100", top[0].TotalRevenue.StringFixed(0))
	assert.Equal(t, "chess", top[1].GameID)

	top, err = repo.TopGames(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestRepository_TopupRequests(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	got, err := repo.GetTopupRequest(ctx, db, "r1")
	require.NoError(t, err)
	assert.Nil(t, got)

	marker := &model.TopupRequest{RequestID: "r1", UserID: "u1", Amount: decimal.NewFromInt(10), BalanceAfter: decimal.NewFromInt(10)}
	require.NoError(t, repo.CreateTopupRequest(ctx, db, marker))
	assert.False(t, marker.ProcessedAt.IsZero())

	got, err = repo.GetTopupRequest(ctx, db, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.BalanceAfter.Equal(decimal.NewFromInt(10)))

	err = repo.CreateTopupRequest(ctx, db, &model.TopupRequest{RequestID: "r1", UserID: "u1"})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestRepository_Outbox(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	for _, typ := range []string{model.EventTopUp, model.EventWithdraw} {
		require.NoError(t, repo.CreateOutboxEvent(ctx, db, &model.OutboxEvent{
			Aggregate: "Wallet", AggregateID: "u1", EventType: typ, Payload: `{}`,
		}))
	}

	evts, err := repo.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, model.EventTopUp, evts[0].EventType)

	require.NoError(t, repo.MarkOutboxProcessed(ctx, evts[0].ID))
	evts, err = repo.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, model.EventWithdraw, evts[0].EventType)

	err = repo.PublishEvent(ctx, evts[0])
	assert.Error(t, err, "no writer configured")
}

func TestRepository_BalanceCache(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := NewRepository(nil, rdb, nil, zap.NewNop().Sugar()).WithCacheTTL(time.Minute)
	ctx := context.Background()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := model.WalletSnapshot{UserID: "u1", Balance: decimal.NewFromInt(150), LastUpdated: &ts, Version: 7}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "version")

	mock.ExpectEval(cacheBalanceScript, []string{"wallet:balance:u1"}, "7", string(data), "60000").SetVal(int64(1))
	mock.ExpectHGet("wallet:balance:u1", "snapshot").SetVal(string(data))
	mock.ExpectDel("wallet:balance:u1").SetVal(1)
	mock.ExpectHGet("wallet:balance:u1", "snapshot").RedisNil()

	require.NoError(t, repo.CacheBalance(ctx, snap))

	got, err := repo.GetCachedBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(snap.Balance))
	require.NotNil(t, got.LastUpdated)
	assert.True(t, ts.Equal(*got.LastUpdated))

	require.NoError(t, repo.InvalidateBalance(ctx, "u1"))

	_, err = repo.GetCachedBalance(ctx, "u1")
	assert.True(t, errors.Is(err, redis.Nil))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_BalanceCache_OlderVersionRefused(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := NewRepository(nil, rdb, nil, zap.NewNop().Sugar()).WithCacheTTL(time.Minute)
	ctx := context.Background()

	stale := model.WalletSnapshot{UserID: "u1", Balance: decimal.NewFromInt(10), Version: 0}
	data, err := json.Marshal(stale)
	require.NoError(t, err)

	// the script reports 0 when a newer snapshot is already cached
	mock.ExpectEval(cacheBalanceScript, []string{"wallet:balance:u1"}, "0", string(data), "60000").SetVal(int64(0))
	assert.NoError(t, repo.CacheBalance(ctx, stale))

	boom := errors.New("redis down")
	mock.ExpectEval(cacheBalanceScript, []string{"wallet:balance:u1"}, "0", string(data), "60000").SetErr(boom)
	assert.ErrorIs(t, repo.CacheBalance(ctx, stale), boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CacheWithoutRedis(t *testing.T) {
	repo := NewRepository(nil, nil, nil, zap.NewNop().Sugar())
	ctx := context.Background()

	assert.NoError(t, repo.CacheBalance(ctx, model.WalletSnapshot{UserID: "u1"}))
	assert.NoError(t, repo.InvalidateBalance(ctx, "u1"))
	_, err := repo.GetCachedBalance(ctx, "u1")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestGormLogger_QuietOnRecordNotFound(t *testing.T) {
	var buf bytes.Buffer
	l := newGormLogger(&buf)
	ctx := context.Background()
	sql := func() (string, int64) { return "SELECT * FROM wallets", 0 }

	l.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	l.Trace(ctx, time.Now(), sql, errors.New("connection reset"))
	assert.Contains(t, buf.String(), "connection reset")
}
