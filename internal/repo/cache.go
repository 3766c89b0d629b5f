package repo

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/gamestore-wallet/internal/model"
)

// cacheBalanceScript stores a snapshot only when its version is newer than
// the cached one, so a slow read-through fill cannot overwrite a balance
// written after a later commit.
const cacheBalanceScript = `
local cur = redis.call("HGET", KEYS[1], "version")
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[1], "snapshot", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`

func balanceKey(userID string) string { return "wallet:balance:" + userID }

// CacheBalance writes Redis unless a same or newer version is already cached.
// No-op without a redis client.
func (r *Repository) CacheBalance(ctx context.Context, snap model.WalletSnapshot) error {
	if r.rdb == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	stored, err := r.rdb.Eval(ctx, cacheBalanceScript, []string{balanceKey(snap.UserID)},
		strconv.FormatUint(snap.Version, 10), string(data), strconv.FormatInt(r.cacheTTL.Milliseconds(), 10)).Int()
	if err != nil {
		return err
	}
	if stored == 0 {
		r.log.Debugw("stale balance not cached", "user_id", snap.UserID, "version", snap.Version)
	}
	return nil
}

// GetCachedBalance reads Redis. A miss (or no client) returns redis.Nil.
func (r *Repository) GetCachedBalance(ctx context.Context, userID string) (model.WalletSnapshot, error) {
	var snap model.WalletSnapshot
	if r.rdb == nil {
		return snap, redis.Nil
	}
	str, err := r.rdb.HGet(ctx, balanceKey(userID), "snapshot").Result()
	if err != nil {
		return snap, err
	}
	err = json.Unmarshal([]byte(str), &snap)
	return snap, err
}

// InvalidateBalance drops the cached balance. Used when the committed
// snapshot could not be written.
func (r *Repository) InvalidateBalance(ctx context.Context, userID string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, balanceKey(userID)).Err()
}
