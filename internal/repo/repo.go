package repo

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/gamestore-wallet/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInsufficientFunds is returned when wallet balance is not enough.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOptimisticLock means the wallet row changed since it was read.
	ErrOptimisticLock = errors.New("optimistic lock conflict")
)

// RepositoryInterface restricts Repo methods so the service can be tested against fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error)
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error)
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	UpdateWallet(ctx context.Context, tx *gorm.DB, userID string, newBalance decimal.Decimal, oldVersion uint64) error

	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)
	ListAllTransactions(ctx context.Context) ([]model.TransactionView, error)
	PurchasedGameIDs(ctx context.Context, tx *gorm.DB, userID string, gameIDs []string) ([]string, error)
	ListPurchases(ctx context.Context, userID string) ([]model.Transaction, error)
	TopGames(ctx context.Context, limit int) ([]model.GameSales, error)

	GetTopupRequest(ctx context.Context, tx *gorm.DB, requestID string) (*model.TopupRequest, error)
	CreateTopupRequest(ctx context.Context, tx *gorm.DB, req *model.TopupRequest) error

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, snap model.WalletSnapshot) error
	GetCachedBalance(ctx context.Context, userID string) (model.WalletSnapshot, error)
	InvalidateBalance(ctx context.Context, userID string) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db       *gorm.DB
	rdb      *redis.Client
	writer   *kafka.Writer
	log      *zap.SugaredLogger
	cacheTTL time.Duration
}

// NewRepository constructs repo. rdb and w may be nil when the process does not need them.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger, cacheTTL: 5 * time.Minute}
}

// WithCacheTTL sets how long cached balances live.
func (r *Repository) WithCacheTTL(ttl time.Duration) *Repository {
	if ttl > 0 {
		r.cacheTTL = ttl
	}
	return r
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetWallet reads a wallet without locking. Returns gorm.ErrRecordNotFound when absent.
func (r *Repository) GetWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletForUpdate locks wallet row.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a new wallet row. A concurrent insert for the same
// user surfaces as gorm.ErrDuplicatedKey.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	if w.LastUpdated.IsZero() {
		w.LastUpdated = time.Now()
	}
	return tx.WithContext(ctx).Create(w).Error
}

// UpdateWallet with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, userID string, newBalance decimal.Decimal, oldVersion uint64) error {
	if newBalance.IsNegative() {
		return ErrInsufficientFunds
	}
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND version = ?", userID, oldVersion).
		Updates(map[string]interface{}{
			"balance":      newBalance,
			"version":      oldVersion + 1,
			"last_updated": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// CreateTransaction appends a log record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// ListTransactions returns every record of a user, oldest first.
func (r *Repository) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	txs := []model.Transaction{}
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&txs).Error
	return txs, err
}

// ListAllTransactions returns every record, newest first, joined with its user.
func (r *Repository) ListAllTransactions(ctx context.Context) ([]model.TransactionView, error) {
	views := []model.TransactionView{}
	err := r.db.WithContext(ctx).
		Table("transactions AS t").
		Select("t.*, COALESCE(u.name, '') AS user_name, COALESCE(u.email, '') AS user_email").
		Joins("LEFT JOIN users u ON u.id = t.user_id").
		Order("t.created_at desc").
		Scan(&views).Error
	return views, err
}

// PurchasedGameIDs returns which of gameIDs the user already bought.
func (r *Repository) PurchasedGameIDs(ctx context.Context, tx *gorm.DB, userID string, gameIDs []string) ([]string, error) {
	owned := []string{}
	if len(gameIDs) == 0 {
		return owned, nil
	}
	err := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("user_id = ? AND type = ? AND game_id IN ?", userID, model.TxTypePurchase, gameIDs).
		Pluck("game_id", &owned).Error
	return owned, err
}

// ListPurchases returns the user's purchase records, newest first.
func (r *Repository) ListPurchases(ctx context.Context, userID string) ([]model.Transaction, error) {
	txs := []model.Transaction{}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, model.TxTypePurchase).
		Order("created_at desc").
		Find(&txs).Error
	return txs, err
}

// TopGames ranks games by number of purchases.
func (r *Repository) TopGames(ctx context.Context, limit int) ([]model.GameSales, error) {
	sales := []model.GameSales{}
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("game_id, MAX(game_name) AS game_name, COUNT(*) AS sold_count, SUM(amount) AS total_revenue").
		Where("type = ? AND game_id IS NOT NULL", model.TxTypePurchase).
		Group("game_id").
		Order("sold_count desc, game_id asc").
		Limit(limit).
		Scan(&sales).Error
	return sales, err
}

// GetTopupRequest returns the marker for requestID, or nil when it was never applied.
func (r *Repository) GetTopupRequest(ctx context.Context, tx *gorm.DB, requestID string) (*model.TopupRequest, error) {
	var req model.TopupRequest
	err := tx.WithContext(ctx).Where("request_id = ?", requestID).First(&req).Error
	if err == nil {
		return &req, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// CreateTopupRequest writes the idempotency marker.
func (r *Repository) CreateTopupRequest(ctx context.Context, tx *gorm.DB, req *model.TopupRequest) error {
	return tx.WithContext(ctx).Create(req).Error
}
