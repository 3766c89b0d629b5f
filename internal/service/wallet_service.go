package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/richardliu001/gamestore-wallet/internal/model"
	"github.com/richardliu001/gamestore-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidRequest means the caller sent malformed input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidAmount means the amount is not positive or does not fit the
	// stored precision.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive with at most 8 decimal places", ErrInvalidRequest)
	// ErrWalletNotFound means the user has never been credited.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrAlreadyPurchased means the user already owns the game.
	ErrAlreadyPurchased = errors.New("game already purchased")
	// ErrStorageUnavailable wraps database and lock failures. Top-ups may be
	// retried with the same request id.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

const (
	// maxKeyLen matches the size:64 id columns.
	maxKeyLen = 64
	// amountScale and maxAmount bound what numeric(20,8) stores exactly.
	amountScale = 8
)

var maxAmount = decimal.New(1, 20-amountScale)

// validKey reports whether an already trimmed id fits its column.
func validKey(k string) bool { return k != "" && len(k) <= maxKeyLen }

// validAmount reports whether amt is positive and stored without rounding.
func validAmount(amt decimal.Decimal) bool {
	return amt.IsPositive() && amt.Equal(amt.Round(amountScale)) && amt.LessThan(maxAmount)
}

// Locker serialises mutations of one wallet across service instances.
type Locker interface {
	LockWallet(ctx context.Context, userID, owner string) (func(context.Context) error, error)
}

// Option configures WalletService.
type Option func(*WalletService)

// WithLocker enables the distributed per-wallet lock.
func WithLocker(l Locker) Option {
	return func(s *WalletService) { s.locker = l }
}

// WithMaxRetries sets how many times a conflicting write transaction is attempted.
func WithMaxRetries(n int) Option {
	return func(s *WalletService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WalletService glues business logic and repository.
type WalletService struct {
	repo       repo.RepositoryInterface
	log        *zap.SugaredLogger
	locker     Locker
	maxRetries int
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger, opts ...Option) *WalletService {
	s := &WalletService{repo: r, log: logger, maxRetries: 3}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBalance returns the current balance; a user without a wallet has 0.
func (s *WalletService) GetBalance(ctx context.Context, userID string) (model.WalletSnapshot, error) {
	userID = strings.TrimSpace(userID)
	if !validKey(userID) {
		return model.WalletSnapshot{}, ErrInvalidRequest
	}
	snap, err := s.repo.GetCachedBalance(ctx, userID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warnw("balance cache read failed", "user_id", userID, "error", err)
	}

	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.WalletSnapshot{UserID: userID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return model.WalletSnapshot{}, storageErr(err)
	}
	snap = w.Snapshot()
	if err := s.repo.CacheBalance(ctx, snap); err != nil {
		s.log.Warnw("balance cache write failed", "user_id", userID, "error", err)
	}
	return snap, nil
}

// TopUp credits amt exactly once per requestID and returns the balance
// right after that credit. Replays return the recorded balance.
func (s *WalletService) TopUp(ctx context.Context, userID string, amt decimal.Decimal, requestID string) (decimal.Decimal, error) {
	userID = strings.TrimSpace(userID)
	requestID = strings.TrimSpace(requestID)
	if !validKey(userID) || !validKey(requestID) || !validAmount(amt) {
		return decimal.Zero, ErrInvalidRequest
	}

	marker, err := s.repo.GetTopupRequest(ctx, s.repo.DB(ctx), requestID)
	if err != nil {
		return decimal.Zero, storageErr(err)
	}
	if marker != nil {
		return s.replay(marker, userID)
	}

	var balanceAfter decimal.Decimal
	err = s.mutate(ctx, userID, func(tx *gorm.DB) error {
		w, err := s.lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		// re-check under the lock: a concurrent retry may have committed
		marker, err := s.repo.GetTopupRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if marker != nil {
			balanceAfter, err = s.replay(marker, userID)
			return err
		}

		before := decimal.Zero
		if w == nil {
			balanceAfter = amt
			if err := s.repo.CreateWallet(ctx, tx, &model.Wallet{UserID: userID, Balance: amt}); err != nil {
				return err
			}
		} else {
			before = w.Balance
			balanceAfter = w.Balance.Add(amt)
			if !balanceAfter.LessThan(maxAmount) {
				return fmt.Errorf("%w: balance limit exceeded", ErrInvalidRequest)
			}
			if err := s.repo.UpdateWallet(ctx, tx, userID, balanceAfter, w.Version); err != nil {
				return err
			}
		}

		rid := requestID
		if err := s.repo.CreateTransaction(ctx, tx, &model.Transaction{
			UserID: userID, Type: model.TxTypeTopUp, Amount: amt,
			BalanceBefore: before, BalanceAfter: balanceAfter,
			Detail: "wallet top-up", RequestID: &rid,
		}); err != nil {
			return err
		}
		if err := s.repo.CreateTopupRequest(ctx, tx, &model.TopupRequest{
			RequestID: requestID, UserID: userID, Amount: amt, BalanceAfter: balanceAfter,
		}); err != nil {
			return err
		}
		return s.emit(ctx, tx, userID, model.EventTopUp, map[string]interface{}{
			"user_id": userID, "amount": amt, "balance": balanceAfter, "request_id": requestID,
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balanceAfter, nil
}

func (s *WalletService) replay(marker *model.TopupRequest, userID string) (decimal.Decimal, error) {
	if marker.UserID != userID {
		return decimal.Zero, fmt.Errorf("%w: request id already used by another wallet", ErrInvalidRequest)
	}
	s.log.Infow("top-up replayed", "user_id", userID, "request_id", marker.RequestID)
	return marker.BalanceAfter, nil
}

// Withdraw subtracts money.
func (s *WalletService) Withdraw(ctx context.Context, userID string, amt decimal.Decimal) (decimal.Decimal, error) {
	userID = strings.TrimSpace(userID)
	if !validKey(userID) {
		return decimal.Zero, ErrInvalidRequest
	}
	if !validAmount(amt) {
		return decimal.Zero, ErrInvalidAmount
	}

	var newBal decimal.Decimal
	err := s.mutate(ctx, userID, func(tx *gorm.DB) error {
		w, err := s.lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		if w == nil {
			return ErrWalletNotFound
		}
		if newBal, err = s.debit(ctx, tx, w, amt); err != nil {
			return err
		}
		if err := s.repo.CreateTransaction(ctx, tx, &model.Transaction{
			UserID: userID, Type: model.TxTypeWithdraw, Amount: amt,
			BalanceBefore: w.Balance, BalanceAfter: newBal,
			Detail: "wallet withdrawal",
		}); err != nil {
			return err
		}
		return s.emit(ctx, tx, userID, model.EventWithdraw, map[string]interface{}{
			"user_id": userID, "amount": amt, "balance": newBal,
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBal, nil
}

// ListTransactions returns the user's log, oldest first.
func (s *WalletService) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	userID = strings.TrimSpace(userID)
	if !validKey(userID) {
		return nil, ErrInvalidRequest
	}
	txs, err := s.repo.ListTransactions(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	return txs, nil
}

// ListAllTransactions returns every record, newest first, with owner details.
func (s *WalletService) ListAllTransactions(ctx context.Context) ([]model.TransactionView, error) {
	views, err := s.repo.ListAllTransactions(ctx)
	if err != nil {
		return nil, storageErr(err)
	}
	for i := range views {
		if views[i].UserName == "" {
			views[i].UserName = "Unknown User"
		}
		if views[i].UserEmail == "" {
			views[i].UserEmail = "-"
		}
	}
	return views, nil
}

// Repo exposes underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface {
	return s.repo
}

// mutate runs fn in one DB transaction, under the wallet lock when one is
// configured. Version conflicts and unique-key races roll back and retry.
func (s *WalletService) mutate(ctx context.Context, userID string, fn func(tx *gorm.DB) error) error {
	if s.locker != nil {
		unlock, err := s.locker.LockWallet(ctx, userID, uuid.NewString())
		if err != nil {
			return storageErr(err)
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				s.log.Warnw("wallet unlock failed", "user_id", userID, "error", err)
			}
		}()
	}

	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.repo.DB(ctx).Transaction(fn)
		if !retryable(err) {
			break
		}
		s.log.Infow("wallet write conflict", "user_id", userID, "attempt", attempt, "error", err)
	}

	switch {
	case err == nil:
		s.refreshCache(ctx, userID)
		return nil
	case isBusinessErr(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return storageErr(err)
	}
}

// refreshCache writes the committed snapshot so an older read-through fill
// cannot replace it. When that fails the entry is dropped instead.
func (s *WalletService) refreshCache(ctx context.Context, userID string) {
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), userID)
	if err == nil {
		err = s.repo.CacheBalance(ctx, w.Snapshot())
	}
	if err == nil {
		return
	}
	s.log.Warnw("balance cache refresh failed", "user_id", userID, "error", err)
	if err := s.repo.InvalidateBalance(ctx, userID); err != nil {
		s.log.Warnw("balance cache invalidation failed", "user_id", userID, "error", err)
	}
}

// lockWallet returns the locked wallet row, or nil when the user has none.
func (s *WalletService) lockWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	w, err := s.repo.GetWalletForUpdate(ctx, tx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return w, err
}

func (s *WalletService) debit(ctx context.Context, tx *gorm.DB, w *model.Wallet, amt decimal.Decimal) (decimal.Decimal, error) {
	if w.Balance.LessThan(amt) {
		return decimal.Zero, repo.ErrInsufficientFunds
	}
	newBal := w.Balance.Sub(amt)
	if err := s.repo.UpdateWallet(ctx, tx, w.UserID, newBal, w.Version); err != nil {
		return decimal.Zero, err
	}
	return newBal, nil
}

func (s *WalletService) emit(ctx context.Context, tx *gorm.DB, userID, eventType string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate: "Wallet", AggregateID: userID, EventType: eventType, Payload: string(data),
	})
}

func retryable(err error) bool {
	return errors.Is(err, repo.ErrOptimisticLock) || errors.Is(err, gorm.ErrDuplicatedKey)
}

func isBusinessErr(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrAlreadyPurchased) ||
		errors.Is(err, repo.ErrInsufficientFunds)
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
