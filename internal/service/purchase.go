package service

import (
	"context"
	"strings"
	"time"

	"github.com/richardliu001/gamestore-wallet/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	defaultTopGames = 5
	maxTopGames     = 100
)

// PurchaseRequest buys one game from the wallet balance.
type PurchaseRequest struct {
	UserID   string
	GameID   string
	GameName string
	Amount   decimal.Decimal
}

// CheckoutItem is one cart line.
type CheckoutItem struct {
	GameID string          `json:"game_id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// CheckoutResult reports what a checkout bought and what it skipped as already owned.
type CheckoutResult struct {
	Purchased  []model.Transaction `json:"purchased"`
	Skipped    []string            `json:"skipped"`
	TotalPrice decimal.Decimal     `json:"total_price"`
	Balance    decimal.Decimal     `json:"balance"`
}

// LibraryEntry is one owned game.
type LibraryEntry struct {
	GameID      string          `json:"game_id"`
	GameName    string          `json:"game_name"`
	Price       decimal.Decimal `json:"price"`
	PurchasedAt time.Time       `json:"purchased_at"`
}

// GameKey is the structured identity of a game in the purchase log: the
// trimmed, lower-cased game id, or the game name when no id is given.
func GameKey(gameID, gameName string) string {
	k := strings.TrimSpace(gameID)
	if k == "" {
		k = strings.TrimSpace(gameName)
	}
	return strings.ToLower(k)
}

// Purchase debits the price of one game. A user can buy each game once.
func (s *WalletService) Purchase(ctx context.Context, req PurchaseRequest) (decimal.Decimal, error) {
	userID := strings.TrimSpace(req.UserID)
	key := GameKey(req.GameID, req.GameName)
	if !validKey(userID) || !validKey(key) {
		return decimal.Zero, ErrInvalidRequest
	}
	if !validAmount(req.Amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	name := strings.TrimSpace(req.GameName)
	if name == "" {
		name = strings.TrimSpace(req.GameID)
	}

	var newBal decimal.Decimal
	err := s.mutate(ctx, userID, func(tx *gorm.DB) error {
		w, err := s.lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		owned, err := s.repo.PurchasedGameIDs(ctx, tx, userID, []string{key})
		if err != nil {
			return err
		}
		if len(owned) > 0 {
			return ErrAlreadyPurchased
		}
		if w == nil {
			return ErrWalletNotFound
		}
		if newBal, err = s.debit(ctx, tx, w, req.Amount); err != nil {
			return err
		}
		gameID := key
		if err := s.repo.CreateTransaction(ctx, tx, &model.Transaction{
			UserID: userID, Type: model.TxTypePurchase, Amount: req.Amount,
			BalanceBefore: w.Balance, BalanceAfter: newBal,
			Detail: "purchased " + name, GameID: &gameID, GameName: name,
		}); err != nil {
			return err
		}
		return s.emit(ctx, tx, userID, model.EventPurchase, map[string]interface{}{
			"user_id": userID, "game_id": key, "amount": req.Amount, "balance": newBal,
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBal, nil
}

// Checkout buys every cart item the user does not own yet in one debit.
func (s *WalletService) Checkout(ctx context.Context, userID string, items []CheckoutItem) (*CheckoutResult, error) {
	userID = strings.TrimSpace(userID)
	if !validKey(userID) || len(items) == 0 {
		return nil, ErrInvalidRequest
	}

	type line struct {
		key, name string
		price     decimal.Decimal
	}
	lines := make([]line, 0, len(items))
	keys := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		key := GameKey(it.GameID, it.Name)
		if !validKey(key) {
			return nil, ErrInvalidRequest
		}
		if !validAmount(it.Price) {
			return nil, ErrInvalidAmount
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		name := strings.TrimSpace(it.Name)
		if name == "" {
			name = strings.TrimSpace(it.GameID)
		}
		lines = append(lines, line{key: key, name: name, price: it.Price})
		keys = append(keys, key)
	}

	var res *CheckoutResult
	err := s.mutate(ctx, userID, func(tx *gorm.DB) error {
		res = &CheckoutResult{Purchased: []model.Transaction{}, Skipped: []string{}}

		w, err := s.lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		owned, err := s.repo.PurchasedGameIDs(ctx, tx, userID, keys)
		if err != nil {
			return err
		}
		ownedSet := make(map[string]bool, len(owned))
		for _, id := range owned {
			ownedSet[id] = true
		}

		fresh := make([]line, 0, len(lines))
		total := decimal.Zero
		for _, l := range lines {
			if ownedSet[l.key] {
				res.Skipped = append(res.Skipped, l.key)
				continue
			}
			fresh = append(fresh, l)
			total = total.Add(l.price)
		}
		if len(fresh) == 0 {
			return ErrAlreadyPurchased
		}
		if w == nil {
			return ErrWalletNotFound
		}
		newBal, err := s.debit(ctx, tx, w, total)
		if err != nil {
			return err
		}

		running := w.Balance
		for _, l := range fresh {
			gameID := l.key
			rec := model.Transaction{
				UserID: userID, Type: model.TxTypePurchase, Amount: l.price,
				BalanceBefore: running, BalanceAfter: running.Sub(l.price),
				Detail: "purchased " + l.name, GameID: &gameID, GameName: l.name,
			}
			if err := s.repo.CreateTransaction(ctx, tx, &rec); err != nil {
				return err
			}
			running = rec.BalanceAfter
			res.Purchased = append(res.Purchased, rec)
		}
		res.TotalPrice = total
		res.Balance = newBal

		bought := make([]string, 0, len(fresh))
		for _, l := range fresh {
			bought = append(bought, l.key)
		}
		return s.emit(ctx, tx, userID, model.EventCheckout, map[string]interface{}{
			"user_id": userID, "games": bought, "total": total, "balance": newBal,
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Library lists the games a user owns, most recent purchase first.
func (s *WalletService) Library(ctx context.Context, userID string) ([]LibraryEntry, error) {
	userID = strings.TrimSpace(userID)
	if !validKey(userID) {
		return nil, ErrInvalidRequest
	}
	txs, err := s.repo.ListPurchases(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	lib := make([]LibraryEntry, 0, len(txs))
	for _, t := range txs {
		if t.GameID == nil {
			continue
		}
		lib = append(lib, LibraryEntry{GameID: *t.GameID, GameName: t.GameName, Price: t.Amount, PurchasedAt: t.CreatedAt})
	}
	return lib, nil
}

// TopGames ranks games by purchase count.
func (s *WalletService) TopGames(ctx context.Context, limit int) ([]model.GameSales, error) {
	if limit <= 0 {
		limit = defaultTopGames
	}
	if limit > maxTopGames {
		limit = maxTopGames
	}
	sales, err := s.repo.TopGames(ctx, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	return sales, nil
}
