package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction types.
const (
	TxTypeTopUp    = "topup"
	TxTypeWithdraw = "withdraw"
	TxTypePurchase = "purchase"
)

// Transaction is one immutable entry of the wallet log.
type Transaction struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	UserID        string          `gorm:"size:64;not null;uniqueIndex:idx_transactions_user_game,priority:1" json:"user_id"`
	Type          string          `gorm:"size:32;not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"balance_after"`
	Detail        string          `gorm:"size:255" json:"detail"`
	GameID        *string         `gorm:"size:64;uniqueIndex:idx_transactions_user_game,priority:2" json:"game_id,omitempty"`
	GameName      string          `gorm:"size:255" json:"game_name,omitempty"`
	RequestID     *string         `gorm:"size:64" json:"request_id,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// BeforeCreate assigns the record id.
func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// TransactionView is a log entry joined with its owner for the admin listing.
type TransactionView struct {
	Transaction
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

// GameSales aggregates purchase records of one game.
type GameSales struct {
	GameID       string          `json:"game_id"`
	GameName     string          `json:"game_name"`
	SoldCount    int64           `json:"sold_count"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}
