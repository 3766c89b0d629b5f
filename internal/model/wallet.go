package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the per-user balance row. A user without a row has balance 0.
type Wallet struct {
	UserID      string          `gorm:"primaryKey;column:user_id;size:64" json:"user_id"`
	Balance     decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'" json:"balance"`
	Version     uint64          `gorm:"not null;default:0" json:"-"`
	LastUpdated time.Time       `gorm:"not null" json:"last_updated"`
}

func (Wallet) TableName() string { return "wallets" }

// WalletSnapshot is the read view of a wallet, also the cached form.
// Version orders cache writes and is never rendered.
type WalletSnapshot struct {
	UserID      string          `json:"user_id"`
	Balance     decimal.Decimal `json:"balance"`
	LastUpdated *time.Time      `json:"last_updated"`
	Version     uint64          `json:"-"`
}

// Snapshot converts a stored wallet into its read view.
func (w *Wallet) Snapshot() WalletSnapshot {
	ts := w.LastUpdated
	return WalletSnapshot{UserID: w.UserID, Balance: w.Balance, LastUpdated: &ts, Version: w.Version}
}
