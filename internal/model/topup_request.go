package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopupRequest marks a top-up request id as applied and keeps its result.
type TopupRequest struct {
	RequestID    string          `gorm:"primaryKey;size:64" json:"request_id"`
	UserID       string          `gorm:"size:64;not null" json:"user_id"`
	Amount       decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	BalanceAfter decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"balance_after"`
	ProcessedAt  time.Time       `gorm:"autoCreateTime" json:"processed_at"`
}

func (TopupRequest) TableName() string { return "topup_requests" }
