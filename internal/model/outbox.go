package model

import "time"

// Outbox event types.
const (
	EventTopUp    = "TopUp"
	EventWithdraw = "Withdraw"
	EventPurchase = "Purchase"
	EventCheckout = "Checkout"
)

type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID string    `gorm:"size:64;not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }

// All lists every table the service migrates.
func All() []interface{} {
	return []interface{}{&Wallet{}, &Transaction{}, &TopupRequest{}, &User{}, &OutboxEvent{}}
}
