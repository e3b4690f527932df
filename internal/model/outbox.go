package model

import "time"

// Outbox event types.
const (
	EventWalletDeposited = "WalletDeposited"
	EventWalletWithdrawn = "WalletWithdrawn"
	EventOperationFailed = "OperationFailed"
)

// OutboxEvent is written in the same unit of work as the transaction it
// describes and relayed to Kafka afterwards.
type OutboxEvent struct {
	ID          uint64     `gorm:"primaryKey" json:"id"`
	Aggregate   string     `gorm:"size:64;not null" json:"aggregate"`
	AggregateID string     `gorm:"size:64;not null;index" json:"aggregate_id"`
	EventType   string     `gorm:"size:64;not null" json:"event_type"`
	Payload     string     `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index:idx_outbox_pending,priority:2" json:"created_at"`
	Processed   bool       `gorm:"not null;default:false;index:idx_outbox_pending,priority:1" json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	// Attempts counts failed publish attempts.
	Attempts  int    `gorm:"not null;default:0" json:"attempts"`
	LastError string `gorm:"size:512" json:"last_error,omitempty"`
}

func (OutboxEvent) TableName() string { return "event_outbox" }
