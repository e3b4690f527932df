package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is the authoritative balance row. Mutations always re-read it under lock.
type Wallet struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey;column:id" json:"id"`
	Balance   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"balance"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }
