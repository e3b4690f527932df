package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OperationType string

const (
	OperationDeposit  OperationType = "DEPOSIT"
	OperationWithdraw OperationType = "WITHDRAW"
)

// Valid reports whether o is a known operation.
func (o OperationType) Valid() bool {
	return o == OperationDeposit || o == OperationWithdraw
}

type TransactionStatus string

const (
	StatusPending TransactionStatus = "PENDING"
	StatusSuccess TransactionStatus = "SUCCESS"
	StatusFailed  TransactionStatus = "FAILED"
)

// Terminal reports whether the status can no longer change.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// MaxIdempotencyKeyLen is the width of the idempotency_key column.
const MaxIdempotencyKeyLen = 64

// Transaction records one balance-mutating attempt. Amount is always positive;
// the direction comes from OperationType.
type Transaction struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	WalletID       uuid.UUID         `gorm:"type:uuid;not null;index:idx_transactions_wallet_key,priority:1" json:"wallet_id"`
	OperationType  OperationType     `gorm:"size:16;not null" json:"operation_type"`
	Amount         decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"amount"`
	Status         TransactionStatus `gorm:"size:16;not null" json:"status"`
	IdempotencyKey *string           `gorm:"size:64;index:idx_transactions_wallet_key,priority:2" json:"-"`
	CreatedAt      time.Time         `gorm:"not null;index" json:"created_at"`

	Wallet *Wallet `gorm:"foreignKey:WalletID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
}

func (Transaction) TableName() string { return "transactions" }
