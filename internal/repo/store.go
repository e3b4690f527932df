package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when the wallet id does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrLockUnavailable means a non-blocking lock request could not be granted.
	ErrLockUnavailable = errors.New("wallet lock unavailable")
	// ErrTransient covers connectivity and operational failures worth retrying.
	ErrTransient = errors.New("transient store failure")
	// ErrDataRange means a numeric value exceeds what the store can represent.
	ErrDataRange = errors.New("numeric value out of range")
	// ErrCanceled means the caller gave up before the store answered.
	ErrCanceled = errors.New("store call canceled")
)

// Store is durable keyed storage for wallets and their transactions.
type Store interface {
	CreateWallet(ctx context.Context) (*model.Wallet, error)
	// GetWallet is a plain read; it may observe a slightly stale balance.
	GetWallet(ctx context.Context, id uuid.UUID) (*model.Wallet, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int, since time.Time) ([]model.Transaction, error)
	// SaveTransaction writes a standalone record outside of any unit of work.
	SaveTransaction(ctx context.Context, t *model.Transaction) error
	// RunInUnit executes fn atomically. Everything fn writes through the Unit
	// is committed when fn returns nil and discarded otherwise; locks taken
	// inside the unit are held until it ends.
	RunInUnit(ctx context.Context, fn func(u Unit) error) error
}

// Unit is the view of the store inside one atomic unit of work.
type Unit interface {
	// GetWalletForUpdate acquires the wallet's exclusive row lock.
	GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*model.Wallet, error)
	// TxExists finds a SUCCESS transaction for the wallet carrying key.
	TxExists(ctx context.Context, walletID uuid.UUID, key string) (bool, *model.Transaction, error)
	// WriteBalanceAndTransaction persists the new balance and t as one unit.
	WriteBalanceAndTransaction(ctx context.Context, w *model.Wallet, newBalance decimal.Decimal, t *model.Transaction) error
	SaveTransaction(ctx context.Context, t *model.Transaction) error
	AddOutboxEvent(ctx context.Context, evt *model.OutboxEvent) error
}

// Options configures lock acquisition for a store.
type Options struct {
	LockMode         string
	LockTimeout      time.Duration
	StatementTimeout time.Duration
}
