package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the gorm-backed Store.
type Repository struct {
	db   *gorm.DB
	opts Options
	log  *zap.SugaredLogger
}

var _ Store = (*Repository)(nil)

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, opts Options, logger *zap.SugaredLogger) *Repository {
	if opts.LockMode == "" {
		opts.LockMode = config.LockBlocking
	}
	return &Repository{db: db, opts: opts, log: logger}
}

// Ping checks connectivity of the underlying pool.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return Classify(sqlDB.PingContext(ctx))
}

// CreateWallet inserts a zero-balance wallet.
func (r *Repository) CreateWallet(ctx context.Context) (*model.Wallet, error) {
	now := time.Now().UTC()
	w := &model.Wallet{ID: uuid.New(), Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		return nil, Classify(err)
	}
	return w, nil
}

// GetWallet reads a wallet without locking.
func (r *Repository) GetWallet(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&w).Error; err != nil {
		return nil, Classify(err)
	}
	return &w, nil
}

// ListTransactions fetches a wallet's transactions oldest first.
func (r *Repository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int, since time.Time) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND created_at >= ?", walletID, since).
		Order("created_at asc").
		Limit(limit).
		Find(&txs).Error
	return txs, Classify(err)
}

// SaveTransaction inserts record outside of a unit of work.
func (r *Repository) SaveTransaction(ctx context.Context, t *model.Transaction) error {
	return Classify(r.db.WithContext(ctx).Create(t).Error)
}

// RunInUnit wraps fn in a database transaction.
func (r *Repository) RunInUnit(ctx context.Context, fn func(u Unit) error) error {
	var opts []*sql.TxOptions
	if r.isPostgres() {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.applyTimeouts(tx); err != nil {
			return err
		}
		return fn(&gormUnit{tx: tx, lockMode: r.opts.LockMode})
	}, opts...)
	err = Classify(err)
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrLockUnavailable) {
		r.log.Debugw("unit of work rolled back", "lock_mode", r.opts.LockMode, "error", err)
	}
	return err
}

func (r *Repository) isPostgres() bool {
	return r.db.Dialector.Name() == "postgres"
}

// applyTimeouts bounds how long the unit may wait on locks and statements.
func (r *Repository) applyTimeouts(tx *gorm.DB) error {
	if !r.isPostgres() {
		return nil
	}
	if r.opts.LockTimeout > 0 {
		if err := tx.Exec("SELECT set_config('lock_timeout', ?, true)", pgInterval(r.opts.LockTimeout)).Error; err != nil {
			return err
		}
	}
	if r.opts.StatementTimeout > 0 {
		if err := tx.Exec("SELECT set_config('statement_timeout', ?, true)", pgInterval(r.opts.StatementTimeout)).Error; err != nil {
			return err
		}
	}
	return nil
}

func pgInterval(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}

type gormUnit struct {
	tx       *gorm.DB
	lockMode string
}

func lockingClause(mode string) clause.Locking {
	l := clause.Locking{Strength: "UPDATE"}
	switch mode {
	case config.LockSkipLocked:
		l.Options = "SKIP LOCKED"
	case config.LockNoWait:
		l.Options = "NOWAIT"
	}
	return l
}

// GetWalletForUpdate locks wallet row.
func (u *gormUnit) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	var w model.Wallet
	err := u.tx.WithContext(ctx).
		Clauses(lockingClause(u.lockMode)).
		Where("id = ?", id).Take(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && u.lockMode == config.LockSkipLocked {
		// a skipped row looks exactly like a missing one
		var n int64
		if cerr := u.tx.WithContext(ctx).Model(&model.Wallet{}).Where("id = ?", id).Count(&n).Error; cerr != nil {
			return nil, Classify(cerr)
		}
		if n > 0 {
			return nil, ErrLockUnavailable
		}
	}
	if err != nil {
		return nil, Classify(err)
	}
	return &w, nil
}

// TxExists checks duplicate by idem key.
func (u *gormUnit) TxExists(ctx context.Context, walletID uuid.UUID, key string) (bool, *model.Transaction, error) {
	if key == "" {
		return false, nil, nil
	}
	var t model.Transaction
	err := u.tx.WithContext(ctx).
		Where("wallet_id = ? AND idempotency_key = ? AND status = ?", walletID, key, model.StatusSuccess).
		Take(&t).Error
	if err == nil {
		return true, &t, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	return false, nil, Classify(err)
}

// WriteBalanceAndTransaction updates the balance and inserts t in the same transaction.
func (u *gormUnit) WriteBalanceAndTransaction(ctx context.Context, w *model.Wallet, newBalance decimal.Decimal, t *model.Transaction) error {
	now := time.Now().UTC()
	res := u.tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ?", w.ID).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"updated_at": now,
		})
	if res.Error != nil {
		return Classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	if err := u.tx.WithContext(ctx).Create(t).Error; err != nil {
		return Classify(err)
	}
	w.Balance = newBalance
	w.UpdatedAt = now
	return nil
}

// SaveTransaction inserts record.
func (u *gormUnit) SaveTransaction(ctx context.Context, t *model.Transaction) error {
	return Classify(u.tx.WithContext(ctx).Create(t).Error)
}

// AddOutboxEvent writes event.
func (u *gormUnit) AddOutboxEvent(ctx context.Context, evt *model.OutboxEvent) error {
	return Classify(u.tx.WithContext(ctx).Create(evt).Error)
}
