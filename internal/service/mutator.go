package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/money"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Mutation is one balance change request.
type Mutation struct {
	WalletID       uuid.UUID
	Operation      model.OperationType
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Mutator applies a single mutation attempt inside one unit of work. It
// never retries; infrastructure failures are returned as store errors.
type Mutator struct {
	store          repo.Store
	maxAmount      decimal.Decimal
	attemptTimeout time.Duration
	slowUnit       time.Duration
	log            *zap.SugaredLogger
}

// NewMutator builds a Mutator from the ledger config section.
func NewMutator(store repo.Store, cfg config.LedgerConfig, logger *zap.SugaredLogger) *Mutator {
	return &Mutator{
		store:          store,
		maxAmount:      cfg.MaxAmountDecimal(),
		attemptTimeout: cfg.AttemptTimeout,
		slowUnit:       cfg.SlowUnitThreshold,
		log:            logger,
	}
}

// ValidateAmount rejects amounts before any lock is taken.
func (m *Mutator) ValidateAmount(amount decimal.Decimal) error {
	if err := money.Validate(amount, m.maxAmount); err != nil {
		if errors.Is(err, money.ErrOutOfRange) {
			return fmt.Errorf("%w: %w", ErrAmountOutOfRange, err)
		}
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	return nil
}

// Apply runs one attempt. On InsufficientFunds and post-lock range failures
// the returned transaction is the committed FAILED record.
func (m *Mutator) Apply(ctx context.Context, mut Mutation) (*model.Transaction, error) {
	if !mut.Operation.Valid() {
		return nil, ErrInvalidOperation
	}
	if err := m.ValidateAmount(mut.Amount); err != nil {
		return nil, err
	}
	if m.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.attemptTimeout)
		defer cancel()
	}

	var (
		result  *model.Transaction
		outcome error
	)
	start := time.Now()
	err := m.store.RunInUnit(ctx, func(u repo.Unit) error {
		w, err := u.GetWalletForUpdate(ctx, mut.WalletID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrWalletNotFound
			}
			return err
		}

		if mut.IdempotencyKey != "" {
			found, existing, err := u.TxExists(ctx, mut.WalletID, mut.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				if existing.OperationType != mut.Operation || !existing.Amount.Equal(mut.Amount) {
					return ErrIdempotencyConflict
				}
				result = existing
				return nil
			}
		}

		newBalance := w.Balance.Add(mut.Amount)
		if mut.Operation == model.OperationWithdraw {
			newBalance = w.Balance.Sub(mut.Amount)
		}

		switch {
		case newBalance.IsNegative():
			outcome = ErrInsufficientFunds
		case newBalance.GreaterThan(config.MaxRepresentable):
			outcome = fmt.Errorf("%w: resulting balance exceeds %s", ErrAmountOutOfRange, money.Format(config.MaxRepresentable))
		}
		if outcome != nil {
			t := newTransaction(mut, model.StatusFailed)
			if err := u.SaveTransaction(ctx, t); err != nil {
				return err
			}
			if err := u.AddOutboxEvent(ctx, outboxEvent(t, &w.Balance)); err != nil {
				return err
			}
			result = t
			return nil
		}

		t := newTransaction(mut, model.StatusSuccess)
		if err := u.WriteBalanceAndTransaction(ctx, w, newBalance, t); err != nil {
			return err
		}
		if err := u.AddOutboxEvent(ctx, outboxEvent(t, &newBalance)); err != nil {
			return err
		}
		result = t
		return nil
	})
	if elapsed := time.Since(start); m.slowUnit > 0 && elapsed > m.slowUnit {
		m.log.Warnw("slow wallet unit of work",
			"wallet_id", mut.WalletID, "operation", mut.Operation, "elapsed", elapsed)
	}

	if err != nil {
		err = repo.Classify(err)
		if errors.Is(err, repo.ErrDataRange) {
			return m.recordRangeFailure(ctx, mut, err)
		}
		return nil, err
	}
	return result, outcome
}

// recordRangeFailure writes the FAILED row after the unit was rolled back.
func (m *Mutator) recordRangeFailure(ctx context.Context, mut Mutation, cause error) (*model.Transaction, error) {
	t := newTransaction(mut, model.StatusFailed)
	if err := m.store.SaveTransaction(ctx, t); err != nil {
		m.log.Errorw("failed to record FAILED transaction",
			"wallet_id", mut.WalletID, "operation", mut.Operation, "amount", money.Format(mut.Amount), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAmountOutOfRange, cause)
	}
	return t, fmt.Errorf("%w: %w", ErrAmountOutOfRange, cause)
}

func newTransaction(mut Mutation, status model.TransactionStatus) *model.Transaction {
	t := &model.Transaction{
		ID:            uuid.New(),
		WalletID:      mut.WalletID,
		OperationType: mut.Operation,
		Amount:        mut.Amount,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
	if mut.IdempotencyKey != "" && status == model.StatusSuccess {
		key := mut.IdempotencyKey
		t.IdempotencyKey = &key
	}
	return t
}

type eventPayload struct {
	TransactionID string `json:"transaction_id"`
	WalletID      string `json:"wallet_id"`
	Operation     string `json:"operation_type"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	Balance       string `json:"balance,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// outboxEvent describes t for the relay; balance is nil when unknown.
func outboxEvent(t *model.Transaction, balance *decimal.Decimal) *model.OutboxEvent {
	typ := model.EventOperationFailed
	if t.Status == model.StatusSuccess {
		typ = model.EventWalletDeposited
		if t.OperationType == model.OperationWithdraw {
			typ = model.EventWalletWithdrawn
		}
	}
	p := eventPayload{
		TransactionID: t.ID.String(),
		WalletID:      t.WalletID.String(),
		Operation:     string(t.OperationType),
		Amount:        money.Format(t.Amount),
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt.Format(time.RFC3339Nano),
	}
	if balance != nil {
		p.Balance = money.Format(*balance)
	}
	payload, _ := json.Marshal(p)
	return &model.OutboxEvent{
		Aggregate:   "Wallet",
		AggregateID: t.WalletID.String(),
		EventType:   typ,
		Payload:     string(payload),
		CreatedAt:   t.CreatedAt,
	}
}
