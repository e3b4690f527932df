package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/money"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"go.uber.org/zap"
)

// History page bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Outcome labels reported to the Recorder.
const (
	outcomeSuccess     = "SUCCESS"
	outcomeFailed      = "FAILED"
	outcomeUnavailable = "UNAVAILABLE"
	outcomeRejected    = "REJECTED"
	outcomeError       = "ERROR"
	outcomeCanceled    = "CANCELED"
)

// Cache is the advisory read cache for wallets.
type Cache interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Wallet, error)
	Set(ctx context.Context, w *model.Wallet) error
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// OperationRequest is what the request layer submits for a balance change.
type OperationRequest struct {
	WalletID       uuid.UUID
	OperationType  string
	Amount         string
	IdempotencyKey string
}

// WalletService glues the retry coordinator, the mutator and the store.
type WalletService struct {
	store     repo.Store
	mutator   *Mutator
	retrier   *Retrier
	cache     Cache
	rec       Recorder
	exhausted string
	log       *zap.SugaredLogger
}

// Option customizes a WalletService.
type Option func(*WalletService)

// WithCache enables the read-through wallet cache.
func WithCache(c Cache) Option {
	return func(s *WalletService) { s.cache = c }
}

// WithRecorder reports operation outcomes, e.g. to Prometheus.
func WithRecorder(r Recorder) Option {
	return func(s *WalletService) { s.rec = r }
}

// WithRetrySleep replaces the backoff wait. Used by tests.
func WithRetrySleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *WalletService) { s.retrier.sleep = fn }
}

// NewWalletService returns WalletService.
func NewWalletService(store repo.Store, cfg *config.Config, logger *zap.SugaredLogger, opts ...Option) *WalletService {
	s := &WalletService{
		store:     store,
		mutator:   NewMutator(store, cfg.Ledger, logger),
		rec:       noopRecorder{},
		exhausted: cfg.Ledger.ExhaustedPolicy,
		log:       logger,
	}
	s.retrier = NewRetrier(PolicyFromConfig(cfg.Retry), DefaultClassification, logger, nil)
	for _, opt := range opts {
		opt(s)
	}
	s.retrier.rec = s.rec
	return s
}

// CreateWallet creates a zero-balance wallet.
func (s *WalletService) CreateWallet(ctx context.Context) (*model.Wallet, error) {
	w, err := s.store.CreateWallet(ctx)
	if err != nil {
		return nil, s.translate(err, "create wallet")
	}
	return w, nil
}

// GetWallet returns the wallet, served from the cache when possible. The
// balance is advisory and is never used to authorize a mutation.
func (s *WalletService) GetWallet(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	if s.cache != nil {
		w, err := s.cache.Get(ctx, id)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, repo.ErrCacheMiss) {
			s.log.Warnw("wallet cache read failed", "wallet_id", id, "error", err)
		}
	}
	w, err := s.store.GetWallet(ctx, id)
	if err != nil {
		return nil, s.translate(err, "get wallet")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, w); err != nil {
			s.log.Warnw("wallet cache write failed", "wallet_id", id, "error", err)
		}
	}
	return w, nil
}

// PerformOperation validates the request and applies it through the retry
// coordinator. The returned transaction is terminal; a FAILED transaction is
// accompanied by the error explaining it.
func (s *WalletService) PerformOperation(ctx context.Context, req OperationRequest) (*model.Transaction, error) {
	op := model.OperationType(strings.ToUpper(strings.TrimSpace(req.OperationType)))
	if !op.Valid() {
		s.rec.ObserveOperation("UNKNOWN", outcomeRejected)
		return nil, ErrInvalidOperation
	}
	amount, err := money.Parse(req.Amount, s.mutator.maxAmount)
	if err != nil {
		s.rec.ObserveOperation(string(op), outcomeRejected)
		if errors.Is(err, money.ErrOutOfRange) {
			return nil, fmt.Errorf("%w: %w", ErrAmountOutOfRange, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}

	if utf8.RuneCountInString(req.IdempotencyKey) > model.MaxIdempotencyKeyLen {
		s.rec.ObserveOperation(string(op), outcomeRejected)
		return nil, ErrInvalidIdempotencyKey
	}

	mut := Mutation{
		WalletID:       req.WalletID,
		Operation:      op,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
	}
	if mut.IdempotencyKey == "" {
		// shared by every retry of this call
		mut.IdempotencyKey = uuid.NewString()
	}

	var txn *model.Transaction
	var lastAttempt int
	err = s.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		lastAttempt = attempt
		var aerr error
		txn, aerr = s.mutator.Apply(ctx, mut)
		return aerr
	})

	switch {
	case err == nil:
		s.rec.ObserveOperation(string(op), outcomeSuccess)
		s.invalidate(ctx, mut.WalletID)
		return txn, nil
	case txn != nil && txn.Status == model.StatusFailed:
		s.rec.ObserveOperation(string(op), outcomeFailed)
		return txn, err
	case errors.Is(err, repo.ErrCanceled), errors.Is(err, context.Canceled):
		s.rec.ObserveOperation(string(op), outcomeCanceled)
		s.log.Debugw("wallet operation canceled by caller",
			"wallet_id", mut.WalletID, "operation", op, "attempt", lastAttempt)
		return nil, ErrRequestCanceled
	case errors.Is(err, ErrRetriesExhausted):
		return s.exhaustedOutcome(ctx, mut, lastAttempt, err)
	case IsClientError(err):
		s.rec.ObserveOperation(string(op), outcomeRejected)
		return nil, err
	default:
		s.rec.ObserveOperation(string(op), outcomeError)
		s.log.Errorw("unclassified wallet operation failure",
			"wallet_id", mut.WalletID, "operation", op, "amount", money.Format(amount),
			"attempt", lastAttempt, "error", err)
		return nil, ErrInternal
	}
}

// exhaustedOutcome applies ledger.exhausted_policy once retries ran out.
func (s *WalletService) exhaustedOutcome(ctx context.Context, mut Mutation, attempts int, cause error) (*model.Transaction, error) {
	s.log.Errorw("wallet operation retries exhausted",
		"wallet_id", mut.WalletID, "operation", mut.Operation, "amount", money.Format(mut.Amount),
		"attempt", attempts, "policy", s.exhausted, "error", cause)

	if s.exhausted != config.ExhaustedFailedTransaction {
		s.rec.ObserveOperation(string(mut.Operation), outcomeUnavailable)
		return nil, ErrServiceUnavailable
	}
	t := newTransaction(mut, model.StatusFailed)
	err := s.store.RunInUnit(ctx, func(u repo.Unit) error {
		if err := u.SaveTransaction(ctx, t); err != nil {
			return err
		}
		return u.AddOutboxEvent(ctx, outboxEvent(t, nil))
	})
	if err != nil {
		s.log.Errorw("failed to record FAILED transaction", "wallet_id", mut.WalletID, "error", err)
		s.rec.ObserveOperation(string(mut.Operation), outcomeUnavailable)
		return nil, ErrServiceUnavailable
	}
	s.rec.ObserveOperation(string(mut.Operation), outcomeFailed)
	return t, nil
}

// ListTransactions returns a wallet's transactions oldest first.
func (s *WalletService) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int, since time.Time) ([]model.Transaction, error) {
	if _, err := s.store.GetWallet(ctx, walletID); err != nil {
		return nil, s.translate(err, "list transactions")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	txs, err := s.store.ListTransactions(ctx, walletID, limit, since)
	if err != nil {
		return nil, s.translate(err, "list transactions")
	}
	return txs, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
func (s *WalletService) Health(ctx context.Context) error {
	p, ok := s.store.(pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		s.log.Warnw("store ping failed", "error", err)
		return ErrServiceUnavailable
	}
	return nil
}

func (s *WalletService) invalidate(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.Warnw("wallet cache invalidate failed", "wallet_id", id, "error", err)
	}
}

// translate maps store errors onto the service taxonomy.
func (s *WalletService) translate(err error, action string) error {
	err = repo.Classify(err)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrWalletNotFound
	case errors.Is(err, repo.ErrCanceled):
		return ErrRequestCanceled
	case errors.Is(err, repo.ErrTransient), errors.Is(err, repo.ErrLockUnavailable):
		s.log.Warnw(action+" failed", "error", err)
		return ErrServiceUnavailable
	default:
		s.log.Errorw(action+" failed", "error", err)
		return ErrInternal
	}
}
