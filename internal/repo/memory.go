package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/shopspring/decimal"
)

// MemoryStore is a concurrency-safe in-process Store. Each wallet has its own
// lock held for the duration of a unit; writes are staged and applied on commit.
type MemoryStore struct {
	opts Options

	mu      sync.RWMutex
	wallets map[uuid.UUID]model.Wallet
	txs     []model.Transaction
	events  []model.OutboxEvent
	eventID uint64

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}

	// beforeCommit runs with mu held; a non-nil error aborts the commit.
	beforeCommit func() error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts Options) *MemoryStore {
	if opts.LockMode == "" {
		opts.LockMode = config.LockBlocking
	}
	return &MemoryStore{
		opts:    opts,
		wallets: make(map[uuid.UUID]model.Wallet),
		locks:   make(map[uuid.UUID]chan struct{}),
	}
}

func (s *MemoryStore) CreateWallet(_ context.Context) (*model.Wallet, error) {
	now := time.Now().UTC()
	w := model.Wallet{ID: uuid.New(), Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	s.mu.Lock()
	s.wallets[w.ID] = w
	s.mu.Unlock()
	return &w, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, id uuid.UUID) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, walletID uuid.UUID, limit int, since time.Time) ([]model.Transaction, error) {
	s.mu.RLock()
	var out []model.Transaction
	for _, t := range s.txs {
		if t.WalletID == walletID && !t.CreatedAt.Before(since) {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveTransaction(_ context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[t.WalletID]; !ok {
		return ErrNotFound
	}
	s.txs = append(s.txs, *t)
	return nil
}

// OutboxEvents returns a copy of every event committed so far.
func (s *MemoryStore) OutboxEvents() []model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.OutboxEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryStore) RunInUnit(ctx context.Context, fn func(u Unit) error) error {
	u := &memoryUnit{s: s, held: make(map[uuid.UUID]bool), wallets: make(map[uuid.UUID]model.Wallet)}
	defer u.release()
	if err := fn(u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Classify(err)
	}
	return s.commit(u)
}

func (s *MemoryStore) commit(u *memoryUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeCommit != nil {
		if err := s.beforeCommit(); err != nil {
			return Classify(err)
		}
	}
	for id, w := range u.wallets {
		s.wallets[id] = w
	}
	s.txs = append(s.txs, u.txs...)
	for _, evt := range u.events {
		s.eventID++
		evt.ID = s.eventID
		s.events = append(s.events, evt)
	}
	return nil
}

func (s *MemoryStore) lockFor(id uuid.UUID) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

func (s *MemoryStore) acquire(ctx context.Context, id uuid.UUID) error {
	l := s.lockFor(id)
	if s.opts.LockMode == config.LockSkipLocked || s.opts.LockMode == config.LockNoWait {
		select {
		case l <- struct{}{}:
			return nil
		default:
			return ErrLockUnavailable
		}
	}
	if s.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return Classify(ctx.Err())
		}
		return fmt.Errorf("%w: waiting for wallet lock: %w", ErrTransient, ctx.Err())
	}
}

type memoryUnit struct {
	s       *MemoryStore
	held    map[uuid.UUID]bool
	wallets map[uuid.UUID]model.Wallet
	txs     []model.Transaction
	events  []model.OutboxEvent
}

func (u *memoryUnit) release() {
	for id := range u.held {
		<-u.s.lockFor(id)
	}
}

func (u *memoryUnit) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	if _, err := u.s.GetWallet(ctx, id); err != nil {
		return nil, err
	}
	if !u.held[id] {
		if err := u.s.acquire(ctx, id); err != nil {
			return nil, err
		}
		u.held[id] = true
	}
	if w, ok := u.wallets[id]; ok {
		return &w, nil
	}
	return u.s.GetWallet(ctx, id)
}

func (u *memoryUnit) TxExists(_ context.Context, walletID uuid.UUID, key string) (bool, *model.Transaction, error) {
	if key == "" {
		return false, nil, nil
	}
	match := func(t model.Transaction) bool {
		return t.WalletID == walletID && t.Status == model.StatusSuccess &&
			t.IdempotencyKey != nil && *t.IdempotencyKey == key
	}
	for _, t := range u.txs {
		if match(t) {
			return true, &t, nil
		}
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, t := range u.s.txs {
		if match(t) {
			return true, &t, nil
		}
	}
	return false, nil, nil
}

func (u *memoryUnit) WriteBalanceAndTransaction(_ context.Context, w *model.Wallet, newBalance decimal.Decimal, t *model.Transaction) error {
	if !u.held[w.ID] {
		return errors.New("wallet is not locked by this unit")
	}
	staged := *w
	staged.Balance = newBalance
	staged.UpdatedAt = time.Now().UTC()
	u.wallets[w.ID] = staged
	u.txs = append(u.txs, *t)
	w.Balance, w.UpdatedAt = staged.Balance, staged.UpdatedAt
	return nil
}

func (u *memoryUnit) SaveTransaction(_ context.Context, t *model.Transaction) error {
	u.txs = append(u.txs, *t)
	return nil
}

func (u *memoryUnit) AddOutboxEvent(_ context.Context, evt *model.OutboxEvent) error {
	e := *evt
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	u.events = append(u.events, e)
	return nil
}
