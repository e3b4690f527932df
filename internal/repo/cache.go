package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/model"
)

// ErrCacheMiss is returned when no cached wallet exists.
var ErrCacheMiss = errors.New("cache miss")

// BalanceCache keeps advisory wallet snapshots in Redis for read paths only.
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBalanceCache constructs cache.
func NewBalanceCache(rdb *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{rdb: rdb, ttl: ttl}
}

func walletKey(id uuid.UUID) string { return fmt.Sprintf("wallet:%s", id) }

// Get reads Redis.
func (c *BalanceCache) Get(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	raw, err := c.rdb.Get(ctx, walletKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var w model.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode cached wallet: %w", err)
	}
	return &w, nil
}

// Set writes Redis.
func (c *BalanceCache) Set(ctx context.Context, w *model.Wallet) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, walletKey(w.ID), raw, c.ttl).Err()
}

// Invalidate drops the cached snapshot after a committed mutation.
func (c *BalanceCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.rdb.Del(ctx, walletKey(id)).Err()
}
