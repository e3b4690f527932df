package repo

import (
	"context"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"gorm.io/gorm"
)

const maxOutboxError = 512

// PollOutbox pulls unprocessed events oldest first.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_at, id").
		Limit(limit).
		Find(&evts).Error
	return evts, Classify(err)
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	return Classify(r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error)
}

// RecordOutboxFailure bumps the attempt counter and keeps the last publish error.
func (r *Repository) RecordOutboxFailure(ctx context.Context, id uint64, cause error) error {
	msg := cause.Error()
	if len(msg) > maxOutboxError {
		msg = msg[:maxOutboxError]
	}
	return Classify(r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error)
}
