package events

import (
	"context"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"go.uber.org/zap"
)

// Source is where unprocessed outbox events are read from.
type Source interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	RecordOutboxFailure(ctx context.Context, id uint64, cause error) error
}

// Sink receives relayed events.
type Sink interface {
	Publish(ctx context.Context, evt model.OutboxEvent) error
}

// Relay moves outbox events to the sink in creation order.
type Relay struct {
	src      Source
	sink     Sink
	batch    int
	interval time.Duration
	log      *zap.SugaredLogger
}

// NewRelay constructs a relay polling every interval.
func NewRelay(src Source, sink Sink, batch int, interval time.Duration, logger *zap.SugaredLogger) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{src: src, sink: sink, batch: batch, interval: interval, log: logger}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Errorw("relay outbox", "error", err)
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many events were marked
// processed. It stops at the first publish failure so later events are not
// delivered ahead of it.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	evts, err := r.src.PollOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range evts {
		if err := r.sink.Publish(ctx, evt); err != nil {
			r.log.Warnw("publish event", "id", evt.ID, "type", evt.EventType, "attempts", evt.Attempts+1, "error", err)
			if rerr := r.src.RecordOutboxFailure(ctx, evt.ID, err); rerr != nil {
				return sent, rerr
			}
			return sent, nil
		}
		if err := r.src.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			return sent, err
		}
		r.log.Debugw("event sent", "id", evt.ID, "type", evt.EventType)
		sent++
	}
	return sent, nil
}
