package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeSink struct {
	sent   []model.OutboxEvent
	failOn uint64
}

func (f *fakeSink) Publish(_ context.Context, evt model.OutboxEvent) error {
	if evt.ID == f.failOn {
		return errors.New("broker down")
	}
	f.sent = append(f.sent, evt)
	return nil
}

func newOutboxRepo(t *testing.T, events int) *repo.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.Migrate(db))

	r := repo.NewRepository(db, repo.Options{}, logger.Nop())
	base := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, r.RunInUnit(context.Background(), func(u repo.Unit) error {
		for i := 0; i < events; i++ {
			if err := u.AddOutboxEvent(context.Background(), &model.OutboxEvent{
				Aggregate:   "Wallet",
				AggregateID: "w-1",
				EventType:   model.EventWalletDeposited,
				Payload:     fmt.Sprintf(`{"seq":%d}`, i),
				CreatedAt:   base.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
		}
		return nil
	}))
	return r
}

func TestRelay_PublishesInOrderAndMarks(t *testing.T) {
	r := newOutboxRepo(t, 3)
	sink := &fakeSink{}
	relay := NewRelay(r, sink, 10, time.Second, logger.Nop())

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, sink.sent, 3)
	assert.Equal(t, `{"seq":0}`, sink.sent[0].Payload)
	assert.Equal(t, `{"seq":2}`, sink.sent[2].Payload)

	left, err := r.PollOutbox(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRelay_StopsAtFailureAndRetriesNextTick(t *testing.T) {
	r := newOutboxRepo(t, 3)
	pending, err := r.PollOutbox(context.Background(), 10)
	require.NoError(t, err)

	sink := &fakeSink{failOn: pending[1].ID}
	relay := NewRelay(r, sink, 10, time.Second, logger.Nop())

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := r.PollOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, 1, left[0].Attempts)
	assert.Equal(t, "broker down", left[0].LastError)

	sink.failOn = 0
	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, sink.sent, 3)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	r := newOutboxRepo(t, 1)
	sink := &fakeSink{}
	relay := NewRelay(r, sink, 10, 5*time.Millisecond, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		left, err := r.PollOutbox(context.Background(), 10)
		return err == nil && len(left) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublisher_KeysByWallet(t *testing.T) {
	w := &recordingWriter{}
	p := &Publisher{writer: w}

	require.NoError(t, p.Publish(context.Background(), model.OutboxEvent{
		ID: 7, Aggregate: "Wallet", AggregateID: "abc", EventType: model.EventWalletWithdrawn, Payload: `{}`,
	}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("abc"), w.msgs[0].Key)
	assert.Equal(t, []byte(`{}`), w.msgs[0].Value)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte(model.EventWalletWithdrawn), w.msgs[0].Headers[0].Value)
	assert.NoError(t, p.Close())
}
