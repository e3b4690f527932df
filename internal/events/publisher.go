// Package events relays committed outbox events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes outbox events to a Kafka topic. Messages are keyed by
// wallet id so every event of one wallet lands on the same partition.
type Publisher struct {
	writer messageWriter
}

// NewPublisher builds a Publisher for cfg.Topic.
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, evt model.OutboxEvent) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "aggregate", Value: []byte(evt.Aggregate)},
		},
		Time: time.Now(),
	})
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
