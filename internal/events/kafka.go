package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages keyed by competition.
type KafkaPublisher struct {
	w      MessageWriter
	logger *slog.Logger
}

// NewKafkaWriter constructs an asynchronous writer: WriteMessages enqueues
// and returns, delivery errors surface through the completion callback.
func NewKafkaWriter(brokers []string, topic string, logger *slog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed", "messages", len(msgs), "err", err)
			}
		},
	}
}

// NewKafkaPublisher wraps w.
func NewKafkaPublisher(w MessageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("marshal event", "type", e.Type, "err", err)
		return
	}
	msg := kafka.Message{Key: []byte(e.Key()), Value: b, Time: e.Timestamp}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("publish event", "type", e.Type, "err", err)
	}
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
