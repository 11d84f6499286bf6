package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/config"
)

// Event is one message to publish. Key picks the partition. Value is sent
// as is when it is []byte or json.RawMessage and JSON encoded otherwise.
type Event struct {
	Key     string
	Value   any
	Headers map[string]string
}

func (e Event) message() (kafka.Message, error) {
	var value []byte
	switch v := e.Value.(type) {
	case []byte:
		value = v
	case json.RawMessage:
		value = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return kafka.Message{}, fmt.Errorf("encoding event %q: %w", e.Key, err)
		}
		value = b
	}
	msg := kafka.Message{Key: []byte(e.Key), Value: value}
	for k, v := range e.Headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return msg, nil
}

// Producer writes events to one topic. Writes are synchronous and wait for
// all in-sync replicas.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer creates a Producer for topic.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			Compression:            kafka.Snappy,
			AllowAutoTopicCreation: true,
		},
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes events in a single call.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		m, err := e.message()
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("writing %d messages to %s: %w", len(msgs), p.writer.Topic, err)
	}
	p.logger.Debug("published", "count", len(msgs))
	return nil
}

// PublishBatch is Publish for a slice.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	return p.Publish(ctx, events...)
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
