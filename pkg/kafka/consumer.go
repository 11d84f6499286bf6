// Package kafka wraps segmentio/kafka-go for the sync pipeline: the entity
// change feed is consumed through a Consumer and sync alerts are published
// through a Producer.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/resilience"
)

// MessageHandler processes one message. Errors are retried with backoff.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Dead-letter headers describing where a message came from and why it was
// given up on.
const (
	HeaderSourceTopic     = "x-source-topic"
	HeaderSourcePartition = "x-source-partition"
	HeaderSourceOffset    = "x-source-offset"
	HeaderError           = "x-error"
)

var handlerRetry = resilience.RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// Consumer reads one topic as part of a consumer group. A message is
// committed after its handler succeeds or after it was given up on, so one
// poison message never blocks its partition.
type Consumer struct {
	reader     *kafka.Reader
	handler    MessageHandler
	deadLetter *Producer
	logger     *slog.Logger
}

// NewConsumer creates a Consumer for topic. New groups start from the
// earliest offset.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
			StartOffset: kafka.FirstOffset,
		}),
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// WithDeadLetter forwards messages whose handler keeps failing to p before
// they are committed.
func (c *Consumer) WithDeadLetter(p *Producer) *Consumer {
	c.deadLetter = p
	return c
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "dead_letter", c.deadLetter != nil)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping")
				return nil
			}
			c.logger.Error("fetching message", "error", err)
			continue
		}
		if err := c.handle(ctx, msg); err != nil && ctx.Err() != nil {
			// Uncommitted; redelivered to the group after restart.
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("committing message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	err := resilience.Retry(ctx, "kafka-handler", handlerRetry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err == nil || ctx.Err() != nil {
		return err
	}
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "error", err)
	if c.deadLetter == nil {
		log.Error("giving up on message")
		return err
	}
	dl := Event{
		Key:   string(msg.Key),
		Value: msg.Value,
		Headers: map[string]string{
			HeaderSourceTopic:     msg.Topic,
			HeaderSourcePartition: strconv.Itoa(msg.Partition),
			HeaderSourceOffset:    strconv.FormatInt(msg.Offset, 10),
			HeaderError:           err.Error(),
		},
	}
	if perr := c.deadLetter.Publish(ctx, dl); perr != nil {
		log.Error("dead-lettering message failed, dropping it", "publish_error", perr)
		return err
	}
	log.Warn("message dead-lettered")
	return err
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return v, fmt.Errorf("decoding kafka message: %w", err)
	}
	return v, nil
}
