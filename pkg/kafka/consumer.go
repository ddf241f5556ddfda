// Package kafka carries corpus snapshot notifications and query analytics
// over segmentio/kafka-go. Values are JSON; request ids ride in headers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/resilience"
)

// MessageHandler processes one message. ctx carries the publisher's request
// id when it sent one.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

const (
	minFetchBackoff = 100 * time.Millisecond
	maxFetchBackoff = 5 * time.Second
)

// Consumer feeds one topic to a MessageHandler. A message that still fails
// after retries is logged and committed so the partition keeps moving.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

// NewConsumer joins cfg.ConsumerGroup on topic. Instances that must all see
// every message, such as snapshot reloads, need distinct groups.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", cfg.ConsumerGroup),
		handler: handler,
		retry:   resilience.RetryConfig{MaxAttempts: 3},
	}
}

// Start consumes until ctx is cancelled. Fetch errors back off up to five
// seconds instead of spinning against an unreachable broker.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.logger.Info("consumer stopped")

	wait := minFetchBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("fetch failed", "error", err, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			wait = min(wait*2, maxFetchBackoff)
			continue
		}
		wait = minFetchBackoff
		if err := c.handle(ctx, msg); err != nil {
			return nil
		}
	}
}

// handle runs the handler with retries and commits the message. It only
// returns an error when ctx is done.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	msgCtx := messageContext(ctx, msg)
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
	log.DebugContext(msgCtx, "message received", "key", string(msg.Key), "event_type", header(msg, HeaderEventType), "bytes", len(msg.Value))

	err := resilience.Retry(msgCtx, "kafka.handle", c.retry, func() error {
		return c.handler(msgCtx, msg.Key, msg.Value)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.ErrorContext(msgCtx, "dropping message", "error", err)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("commit failed", "error", err)
	}
	return nil
}

// messageContext restores the publisher's request id.
func messageContext(ctx context.Context, msg kafka.Message) context.Context {
	if id := header(msg, HeaderRequestID); id != "" {
		return logger.WithRequestID(ctx, id)
	}
	return ctx
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
