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
)

// Header names stamped on every published message.
const (
	HeaderEventType = "event-type"
	HeaderRequestID = "request-id"
)

// Event is one message: Key picks the partition, Value travels as JSON and
// Type, when set, lets consumers skip payloads they do not understand
// without decoding them.
type Event struct {
	Key   string
	Type  string
	Value any
}

// Producer publishes events to one topic.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

// NewProducer creates a Producer for topic. Async writes return before the
// broker acknowledges them and only need one replica; query analytics uses
// that, snapshot notifications wait for every in-sync replica.
func NewProducer(cfg config.KafkaConfig, topic string, async bool) *Producer {
	log := slog.Default().With("component", "kafka-producer", "topic", topic)
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        async,
	}
	if async {
		w.BatchSize = 200
		w.RequiredAcks = kafka.RequireOne
		w.Completion = func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error("async publish failed", "count", len(messages), "error", err)
			}
		}
	}
	return &Producer{writer: w, topic: topic, logger: log}
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch writes events in a single call. Nothing is written if any
// value fails to encode.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	messages, err := encode(ctx, events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.ErrorContext(ctx, "publish failed", "count", len(messages), "error", err)
		return fmt.Errorf("publishing %d events to %s: %w", len(messages), p.topic, err)
	}
	p.logger.DebugContext(ctx, "published", "count", len(messages))
	return nil
}

// encode turns events into messages, carrying the request id from ctx so a
// consumer's logs line up with the request that caused them.
func encode(ctx context.Context, events []Event) ([]kafka.Message, error) {
	requestID := logger.RequestID(ctx)
	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		value, err := json.Marshal(event.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding event %q: %w", event.Key, err)
		}
		var headers []kafka.Header
		if event.Type != "" {
			headers = append(headers, kafka.Header{Key: HeaderEventType, Value: []byte(event.Type)})
		}
		if requestID != "" {
			headers = append(headers, kafka.Header{Key: HeaderRequestID, Value: []byte(requestID)})
		}
		messages[i] = kafka.Message{Key: []byte(event.Key), Value: value, Headers: headers}
	}
	return messages, nil
}

// Close flushes pending async writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}
