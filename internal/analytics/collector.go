package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/kafka"
)

// Publisher ships a batch of events. *kafka.Producer implements it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

type fanout []Publisher

// Fanout publishes every batch to each of pubs, e.g. the local aggregator
// and Kafka. All publishers are tried; their errors are joined.
func Fanout(pubs ...Publisher) Publisher {
	return fanout(pubs)
}

func (f fanout) PublishBatch(ctx context.Context, events []kafka.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Collector buffers events and publishes them in batches, when a batch is
// full or the flush interval elapses. Track never blocks; events are dropped
// when the buffer is full.
type Collector struct {
	publisher     Publisher
	eventCh       chan QueryEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	closeOnce     sync.Once
}

func NewCollector(publisher Publisher, cfg config.AnalyticsConfig) *Collector {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		eventCh:       make(chan QueryEvent, bufferSize),
		batchSize:     batchSize,
		flushInterval: interval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the publish loop. It ends when ctx is cancelled or Close
// is called, publishing what is still buffered.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		batch := make([]kafka.Event, 0, c.batchSize)
		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				return
			}
			if err := c.publisher.PublishBatch(ctx, batch); err != nil {
				c.logger.Error("analytics batch dropped", "events", len(batch), "error", err)
			} else {
				c.logger.Debug("analytics batch published", "events", len(batch))
			}
			batch = batch[:0]
		}
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.finalFlush(flush)
					return
				}
				batch = append(batch, event.message())
				if len(batch) >= c.batchSize {
					flush(ctx)
				}
			case <-ticker.C:
				flush(ctx)
			case <-ctx.Done():
				c.drain(func(e QueryEvent) { batch = append(batch, e.message()) })
				c.finalFlush(flush)
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

func (c *Collector) finalFlush(flush func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	flush(ctx)
}

func (c *Collector) drain(add func(QueryEvent)) {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			add(event)
		default:
			return
		}
	}
}

func (c *Collector) Track(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Close stops accepting events and waits for the last batch. Track must not
// be called afterwards.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.eventCh) })
	<-c.done
}

// message keys events by type so each type lands on one partition.
func (e QueryEvent) message() kafka.Event {
	return kafka.Event{Key: string(e.Type), Type: string(e.Type), Value: e}
}
