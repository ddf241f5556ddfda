// Package reload swaps a new corpus snapshot into the live index and drops
// cached results that were computed against the old one.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/index"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/segment"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

// Invalidator drops cached query results.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

type Reloader struct {
	idx         *index.MemoryIndex
	defaultPath string
	invalidator Invalidator
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu       sync.Mutex
	loadedAt time.Time
	path     string
}

// New creates a Reloader for idx. inv and m may be nil.
func New(idx *index.MemoryIndex, defaultPath string, inv Invalidator, m *metrics.Metrics) *Reloader {
	return &Reloader{
		idx:         idx,
		defaultPath: defaultPath,
		invalidator: inv,
		metrics:     m,
		logger:      slog.Default().With("component", "snapshot-reloader"),
	}
}

// Reload reads the snapshot at path (the configured path when empty) and
// restores it into the index. Queries already running finish against
// whichever state they observe per lookup; the cache is invalidated
// afterwards.
func (r *Reloader) Reload(ctx context.Context, path string) error {
	if path == "" {
		path = r.defaultPath
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	if err := r.restore(path); err != nil {
		r.count("error")
		return err
	}
	r.count("ok")
	r.loadedAt = time.Now()
	r.path = path

	stats := r.idx.Stats()
	if r.metrics != nil {
		r.metrics.CorpusDocuments.Set(float64(stats.Documents))
		r.metrics.CorpusTagInstances.Set(float64(stats.TagInstances))
	}
	log := logger.FromContext(ctx).With("component", "snapshot-reloader")
	log.Info("snapshot loaded",
		"path", path,
		"documents", stats.Documents,
		"terms", stats.Terms,
		"tag_instances", stats.TagInstances,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if r.invalidator != nil {
		if _, err := r.invalidator.Invalidate(ctx); err != nil {
			log.Warn("cache invalidation after reload failed", "error", err)
		}
	}
	return nil
}

func (r *Reloader) restore(path string) error {
	reader, err := segment.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening snapshot %s: %w", path, err)
	}
	defer reader.Close()
	snap, err := reader.Snapshot()
	if err != nil {
		return fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	if err := r.idx.Restore(snap); err != nil {
		return fmt.Errorf("restoring snapshot %s: %w", path, err)
	}
	return nil
}

func (r *Reloader) count(status string) {
	if r.metrics != nil {
		r.metrics.SnapshotLoadsTotal.WithLabelValues(status).Inc()
	}
}

// LoadedAt returns when and from where the current snapshot was loaded.
func (r *Reloader) LoadedAt() (time.Time, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadedAt, r.path
}

// HandleSnapshotUpdated is a kafka.MessageHandler for proto.SnapshotUpdated
// events.
func (r *Reloader) HandleSnapshotUpdated(ctx context.Context, _ []byte, value []byte) error {
	event, err := kafka.DecodeJSON[proto.SnapshotUpdated](value)
	if err != nil {
		return err
	}
	r.logger.Info("snapshot update announced", "path", event.Path, "documents", event.Documents)
	return r.Reload(ctx, event.Path)
}
