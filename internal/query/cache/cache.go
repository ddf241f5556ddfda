// Package cache keeps evaluated query results in Redis. Concurrent misses
// for the same query are collapsed into one evaluation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/ast"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/engine"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/result"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/redis"
)

const keyPrefix = "cq:result:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type entry struct {
	Rows     []result.Row `json:"rows"`
	CachedAt time.Time    `json:"cached_at"`
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache over store. m may be nil.
func New(store Store, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     cfg.CacheTTL,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key derives the cache key of a plan evaluated under opts. Plans that
// format identically share a key, so whitespace and redundant parentheses
// in the query text do not matter.
func Key(plan *ast.QueryPlan, opts engine.Options) string {
	norm := opts
	norm.DocumentIDs = sortedCopy(opts.DocumentIDs)
	norm.CollectionIDs = sortedCopy(opts.CollectionIDs)
	optData, _ := json.Marshal(norm)

	h := sha256.New()
	h.Write([]byte(ast.Format(plan)))
	h.Write([]byte{0})
	h.Write(optData)
	return keyPrefix + hex.EncodeToString(h.Sum(nil)[:16])
}

func sortedCopy(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := slices.Clone(s)
	slices.Sort(out)
	return slices.Compact(out)
}

// Get returns the cached result for key. Store failures count as misses.
func (c *QueryCache) Get(ctx context.Context, key string) (*result.QueryResult, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.recordMiss()
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Error("cache entry corrupt", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	c.logger.Debug("cache hit", "key", key, "rows", len(e.Rows))
	return result.New(e.Rows...), true
}

// Set stores res under key. Failures are logged and otherwise ignored.
func (c *QueryCache) Set(ctx context.Context, key string, res *result.QueryResult) {
	data, err := json.Marshal(entry{Rows: res.Rows(), CachedAt: time.Now().UTC()})
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for plan and opts, or runs compute
// once for all concurrent callers and caches what it returns. Errors are
// never cached. The boolean reports a cache hit.
func (c *QueryCache) GetOrCompute(ctx context.Context, plan *ast.QueryPlan, opts engine.Options,
	compute func(ctx context.Context) (*result.QueryResult, error)) (*result.QueryResult, bool, error) {
	key := Key(plan, opts)
	if res, ok := c.Get(ctx, key); ok {
		return res, true, nil
	}
	v, err, shared := c.group.Do(key, func() (any, error) {
		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(context.WithoutCancel(ctx), key, res)
		return res, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("computing %s: %w", key, err)
	}
	if shared {
		c.logger.Debug("shared in-flight evaluation", "key", key)
	}
	return v.(*result.QueryResult), false, nil
}

// Invalidate drops every cached result and returns how many were removed.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	n, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return n, fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "keys_removed", n)
	return n, nil
}

// Stats returns hit and miss counts since start.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) recordHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
