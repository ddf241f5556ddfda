package analytics

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/kafka"
)

// latencyWindow bounds the samples kept for percentiles.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalQueries     int64            `json:"total_queries"`
	TotalJobs        int64            `json:"total_jobs"`
	Outcomes         map[string]int64 `json:"outcomes"`
	CacheHits        int64            `json:"cache_hits"`
	CacheMisses      int64            `json:"cache_misses"`
	EmptyResultCount int64            `json:"empty_result_count"`
	AvgLatencyMs     float64          `json:"avg_latency_ms"`
	P50LatencyMs     int64            `json:"p50_latency_ms"`
	P95LatencyMs     int64            `json:"p95_latency_ms"`
	P99LatencyMs     int64            `json:"p99_latency_ms"`
	TopQueries       []QueryCount     `json:"top_queries"`
	EmptyQueries     []QueryCount     `json:"empty_queries"`
	QueryKinds       map[string]int64 `json:"query_kinds"`
	QueriesPerMinute float64          `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

type Aggregator struct {
	mu           sync.RWMutex
	totalQueries int64
	totalJobs    int64
	cacheHits    int64
	cacheMisses  int64
	emptyResults int64
	outcomes     map[string]int64
	kinds        map[string]int64
	latencies    []int64
	next         int
	queryCounts  map[string]int64
	emptyQueries map[string]int64
	startTime    time.Time
	logger       *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		outcomes:     make(map[string]int64),
		kinds:        make(map[string]int64),
		latencies:    make([]int64, 0, 1024),
		queryCounts:  make(map[string]int64),
		emptyQueries: make(map[string]int64),
		startTime:    time.Now(),
		logger:       slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent is a kafka.MessageHandler feeding agg. Undecodable messages
// are logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[QueryEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "key", string(key), "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

// PublishBatch records events directly, standing in for Kafka when the
// service runs without a broker.
func (a *Aggregator) PublishBatch(_ context.Context, events []kafka.Event) error {
	for _, e := range events {
		if qe, ok := e.Value.(QueryEvent); ok {
			a.Record(qe)
		}
	}
	return nil
}

func (a *Aggregator) Record(event QueryEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Type == EventJob {
		a.totalJobs++
	} else {
		a.totalQueries++
	}
	a.outcomes[event.Outcome]++
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	for _, k := range event.Kinds {
		a.kinds[k]++
	}

	key := event.Canonical
	if key == "" {
		key = event.Query
	}
	a.queryCounts[key]++
	if event.Outcome == "empty" {
		a.emptyResults++
		a.emptyQueries[key]++
	}

	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}
}

// Seed restores the counters of a persisted snapshot so totals survive a
// restart. Latency samples are not persisted and start empty; query counts
// are restored for the queries the snapshot listed.
func (a *Aggregator) Seed(stats AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalQueries += stats.TotalQueries
	a.totalJobs += stats.TotalJobs
	a.cacheHits += stats.CacheHits
	a.cacheMisses += stats.CacheMisses
	a.emptyResults += stats.EmptyResultCount
	for k, v := range stats.Outcomes {
		a.outcomes[k] += v
	}
	for k, v := range stats.QueryKinds {
		a.kinds[k] += v
	}
	for _, q := range stats.TopQueries {
		a.queryCounts[q.Query] += q.Count
	}
	for _, q := range stats.EmptyQueries {
		a.emptyQueries[q.Query] += q.Count
	}
}

// defaultTop is the length of the top and empty query lists.
const defaultTop = 10

func (a *Aggregator) Stats() AggregatedStats {
	return a.StatsTop(defaultTop)
}

// StatsTop is Stats with top and empty query lists of length n.
func (a *Aggregator) StatsTop(n int) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalQueries:     a.totalQueries,
		TotalJobs:        a.totalJobs,
		Outcomes:         cloneCounts(a.outcomes),
		CacheHits:        a.cacheHits,
		CacheMisses:      a.cacheMisses,
		EmptyResultCount: a.emptyResults,
		QueryKinds:       cloneCounts(a.kinds),
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, n)
	stats.EmptyQueries = topN(a.emptyQueries, n)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries+stats.TotalJobs) / elapsed
	}
	return stats
}

func cloneCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	slices.SortFunc(result, func(a, b QueryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Query, b.Query)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
