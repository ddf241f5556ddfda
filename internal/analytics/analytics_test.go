package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/kafka"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
}

func (p *recordingPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (p *recordingPublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestCollectorBatchesAndFlushesOnClose(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, config.AnalyticsConfig{BatchSize: 2, FlushInterval: time.Hour})
	c.Start(context.Background())

	for _, q := range []string{`"a"`, `"b"`, `"c"`} {
		c.Track(QueryEvent{Type: EventQuery, Query: q, Outcome: "ok"})
	}
	require.Eventually(t, func() bool { return pub.total() >= 2 }, time.Second, 5*time.Millisecond)
	c.Close()
	assert.Equal(t, 3, pub.total())
	assert.Len(t, pub.batches[0], 2)
}

func TestCollectorFlushesOnInterval(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, config.AnalyticsConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	c.Track(QueryEvent{Type: EventQuery, Query: `"a"`})
	require.Eventually(t, func() bool { return pub.total() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	c.Close()
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	events := []QueryEvent{
		{Type: EventQuery, Query: `"rose"`, Canonical: `"rose"`, Kinds: []string{"phrase"}, Outcome: "ok", Rows: 2, LatencyMs: 10},
		{Type: EventQuery, Query: ` "rose" `, Canonical: `"rose"`, Kinds: []string{"phrase"}, Outcome: "ok", Rows: 2, LatencyMs: 20, CacheHit: true},
		{Type: EventQuery, Query: `"tulip"`, Canonical: `"tulip"`, Kinds: []string{"phrase"}, Outcome: "empty", LatencyMs: 30},
		{Type: EventJob, Query: `("a", "b")`, Kinds: []string{"colloc", "phrase", "phrase"}, Outcome: "ok", LatencyMs: 40},
	}
	handler := HandleEvent(agg)
	for _, e := range events {
		data, err := json.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, handler(context.Background(), []byte(e.Type), data))
	}
	require.NoError(t, handler(context.Background(), nil, []byte("not json")))

	stats := agg.Stats()
	assert.Equal(t, int64(3), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.TotalJobs)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(3), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.EmptyResultCount)
	assert.Equal(t, map[string]int64{"ok": 3, "empty": 1}, stats.Outcomes)
	assert.Equal(t, map[string]int64{"phrase": 5, "colloc": 1}, stats.QueryKinds)
	assert.Equal(t, QueryCount{Query: `"rose"`, Count: 2}, stats.TopQueries[0])
	assert.Equal(t, []QueryCount{{Query: `"tulip"`, Count: 1}}, stats.EmptyQueries)
	assert.Equal(t, 25.0, stats.AvgLatencyMs)
	assert.Equal(t, int64(40), stats.P99LatencyMs)
}

func TestAggregatorAsLocalPublisher(t *testing.T) {
	agg := NewAggregator()
	c := NewCollector(agg, config.AnalyticsConfig{BatchSize: 1})
	c.Start(context.Background())
	c.Track(QueryEvent{Type: EventQuery, Query: `"rose"`, Outcome: "ok"})
	c.Close()
	assert.Equal(t, int64(1), agg.Stats().TotalQueries)

	rec := httptest.NewRecorder()
	NewHandler(agg).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var stats AggregatedStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.TotalQueries)
}

func TestHandlerTopParameter(t *testing.T) {
	agg := NewAggregator()
	for _, q := range []string{`"rose"`, `"rose"`, `"tulip"`, `tag="/Flower"`} {
		agg.Record(QueryEvent{Type: EventQuery, Query: q, Outcome: "ok", Rows: 1})
	}
	h := NewHandler(agg)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics?top=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats AggregatedStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, []QueryCount{{Query: `"rose"`, Count: 2}}, stats.TopQueries)

	for _, bad := range []string{"0", "101", "many"} {
		rec = httptest.NewRecorder()
		h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics?top="+bad, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
		assert.JSONEq(t, `{"error":"top must be between 1 and 100"}`, rec.Body.String())
	}
}

type failingPublisher struct{}

func (failingPublisher) PublishBatch(context.Context, []kafka.Event) error {
	return errors.New("broker down")
}

func TestFanoutPublishesToAll(t *testing.T) {
	agg := NewAggregator()
	rec := &recordingPublisher{}
	pub := Fanout(agg, failingPublisher{}, rec)

	err := pub.PublishBatch(context.Background(), []kafka.Event{{Value: QueryEvent{Type: EventQuery, Outcome: "ok"}}})
	assert.EqualError(t, err, "broker down")
	assert.Equal(t, int64(1), agg.Stats().TotalQueries)
	assert.Equal(t, 1, rec.total())
}

func TestAggregatorSeed(t *testing.T) {
	agg := NewAggregator()
	agg.Record(QueryEvent{Type: EventQuery, Query: `"rose"`, Outcome: "ok", LatencyMs: 5})

	agg.Seed(AggregatedStats{
		TotalQueries:     10,
		TotalJobs:        2,
		Outcomes:         map[string]int64{"ok": 7, "empty": 3},
		EmptyResultCount: 3,
		QueryKinds:       map[string]int64{"phrase": 10},
		TopQueries:       []QueryCount{{Query: `"rose"`, Count: 4}},
		EmptyQueries:     []QueryCount{{Query: `"tulip"`, Count: 3}},
	})

	stats := agg.Stats()
	assert.Equal(t, int64(11), stats.TotalQueries)
	assert.Equal(t, int64(2), stats.TotalJobs)
	assert.Equal(t, int64(8), stats.Outcomes["ok"])
	assert.Equal(t, int64(3), stats.EmptyResultCount)
	assert.Equal(t, QueryCount{Query: `"rose"`, Count: 5}, stats.TopQueries[0])
	assert.Equal(t, []QueryCount{{Query: `"tulip"`, Count: 3}}, stats.EmptyQueries)
	assert.Equal(t, 5.0, stats.AvgLatencyMs)
}
