package service

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/index"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/cache"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/engine"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/jobs"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/parser"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

type recorder struct {
	mu     sync.Mutex
	events []analytics.QueryEvent
}

func (r *recorder) Track(e analytics.QueryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []analytics.QueryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]analytics.QueryEvent(nil), r.events...)
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) FlushByPattern(context.Context, string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.data))
	s.data = make(map[string][]byte)
	return n, nil
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	idx := index.NewMemoryIndex(corpus.Tokenization{})
	require.NoError(t, idx.AddDocument(corpus.Document{ID: "d1", Text: "the rose is a rose"}))
	require.NoError(t, idx.AddDocument(corpus.Document{ID: "d2", Text: "e.g. a rose garden"}))
	require.NoError(t, idx.AddTagInstance(corpus.TagInstance{
		ID: "t1", CollectionID: "c1", DocumentID: "d1",
		DefinitionName: "Flower", DefinitionPath: "/Flower",
		Ranges: []corpus.Range{{Start: 14, End: 18}},
	}))
	e, err := engine.New(idx, config.Default().Query, config.TracingConfig{}, nil)
	require.NoError(t, err)
	return e
}

func newService(t *testing.T, opts ...Option) (*Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := newEngine(t)
	runner, err := jobs.NewRunner(e, config.Default().Query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runner.Close(time.Second) })

	all := append([]Option{WithJobs(runner), WithTracker(rec)}, opts...)
	return New(e, config.Default().Query, all...), rec
}

func TestRunShapesResult(t *testing.T) {
	svc, rec := newService(t)
	resp, err := svc.Run(context.Background(), proto.QueryRequest{Query: `"rose"`, GroupBy: "document", Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Total)
	assert.True(t, resp.Truncated)
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, "d1", resp.Rows[0].DocumentID)
	assert.Equal(t, proto.Range{Start: 4, End: 8}, resp.Rows[0].Range)
	assert.Equal(t, map[string]int{"d1": 2, "d2": 1}, resp.Groups)
	assert.False(t, resp.CacheHit)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.EventQuery, events[0].Type)
	assert.Equal(t, "ok", events[0].Outcome)
	assert.Equal(t, 3, events[0].Rows)
	assert.Equal(t, []string{"phrase"}, events[0].Kinds)
}

func TestRunCarriesTagReference(t *testing.T) {
	svc, _ := newService(t)
	resp, err := svc.Run(context.Background(), proto.QueryRequest{Query: `tag="Flower"`})
	require.NoError(t, err)
	require.Len(t, resp.Rows, 1)
	require.NotNil(t, resp.Rows[0].Tag)
	assert.Equal(t, "t1", resp.Rows[0].Tag.InstanceID)
	assert.Equal(t, "/Flower", resp.Rows[0].Tag.DefinitionPath)
}

func TestRunQueryError(t *testing.T) {
	svc, rec := newService(t)
	_, err := svc.Run(context.Background(), proto.QueryRequest{Query: `tag=`})
	var qe *parser.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 4, qe.CharacterIndex)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, "invalid", events[0].Outcome)
	assert.Empty(t, events[0].Kinds)
}

func TestRunValidatesRequest(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Run(context.Background(), proto.QueryRequest{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "query")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.Run(context.Background(), proto.QueryRequest{Query: `"rose"`, GroupBy: "colour"})
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "group_by")

	_, err = svc.Run(context.Background(), proto.QueryRequest{Query: `"rose"`, Options: proto.QueryOptions{DocumentIDs: []string{""}}})
	require.ErrorAs(t, err, &ve)
}

func TestRunServesRepeatsFromCache(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := cache.New(&memStore{data: make(map[string][]byte)}, config.RedisConfig{CacheTTL: time.Minute}, m)
	svc, rec := newService(t, WithCache(c), WithMetrics(m))

	first, err := svc.Run(context.Background(), proto.QueryRequest{Query: `"rose"`})
	require.NoError(t, err)
	second, err := svc.Run(context.Background(), proto.QueryRequest{Query: ` ( "rose" ) `})
	require.NoError(t, err)

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Rows, second.Rows)
	events := rec.all()
	require.Len(t, events, 2)
	assert.True(t, events[1].CacheHit)
	assert.Equal(t, `"rose"`, events[1].Canonical)
}

func TestValidate(t *testing.T) {
	svc, _ := newService(t)

	resp, err := svc.Validate(context.Background(), proto.ValidateRequest{Query: `("rose")`})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, `"rose"`, resp.Canonical)

	resp, err = svc.Validate(context.Background(), proto.ValidateRequest{Query: `tag=`})
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, 4, resp.CharacterIndex)
	assert.NotEmpty(t, resp.Message)
}

func TestFrequency(t *testing.T) {
	svc, _ := newService(t)
	resp, err := svc.Frequency(context.Background(), proto.FrequencyRequest{Term: "rose"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"d1": 2, "d2": 1}, resp.Frequencies)

	resp, err = svc.Frequency(context.Background(), proto.FrequencyRequest{
		Term:    "rose",
		Options: proto.QueryOptions{DocumentIDs: []string{"d2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"d2": 1}, resp.Frequencies)
}

func TestJobLifecycle(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()

	status, err := svc.SubmitJob(ctx, proto.JobRequest{Name: "roses", Query: `"rose"`})
	require.NoError(t, err)
	assert.Equal(t, "roses", status.Name)

	job, err := svc.runner.Get(status.ID)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = job.Wait(waitCtx)
	require.NoError(t, err)

	got, err := svc.Job(ctx, proto.JobRef{ID: status.ID, IncludeRows: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StatusSucceeded), got.Status)
	assert.Equal(t, 3, got.Rows)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.Total)
	assert.Len(t, got.Result.Rows, 1)

	list, err := svc.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Result)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.EventJob, events[0].Type)
	assert.Equal(t, status.ID, events[0].JobID)
}

func TestJobErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SubmitJob(ctx, proto.JobRequest{Query: `"rose`})
	var qe *parser.QueryError
	assert.ErrorAs(t, err, &qe)

	_, err = svc.Job(ctx, proto.JobRef{ID: "not-a-uuid"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.Job(ctx, proto.JobRef{ID: uuid.NewString()})
	assert.ErrorIs(t, err, apperrors.ErrJobNotFound)

	disabled := New(newEngine(t), config.Default().Query)
	_, err = disabled.SubmitJob(ctx, proto.JobRequest{Query: `"rose"`})
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
}

func TestRPC(t *testing.T) {
	svc, _ := newService(t)
	srv := grpc.NewServer(grpc.WithErrorMapper(MapError))
	Register(srv, svc)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.ServeListener(ln) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Run(context.Background(), proto.QueryRequest{Query: `"rose"`, Options: proto.QueryOptions{DocumentIDs: []string{"d2"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)

	_, err = c.Run(context.Background(), proto.QueryRequest{Query: `"rose" |`})
	var rpcErr *grpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 400, rpcErr.Code)
	var detail QueryErrorDetail
	require.NoError(t, json.Unmarshal(rpcErr.Detail, &detail))
	assert.Equal(t, 8, detail.CharacterIndex)

	v, err := c.Validate(context.Background(), proto.ValidateRequest{Query: `"rose"`})
	require.NoError(t, err)
	assert.True(t, v.Valid)

	f, err := c.Frequency(context.Background(), proto.FrequencyRequest{Term: "rose"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Frequencies["d1"])
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "query failed", PublicMessage(assert.AnError))
	assert.Equal(t, "query timed out", PublicMessage(apperrors.Cancellation(context.DeadlineExceeded)))
	e := MapError(&ValidationError{Fields: map[string]string{"query": "is required"}})
	assert.Equal(t, 400, e.Code)
	assert.Equal(t, "query: is required", e.Message)
}
