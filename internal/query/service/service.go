// Package service is the transport-independent query API. The HTTP handler
// and the RPC server both call it, so validation, caching, result shaping
// and analytics behave the same on either path.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/ast"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/cache"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/engine"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/jobs"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/parser"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/result"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

// Engine prepares and evaluates queries.
type Engine interface {
	Prepare(text string) (*ast.QueryPlan, error)
	Execute(ctx context.Context, plan *ast.QueryPlan, opts engine.Options) (*result.QueryResult, error)
	TermFrequency(ctx context.Context, literal string, opts engine.Options) (map[string]int, error)
}

// Tracker receives an event for every finished query.
type Tracker interface {
	Track(event analytics.QueryEvent)
}

// JobRunner runs queries in the background.
type JobRunner interface {
	Submit(ctx context.Context, name, text string, opts engine.Options, cb jobs.Callbacks) (*jobs.Job, error)
	Get(id string) (*jobs.Job, error)
	Cancel(id string) error
	List() []jobs.Info
}

type Service struct {
	engine   Engine
	cache    *cache.QueryCache
	runner   JobRunner
	tracker  Tracker
	metrics  *metrics.Metrics
	validate *validator.Validate
	maxRows  int
	logger   *slog.Logger
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithCache serves repeated queries from c.
func WithCache(c *cache.QueryCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithJobs enables background jobs.
func WithJobs(r JobRunner) Option {
	return func(s *Service) { s.runner = r }
}

// WithTracker reports finished queries to t.
func WithTracker(t Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithMetrics records cache-served queries in m. Evaluated queries are
// recorded by the engine.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(e Engine, cfg config.QueryConfig, opts ...Option) *Service {
	s := &Service{
		engine:   e,
		validate: newValidator(),
		maxRows:  cfg.MaxRows,
		logger:   slog.Default().With("component", "query-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheEnabled reports whether results are cached.
func (s *Service) CacheEnabled() bool {
	return s.cache != nil
}

// Cache returns the result cache, or nil.
func (s *Service) Cache() *cache.QueryCache {
	return s.cache
}

// Options validates wire options and converts them for the engine.
func (s *Service) Options(o proto.QueryOptions) (engine.Options, error) {
	opts := engine.Options{
		DocumentIDs:          o.DocumentIDs,
		CollectionIDs:        o.CollectionIDs,
		Locale:               o.Locale,
		UnseparableSequences: o.UnseparableSequences,
		SeparatorChars:       o.SeparatorChars,
	}
	if err := check(s.validate, opts); err != nil {
		return engine.Options{}, err
	}
	return opts, nil
}

// Run evaluates a query and shapes its result. Parse failures are returned
// as *parser.QueryError.
func (s *Service) Run(ctx context.Context, req proto.QueryRequest) (*proto.QueryResponse, error) {
	start := time.Now()
	if err := check(s.validate, req); err != nil {
		return nil, err
	}
	opts, err := s.Options(req.Options)
	if err != nil {
		return nil, err
	}

	plan, err := s.engine.Prepare(req.Query)
	if err != nil {
		s.recordServed(nil, err, false, 0)
		s.track(ctx, analytics.EventQuery, req.Query, nil, nil, err, false, time.Since(start), "")
		return nil, err
	}

	var (
		res *result.QueryResult
		hit bool
	)
	if s.cache != nil {
		res, hit, err = s.cache.GetOrCompute(ctx, plan, opts, func(ctx context.Context) (*result.QueryResult, error) {
			return s.engine.Execute(ctx, plan, opts)
		})
	} else {
		res, err = s.engine.Execute(ctx, plan, opts)
	}
	elapsed := time.Since(start)
	if hit {
		s.recordServed(res, nil, true, elapsed)
	}
	s.track(ctx, analytics.EventQuery, req.Query, plan, res, err, hit, elapsed, "")
	if err != nil {
		return nil, err
	}

	resp, err := s.shape(req.Query, res, req.GroupBy, req.Limit)
	if err != nil {
		return nil, err
	}
	resp.CacheHit = hit
	resp.LatencyMs = elapsed.Milliseconds()
	logger.FromContext(ctx).Debug("query served",
		"query", req.Query,
		"total", resp.Total,
		"returned", len(resp.Rows),
		"cache_hit", hit,
		"latency_ms", resp.LatencyMs,
	)
	return resp, nil
}

// Validate parses a query without evaluating it. An unparsable query is a
// successful call with Valid unset.
func (s *Service) Validate(_ context.Context, req proto.ValidateRequest) (*proto.ValidateResponse, error) {
	if err := check(s.validate, req); err != nil {
		return nil, err
	}
	plan, err := s.engine.Prepare(req.Query)
	var qe *parser.QueryError
	if errors.As(err, &qe) {
		return &proto.ValidateResponse{CharacterIndex: qe.CharacterIndex, Message: qe.Describe()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &proto.ValidateResponse{Valid: true, Canonical: ast.Format(plan)}, nil
}

// Frequency counts a literal per document.
func (s *Service) Frequency(ctx context.Context, req proto.FrequencyRequest) (*proto.FrequencyResponse, error) {
	if err := check(s.validate, req); err != nil {
		return nil, err
	}
	opts, err := s.Options(req.Options)
	if err != nil {
		return nil, err
	}
	freq, err := s.engine.TermFrequency(ctx, req.Term, opts)
	if err != nil {
		return nil, err
	}
	return &proto.FrequencyResponse{Term: req.Term, Frequencies: freq}, nil
}

// shape applies grouping and the row limit. A zero limit, or one above the
// configured maximum, means the maximum.
func (s *Service) shape(query string, res *result.QueryResult, groupBy string, limit int) (*proto.QueryResponse, error) {
	if s.maxRows > 0 && (limit <= 0 || limit > s.maxRows) {
		limit = s.maxRows
	}
	rows, truncated := res.Limit(limit)
	resp := &proto.QueryResponse{
		Query:     query,
		Total:     res.Len(),
		Truncated: truncated,
		Rows:      ToProtoRows(rows),
	}
	if groupBy != "" {
		g, err := result.ParseGrouping(groupBy)
		if err != nil {
			return nil, &ValidationError{Fields: map[string]string{"group_by": err.Error()}}
		}
		resp.Groups = res.GroupBy(g).Counts()
	}
	return resp, nil
}

func (s *Service) recordServed(res *result.QueryResult, err error, hit bool, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueriesTotal.WithLabelValues(engine.Outcome(res, err)).Inc()
	if hit {
		s.metrics.QueryLatency.WithLabelValues("hit").Observe(elapsed.Seconds())
		s.metrics.QueryRowsCount.Observe(float64(res.Len()))
	}
}

func (s *Service) track(ctx context.Context, typ analytics.EventType, query string, plan *ast.QueryPlan,
	res *result.QueryResult, err error, hit bool, elapsed time.Duration, jobID string) {
	if s.tracker == nil {
		return
	}
	event := analytics.QueryEvent{
		Type:      typ,
		Query:     query,
		Outcome:   engine.Outcome(res, err),
		LatencyMs: elapsed.Milliseconds(),
		CacheHit:  hit,
		Timestamp: time.Now().UTC(),
		RequestID: logger.RequestID(ctx),
		JobID:     jobID,
	}
	if plan != nil {
		event.Canonical = ast.Format(plan)
		event.Kinds = ast.Kinds(plan)
	}
	if res != nil {
		event.Rows = res.Len()
	}
	s.tracker.Track(event)
}

// ToProtoRows converts result rows to their wire form.
func ToProtoRows(rows []result.Row) []proto.Row {
	out := make([]proto.Row, len(rows))
	for i, r := range rows {
		out[i] = proto.Row{
			DocumentID: r.DocumentID,
			Range:      proto.Range{Start: r.Range.Start, End: r.Range.End},
			Phrase:     r.Phrase,
			FirstToken: r.FirstToken,
			LastToken:  r.LastToken,
		}
		if r.Tag != nil {
			out[i].Tag = &proto.Tag{
				CollectionID:         r.Tag.CollectionID,
				InstanceID:           r.Tag.InstanceID,
				DefinitionID:         r.Tag.DefinitionID,
				DefinitionPath:       r.Tag.DefinitionPath,
				PropertyDefinitionID: r.Tag.PropertyDefinitionID,
				PropertyName:         r.Tag.PropertyName,
				PropertyValue:        r.Tag.PropertyValue,
			}
		}
	}
	return out
}
