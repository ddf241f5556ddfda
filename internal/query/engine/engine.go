// Package engine is the entry point for running corpus queries: it parses,
// builds and evaluates query text within the caller's options, and records
// logs, metrics and a span tree for every run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/ast"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/executor"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/parser"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/result"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/tracing"
)

// Options restrict a query run. Empty id lists mean the whole corpus. The
// tokenization fields apply to the literals of phrase queries; left empty,
// the index's own tokenization is used.
type Options struct {
	DocumentIDs          []string `json:"document_ids,omitempty" validate:"omitempty,dive,required"`
	CollectionIDs        []string `json:"collection_ids,omitempty" validate:"omitempty,dive,required"`
	Locale               string   `json:"locale,omitempty" validate:"omitempty,bcp47_language_tag"`
	UnseparableSequences []string `json:"unseparable_sequences,omitempty" validate:"omitempty,dive,required"`
	SeparatorChars       string   `json:"separator_chars,omitempty"`
}

// Scope converts the options into an evaluation scope.
func (o Options) Scope() corpus.Scope {
	return corpus.Scope{
		DocumentIDs:   o.DocumentIDs,
		CollectionIDs: o.CollectionIDs,
		Locale:        o.Locale,
		Tokenization: corpus.Tokenization{
			UnseparableSequences: o.UnseparableSequences,
			SeparatorChars:       o.SeparatorChars,
		},
	}
}

type Engine struct {
	index    executor.Index
	executor *executor.Executor
	cfg      config.QueryConfig
	metrics  *metrics.Metrics
	sampler  tracing.Sampler
	logger   *slog.Logger
}

// New builds an Engine over idx. m may be nil.
func New(idx executor.Index, cfg config.QueryConfig, tracingCfg config.TracingConfig, m *metrics.Metrics) (*Engine, error) {
	similarity, err := executor.SimilarityByName(cfg.Similarity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	execCfg := executor.Config{
		DefaultCollocationWindow: cfg.DefaultCollocationWindow,
		Parallel:                 cfg.Parallel,
		Similarity:               similarity,
		RegexTimeout:             cfg.RegexTimeout,
	}
	if m != nil {
		execCfg.Observer = func(kind string, _ int, elapsed time.Duration) {
			m.NodesEvaluatedTotal.WithLabelValues(kind).Inc()
			m.NodeLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
		}
	}
	return &Engine{
		index:    idx,
		executor: executor.New(idx, execCfg),
		cfg:      cfg,
		metrics:  m,
		sampler:  tracing.NewSampler(tracingCfg.Enabled, tracingCfg.SampleRate),
		logger:   slog.Default().With("component", "query-engine"),
	}, nil
}

// Prepare parses and builds query text.
func (e *Engine) Prepare(text string) (*ast.QueryPlan, error) {
	if e.cfg.MaxQueryLength > 0 && utf8.RuneCountInString(text) > e.cfg.MaxQueryLength {
		return nil, parser.NewQueryError(text, e.cfg.MaxQueryLength,
			fmt.Sprintf("query exceeds %d characters", e.cfg.MaxQueryLength))
	}
	return ast.Parse(text)
}

// RunQuery parses, builds, evaluates and refines query text. It returns
// either the complete result or an error; parse failures are
// *parser.QueryError.
func (e *Engine) RunQuery(ctx context.Context, text string, opts Options) (*result.QueryResult, error) {
	ctx, span := e.startTrace(ctx)
	span.SetAttr("query", text)
	defer e.finishTrace(span)

	var plan *ast.QueryPlan
	err := tracing.Run(ctx, "parse", func(context.Context) error {
		var err error
		plan, err = e.Prepare(text)
		return err
	})
	if err != nil {
		span.Fail(err)
		e.record(ctx, text, nil, err, 0)
		return nil, err
	}
	return e.execute(ctx, span, plan, opts)
}

// Execute evaluates an already prepared plan.
func (e *Engine) Execute(ctx context.Context, plan *ast.QueryPlan, opts Options) (*result.QueryResult, error) {
	ctx, span := e.startTrace(ctx)
	span.SetAttr("query", plan.RawQuery)
	defer e.finishTrace(span)
	return e.execute(ctx, span, plan, opts)
}

func (e *Engine) execute(ctx context.Context, span *tracing.Span, plan *ast.QueryPlan, opts Options) (*result.QueryResult, error) {
	start := time.Now()
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	var res *result.QueryResult
	err := tracing.Run(ctx, "evaluate", func(ctx context.Context) error {
		var err error
		res, err = e.executor.Execute(ctx, plan, opts.Scope())
		if err == nil {
			tracing.SpanFromContext(ctx).SetAttr("rows", res.Len())
		}
		return err
	})
	span.Fail(err)
	e.record(ctx, plan.RawQuery, res, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TermFrequency returns the count of a literal per document within opts.
func (e *Engine) TermFrequency(ctx context.Context, literal string, opts Options) (map[string]int, error) {
	freq, err := e.index.TermFrequency(ctx, opts.Scope(), literal)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Cancellation(ctx.Err())
		}
		return nil, fmt.Errorf("%w: term frequency of %q: %w", apperrors.ErrIndexAccess, literal, err)
	}
	return freq, nil
}

func (e *Engine) startTrace(ctx context.Context) (context.Context, *tracing.Span) {
	if parent := tracing.SpanFromContext(ctx); parent != nil {
		return tracing.StartChildSpan(ctx, "query")
	}
	traceID := logger.RequestID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return tracing.StartSpan(ctx, "query", traceID)
}

func (e *Engine) finishTrace(span *tracing.Span) {
	span.End()
	if span.TraceID != "" && e.sampler.Sampled() {
		span.Log(e.logger)
	}
}

// Outcome classifies a query error for metrics and analytics.
func Outcome(res *result.QueryResult, err error) string {
	var qe *parser.QueryError
	switch {
	case err == nil && res != nil && res.IsEmpty():
		return "empty"
	case err == nil:
		return "ok"
	case errors.As(err, &qe), errors.Is(err, apperrors.ErrInvalidQuery):
		return "invalid"
	case errors.Is(err, apperrors.ErrQueryCancelled), errors.Is(err, apperrors.ErrTimeout):
		return "cancelled"
	default:
		return "error"
	}
}

func (e *Engine) record(ctx context.Context, query string, res *result.QueryResult, err error, elapsed time.Duration) {
	outcome := Outcome(res, err)
	log := logger.FromContext(ctx).With("component", "query-engine")
	switch outcome {
	case "invalid":
		log.Debug("query rejected", "query", query, "error", err)
	case "cancelled":
		log.Warn("query cancelled", "query", query, "error", err, "duration_ms", elapsed.Milliseconds())
	case "error":
		log.Error("query failed", "query", query, "error", err, "duration_ms", elapsed.Milliseconds())
	default:
		log.Info("query executed", "query", query, "rows", res.Len(), "duration_ms", elapsed.Milliseconds())
	}

	if e.metrics == nil {
		return
	}
	e.metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	if err == nil {
		e.metrics.QueryLatency.WithLabelValues("miss").Observe(elapsed.Seconds())
		e.metrics.QueryRowsCount.Observe(float64(res.Len()))
	}
}
