// Package executor evaluates query plans against an Index and applies their
// refinements. Evaluation either returns a complete result or an error,
// never a partial result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/ast"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/result"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
)

type Config struct {
	// DefaultCollocationWindow applies to collocations written without a
	// window. Zero selects config.DefaultCollocationWindow.
	DefaultCollocationWindow int
	// Parallel evaluates the operands of binary nodes concurrently.
	Parallel bool
	// Similarity scores simil candidates. Nil selects JaroWinkler.
	Similarity SimilarityFunc
	// RegexTimeout bounds a single regular expression match. Zero means
	// no limit.
	RegexTimeout time.Duration
	// Observer, when set, is called once per evaluated node.
	Observer func(kind string, rows int, elapsed time.Duration)
}

type Executor struct {
	index  Index
	cfg    Config
	logger *slog.Logger
}

func New(idx Index, cfg Config) *Executor {
	if cfg.DefaultCollocationWindow <= 0 {
		cfg.DefaultCollocationWindow = config.DefaultCollocationWindow
	}
	if cfg.Similarity == nil {
		cfg.Similarity = JaroWinkler
	}
	return &Executor{
		index:  idx,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Execute evaluates plan within scope, then applies its refinement. Scope
// tokenization fields left empty fall back to the index's own.
func (e *Executor) Execute(ctx context.Context, plan *ast.QueryPlan, scope corpus.Scope) (*result.QueryResult, error) {
	scope.Tokenization = scope.Tokenization.Or(e.index.Tokenization())
	ev := &evaluation{Executor: e, scope: scope, tok: tokenizer.New(scope.Tokenization)}
	start := time.Now()
	res, err := ev.plan(ctx, plan)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancellation(err)
	}
	e.logger.Debug("query evaluated",
		"query", plan.RawQuery,
		"rows", res.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Evaluate evaluates a single query node without refinement.
func (e *Executor) Evaluate(ctx context.Context, q ast.Query, scope corpus.Scope) (*result.QueryResult, error) {
	return e.Execute(ctx, &ast.QueryPlan{Root: q}, scope)
}

// evaluation carries the per-call state of one Execute.
type evaluation struct {
	*Executor
	scope corpus.Scope
	tok   *tokenizer.Tokenizer
}

func (ev *evaluation) plan(ctx context.Context, p *ast.QueryPlan) (*result.QueryResult, error) {
	base, err := ev.eval(ctx, p.Root)
	if err != nil {
		return nil, err
	}
	if p.Refinement == nil {
		return base, nil
	}
	return ev.refine(ctx, base, p.Refinement)
}

func (ev *evaluation) eval(ctx context.Context, q ast.Query) (*result.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancellation(err)
	}
	start := time.Now()
	var (
		res *result.QueryResult
		err error
	)
	switch q := q.(type) {
	case ast.Phrase:
		res, err = ev.phrase(ctx, q)
	case ast.Tag:
		res, err = ev.tag(ctx, q)
	case ast.Property:
		res, err = ev.property(ctx, q)
	case ast.Reg:
		res, err = ev.reg(ctx, q)
	case ast.Wild:
		res, err = ev.wild(ctx, q)
	case ast.Freq:
		res, err = ev.freq(ctx, q)
	case ast.Simil:
		res, err = ev.simil(ctx, q)
	case ast.Union:
		res, err = ev.binary(ctx, q.Left, q.Right, func(_ context.Context, l, r *result.QueryResult) (*result.QueryResult, error) {
			return l.Union(r), nil
		})
	case ast.Exclusion:
		res, err = ev.binary(ctx, q.Left, q.Right, func(_ context.Context, l, r *result.QueryResult) (*result.QueryResult, error) {
			return exclude(l, r), nil
		})
	case ast.Adjacency:
		res, err = ev.binary(ctx, q.Left, q.Right, ev.adjacency)
	case ast.Colloc:
		window := ev.cfg.DefaultCollocationWindow
		if q.HasWindow {
			window = q.Window
		}
		res, err = ev.binary(ctx, q.Left, q.Right, func(ctx context.Context, l, r *result.QueryResult) (*result.QueryResult, error) {
			return ev.colloc(ctx, l, r, window)
		})
	case ast.Subquery:
		res, err = ev.plan(ctx, q.Plan)
	default:
		return nil, fmt.Errorf("%w: unsupported query node %T", apperrors.ErrInternal, q)
	}
	if err != nil {
		return nil, err
	}
	if ev.cfg.Observer != nil {
		ev.cfg.Observer(q.Kind(), res.Len(), time.Since(start))
	}
	return res, nil
}

type combineFunc func(ctx context.Context, left, right *result.QueryResult) (*result.QueryResult, error)

func (ev *evaluation) binary(ctx context.Context, left, right ast.Query, combine combineFunc) (*result.QueryResult, error) {
	l, r, err := ev.pair(ctx,
		func(ctx context.Context) (*result.QueryResult, error) { return ev.eval(ctx, left) },
		func(ctx context.Context) (*result.QueryResult, error) { return ev.eval(ctx, right) },
	)
	if err != nil {
		return nil, err
	}
	return combine(ctx, l, r)
}

// pair runs two independent evaluations, concurrently when configured. The
// first failure cancels the other side.
func (ev *evaluation) pair(ctx context.Context, left, right func(context.Context) (*result.QueryResult, error)) (*result.QueryResult, *result.QueryResult, error) {
	if !ev.cfg.Parallel {
		l, err := left(ctx)
		if err != nil {
			return nil, nil, err
		}
		r, err := right(ctx)
		if err != nil {
			return nil, nil, err
		}
		return l, r, nil
	}

	var l, r *result.QueryResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		l, err = left(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		r, err = right(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

// fail classifies an error returned by the index.
func (ev *evaluation) fail(ctx context.Context, kind string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.Cancellation(ctxErr)
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Cancellation(err)
	case errors.Is(err, apperrors.ErrTimeout), errors.Is(err, apperrors.ErrQueryCancelled):
		return err
	}
	return fmt.Errorf("%w: evaluating %s: %w", apperrors.ErrIndexAccess, kind, err)
}

func exclude(left, right *result.QueryResult) *result.QueryResult {
	docs := right.Documents()
	return left.Filter(func(row result.Row) bool {
		_, excluded := docs[row.DocumentID]
		return !excluded
	})
}
