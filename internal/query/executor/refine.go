package executor

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/ast"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/result"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
)

// refine narrows base. The output is always a subset of base.
func (ev *evaluation) refine(ctx context.Context, base *result.QueryResult, r ast.Refinement) (*result.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancellation(err)
	}
	switch r := r.(type) {
	case ast.SelectorRefinement:
		selected, err := ev.eval(ctx, r.Query)
		if err != nil {
			return nil, err
		}
		return keepOverlapping(base, selected), nil
	case ast.AndRefinement:
		l, rr, err := ev.refinePair(ctx, base, r.Left, r.Right)
		if err != nil {
			return nil, err
		}
		return l.Intersect(rr), nil
	case ast.OrRefinement:
		l, rr, err := ev.refinePair(ctx, base, r.Left, r.Right)
		if err != nil {
			return nil, err
		}
		return l.Union(rr), nil
	default:
		return nil, fmt.Errorf("%w: unsupported refinement %T", apperrors.ErrInternal, r)
	}
}

func (ev *evaluation) refinePair(ctx context.Context, base *result.QueryResult, left, right ast.Refinement) (*result.QueryResult, *result.QueryResult, error) {
	return ev.pair(ctx,
		func(ctx context.Context) (*result.QueryResult, error) { return ev.refine(ctx, base, left) },
		func(ctx context.Context) (*result.QueryResult, error) { return ev.refine(ctx, base, right) },
	)
}

// keepOverlapping keeps the base rows sharing at least one character with a
// selected row of the same document. Empty ranges overlap nothing.
func keepOverlapping(base, selected *result.QueryResult) *result.QueryResult {
	byDoc := selected.ByDocument()
	return base.Filter(func(row result.Row) bool {
		for _, s := range byDoc[row.DocumentID] {
			if s.Range.Overlaps(row.Range) {
				return true
			}
		}
		return false
	})
}
