package executor

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/result"
)

// adjacency keeps pairs where the right row starts at the token right after
// the left row ends. Rows without a token span never pair.
func (ev *evaluation) adjacency(ctx context.Context, left, right *result.QueryResult) (*result.QueryResult, error) {
	starts := make(map[string]map[int][]result.Row)
	for row := range right.All() {
		if !row.HasTokens() {
			continue
		}
		byOffset, ok := starts[row.DocumentID]
		if !ok {
			byOffset = make(map[int][]result.Row)
			starts[row.DocumentID] = byOffset
		}
		byOffset[row.FirstToken] = append(byOffset[row.FirstToken], row)
	}

	out := result.Empty()
	for _, a := range left.Rows() {
		if !a.HasTokens() {
			continue
		}
		for _, b := range starts[a.DocumentID][a.LastToken+1] {
			row, err := ev.merge(ctx, a, b)
			if err != nil {
				return nil, err
			}
			out.Add(row)
		}
	}
	return out, nil
}

// colloc keeps pairs of distinct rows in one document at most window tokens
// apart, in either order.
func (ev *evaluation) colloc(ctx context.Context, left, right *result.QueryResult, window int) (*result.QueryResult, error) {
	byDoc := right.ByDocument()
	out := result.Empty()
	for i, a := range left.Rows() {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, ev.fail(ctx, "colloc", err)
			}
		}
		if !a.HasTokens() {
			continue
		}
		for _, b := range byDoc[a.DocumentID] {
			if !b.HasTokens() || result.LocationEqual(a, b) {
				continue
			}
			if tokenDistance(a, b) > window {
				continue
			}
			row, err := ev.merge(ctx, a, b)
			if err != nil {
				return nil, err
			}
			out.Add(row)
		}
	}
	return out, nil
}

// tokenDistance is the offset difference between the closer ends of two
// token spans, zero when they overlap.
func tokenDistance(a, b result.Row) int {
	switch {
	case b.FirstToken > a.LastToken:
		return b.FirstToken - a.LastToken
	case a.FirstToken > b.LastToken:
		return a.FirstToken - b.LastToken
	default:
		return 0
	}
}

// merge builds the row covering both a and b.
func (ev *evaluation) merge(ctx context.Context, a, b result.Row) (result.Row, error) {
	rng := a.Range.Merge(b.Range)
	text, err := ev.index.DocumentText(ctx, a.DocumentID, rng)
	if err != nil {
		return result.Row{}, ev.fail(ctx, "merge", err)
	}
	return result.Row{
		DocumentID: a.DocumentID,
		Range:      rng,
		Phrase:     text,
		FirstToken: min(a.FirstToken, b.FirstToken),
		LastToken:  max(a.LastToken, b.LastToken),
	}, nil
}
