package executor

import (
	"context"
	"fmt"

	"github.com/dlclark/regexp2"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/ast"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/result"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
)

// phrase matches the tokens of the literal at consecutive token offsets.
func (ev *evaluation) phrase(ctx context.Context, q ast.Phrase) (*result.QueryResult, error) {
	tokens := ev.tok.Tokenize(q.Text)
	out := result.Empty()
	if len(tokens) == 0 {
		return out, nil
	}
	first, err := ev.index.TermPositions(ctx, ev.scope, tokens[0].Term)
	if err != nil {
		return nil, ev.fail(ctx, "phrase", err)
	}
	if len(first) == 0 {
		return out, nil
	}

	// following[i] maps document and token offset to the (i+1)-th token.
	following := make([]map[string]map[int]corpus.Position, len(tokens)-1)
	for i, tok := range tokens[1:] {
		terms, err := ev.index.TermPositions(ctx, ev.scope, tok.Term)
		if err != nil {
			return nil, ev.fail(ctx, "phrase", err)
		}
		following[i] = positionsByOffset(terms)
	}

	for _, term := range first {
	occurrences:
		for _, p := range term.Positions {
			last := p
			for i, byDoc := range following {
				next, ok := byDoc[term.DocumentID][p.TokenOffset+i+1]
				if !ok {
					continue occurrences
				}
				last = next
			}
			out.Add(result.Row{
				DocumentID: term.DocumentID,
				Range:      corpus.Range{Start: p.CharStart, End: last.CharEnd},
				Phrase:     q.Text,
				FirstToken: p.TokenOffset,
				LastToken:  last.TokenOffset,
			})
		}
	}
	return out, nil
}

func positionsByOffset(terms []corpus.Term) map[string]map[int]corpus.Position {
	out := make(map[string]map[int]corpus.Position, len(terms))
	for _, t := range terms {
		byOffset := make(map[int]corpus.Position, len(t.Positions))
		for _, p := range t.Positions {
			byOffset[p.TokenOffset] = p
		}
		out[t.DocumentID] = byOffset
	}
	return out
}

func (ev *evaluation) tag(ctx context.Context, q ast.Tag) (*result.QueryResult, error) {
	instances, err := ev.index.TagInstancesByDefinition(ctx, ev.scope, q.Name)
	if err != nil {
		return nil, ev.fail(ctx, "tag", err)
	}
	out := result.Empty()
	for _, ti := range instances {
		if err := ev.addTagRows(ctx, out, ti, []result.TagReference{tagReference(ti)}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// property yields one row per range. A multi-valued property still maps to
// one row per span; it reports the first value, or the filtered one.
func (ev *evaluation) property(ctx context.Context, q ast.Property) (*result.QueryResult, error) {
	instances, err := ev.index.TagInstancesByProperty(ctx, ev.scope, q.Name, q.Value, q.HasValue)
	if err != nil {
		return nil, ev.fail(ctx, "property", err)
	}
	out := result.Empty()
	for _, ti := range instances {
		prop, ok := ti.Property(q.Name)
		if !ok {
			continue
		}
		values := prop.Values
		if q.HasValue {
			values = []string{q.Value}
		} else if len(values) == 0 {
			values = []string{""}
		}
		refs := make([]result.TagReference, 0, len(values))
		for _, v := range values {
			ref := tagReference(ti)
			ref.PropertyDefinitionID = prop.DefinitionID
			ref.PropertyName = prop.Name
			ref.PropertyValue = v
			refs = append(refs, ref)
		}
		if err := ev.addTagRows(ctx, out, ti, refs); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func tagReference(ti corpus.TagInstance) result.TagReference {
	return result.TagReference{
		CollectionID:   ti.CollectionID,
		InstanceID:     ti.ID,
		DefinitionID:   ti.DefinitionID,
		DefinitionPath: ti.DefinitionPath,
	}
}

// addTagRows emits one row per range of ti and reference.
func (ev *evaluation) addTagRows(ctx context.Context, out *result.QueryResult, ti corpus.TagInstance, refs []result.TagReference) error {
	for _, rng := range ti.Ranges {
		text, err := ev.index.DocumentText(ctx, ti.DocumentID, rng)
		if err != nil {
			return ev.fail(ctx, "tag", err)
		}
		tokens, err := ev.index.TokensInRange(ctx, ti.DocumentID, rng)
		if err != nil {
			return ev.fail(ctx, "tag", err)
		}
		first, last := result.NoToken, result.NoToken
		if len(tokens) > 0 {
			first, last = tokens[0].TokenOffset, tokens[len(tokens)-1].TokenOffset
		}
		for _, ref := range refs {
			out.Add(result.Row{
				DocumentID: ti.DocumentID,
				Range:      rng,
				Phrase:     text,
				FirstToken: first,
				LastToken:  last,
				Tag:        &ref,
			})
		}
	}
	return nil
}

func (ev *evaluation) reg(ctx context.Context, q ast.Reg) (*result.QueryResult, error) {
	re, err := ast.CompileReg(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidQuery, err)
	}
	return ev.matchTerms(ctx, "reg", re)
}

func (ev *evaluation) wild(ctx context.Context, q ast.Wild) (*result.QueryResult, error) {
	re, err := ast.CompileWild(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidQuery, err)
	}
	return ev.matchTerms(ctx, "wild", re)
}

func (ev *evaluation) matchTerms(ctx context.Context, kind string, re *regexp2.Regexp) (*result.QueryResult, error) {
	if ev.cfg.RegexTimeout > 0 {
		re.MatchTimeout = ev.cfg.RegexTimeout
	}
	terms, err := ev.index.Terms(ctx, ev.scope, func(literal string) (bool, error) {
		ok, err := re.MatchString(literal)
		if err != nil {
			return false, fmt.Errorf("%w: matching %s pattern: %w", apperrors.ErrTimeout, kind, err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, ev.fail(ctx, kind, err)
	}
	return termRows(terms, nil), nil
}

// freq selects every term whose per-document count satisfies q.
func (ev *evaluation) freq(ctx context.Context, q ast.Freq) (*result.QueryResult, error) {
	terms, err := ev.index.Terms(ctx, ev.scope, nil)
	if err != nil {
		return nil, ev.fail(ctx, "freq", err)
	}
	return termRows(terms, func(t corpus.Term) bool {
		return q.Matches(t.Frequency)
	}), nil
}

func (ev *evaluation) simil(ctx context.Context, q ast.Simil) (*result.QueryResult, error) {
	threshold := float64(q.Grade) / 100
	terms, err := ev.index.Terms(ctx, ev.scope, func(literal string) (bool, error) {
		return ev.cfg.Similarity(q.Phrase, literal) >= threshold, nil
	})
	if err != nil {
		return nil, ev.fail(ctx, "simil", err)
	}
	return termRows(terms, nil), nil
}

// termRows emits one row per occurrence of each term accepted by keep.
func termRows(terms []corpus.Term, keep func(corpus.Term) bool) *result.QueryResult {
	out := result.Empty()
	for _, t := range terms {
		if keep != nil && !keep(t) {
			continue
		}
		for _, p := range t.Positions {
			out.Add(result.Row{
				DocumentID: t.DocumentID,
				Range:      p.Range(),
				Phrase:     t.Literal,
				FirstToken: p.TokenOffset,
				LastToken:  p.TokenOffset,
			})
		}
	}
	return out
}
