package executor

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
)

// TermIndex is the read side of a positional index. Implementations must
// tolerate concurrent calls for the duration of an evaluation.
type TermIndex interface {
	TermPositions(ctx context.Context, scope corpus.Scope, literal string) ([]corpus.Term, error)
	TermFrequency(ctx context.Context, scope corpus.Scope, literal string) (map[string]int, error)
	Terms(ctx context.Context, scope corpus.Scope, filter corpus.TermFilter) ([]corpus.Term, error)
	TokensInRange(ctx context.Context, documentID string, r corpus.Range) ([]corpus.Position, error)
	DocumentText(ctx context.Context, documentID string, r corpus.Range) (string, error)
	// Tokenization is what the index was built with. Phrase literals are
	// tokenized the same way unless the scope overrides it.
	Tokenization() corpus.Tokenization
}

// AnnotationStore looks up tag instances.
type AnnotationStore interface {
	TagInstancesByDefinition(ctx context.Context, scope corpus.Scope, pattern string) ([]corpus.TagInstance, error)
	TagInstancesByProperty(ctx context.Context, scope corpus.Scope, name, value string, hasValue bool) ([]corpus.TagInstance, error)
}

// Index is everything the evaluator reads from.
type Index interface {
	TermIndex
	AnnotationStore
}

type composite struct {
	TermIndex
	AnnotationStore
}

// Compose serves terms from one backend and annotations from another, e.g.
// a snapshot index with annotations kept in PostgreSQL.
func Compose(terms TermIndex, annotations AnnotationStore) Index {
	return composite{TermIndex: terms, AnnotationStore: annotations}
}
