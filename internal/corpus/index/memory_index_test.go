package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
)

func newTestIndex(t *testing.T) *MemoryIndex {
	t.Helper()
	m := NewMemoryIndex(corpus.Tokenization{})
	require.NoError(t, m.AddDocument(corpus.Document{ID: "d1", Text: "the rose is a rose"}))
	require.NoError(t, m.AddDocument(corpus.Document{ID: "d2", Text: "a Rose by any other name"}))
	require.NoError(t, m.AddTagInstance(corpus.TagInstance{
		ID: "t1", CollectionID: "c1", DocumentID: "d1",
		DefinitionID: "def-flower", DefinitionName: "Flower", DefinitionPath: "/Nature/Flower",
		Ranges:     []corpus.Range{{Start: 4, End: 8}, {Start: 14, End: 18}},
		Properties: []corpus.Property{{DefinitionID: "p-colour", Name: "colour", Values: []string{"red", "white"}}},
	}))
	require.NoError(t, m.AddTagInstance(corpus.TagInstance{
		ID: "t2", CollectionID: "c2", DocumentID: "d2",
		DefinitionID: "def-flower", DefinitionName: "Flower", DefinitionPath: "/Nature/Flower",
		Ranges: []corpus.Range{{Start: 2, End: 6}},
	}))
	return m
}

func TestTermPositions(t *testing.T) {
	m := newTestIndex(t)
	terms, err := m.TermPositions(context.Background(), corpus.Scope{}, "rose")
	require.NoError(t, err)
	require.Len(t, terms, 1, "case is preserved, so d2's Rose is a different term")
	assert.Equal(t, "d1", terms[0].DocumentID)
	assert.Equal(t, 2, terms[0].Frequency)
	assert.Equal(t, []corpus.Position{
		{CharStart: 4, CharEnd: 8, TokenOffset: 1},
		{CharStart: 14, CharEnd: 18, TokenOffset: 4},
	}, terms[0].Positions)

	terms, err = m.TermPositions(context.Background(), corpus.Scope{DocumentIDs: []string{"d2"}}, "a")
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, "d2", terms[0].DocumentID)
}

func TestTermFrequency(t *testing.T) {
	m := newTestIndex(t)
	freq, err := m.TermFrequency(context.Background(), corpus.Scope{}, "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"d1": 1, "d2": 1}, freq)
}

func TestTermsWithFilter(t *testing.T) {
	m := newTestIndex(t)
	terms, err := m.Terms(context.Background(), corpus.Scope{}, func(lit string) (bool, error) {
		return lit == "rose" || lit == "Rose", nil
	})
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "Rose", terms[0].Literal)
	assert.Equal(t, "rose", terms[1].Literal)

	all, err := m.Terms(context.Background(), corpus.Scope{}, nil)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestTermsHonoursCancellation(t *testing.T) {
	m := newTestIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Terms(ctx, corpus.Scope{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokensInRangeAndText(t *testing.T) {
	m := newTestIndex(t)
	ctx := context.Background()
	toks, err := m.TokensInRange(ctx, "d1", corpus.Range{Start: 5, End: 11})
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, 1, toks[0].TokenOffset)
	assert.Equal(t, 2, toks[1].TokenOffset)

	text, err := m.DocumentText(ctx, "d1", corpus.Range{Start: 4, End: 11})
	require.NoError(t, err)
	assert.Equal(t, "rose is", text)

	text, err = m.DocumentText(ctx, "d1", corpus.Range{Start: 14, End: 99})
	require.NoError(t, err)
	assert.Equal(t, "rose", text)

	_, err = m.DocumentText(ctx, "missing", corpus.Range{})
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}

func TestTagLookups(t *testing.T) {
	m := newTestIndex(t)
	ctx := context.Background()

	tags, err := m.TagInstancesByDefinition(ctx, corpus.Scope{}, "Flower")
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	tags, err = m.TagInstancesByDefinition(ctx, corpus.Scope{CollectionIDs: []string{"c2"}}, "/Nature/%")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "t2", tags[0].ID)

	tags, err = m.TagInstancesByProperty(ctx, corpus.Scope{}, "colour", "white", true)
	require.NoError(t, err)
	require.Len(t, tags, 1)

	tags, err = m.TagInstancesByProperty(ctx, corpus.Scope{}, "colour", "blue", true)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestAddTagInstanceValidation(t *testing.T) {
	m := newTestIndex(t)
	err := m.AddTagInstance(corpus.TagInstance{ID: "x", DocumentID: "nope"})
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)

	err = m.AddTagInstance(corpus.TagInstance{ID: "x", DocumentID: "d1", Ranges: []corpus.Range{{Start: 0, End: 500}}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestReplaceAndRemoveDocument(t *testing.T) {
	m := newTestIndex(t)
	require.NoError(t, m.AddDocument(corpus.Document{ID: "d1", Text: "tulip"}))
	assert.Nil(t, m.Search("rose"))
	assert.Len(t, m.Search("tulip"), 1)
	assert.Equal(t, 1, m.Stats().TagInstances, "tags of the replaced document are dropped")

	assert.True(t, m.RemoveDocument("d2"))
	assert.False(t, m.RemoveDocument("d2"))
	assert.Equal(t, Stats{Documents: 1, Terms: 1, Tokens: 1, TagInstances: 0}, m.Stats())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := newTestIndex(t)
	snap := m.Snapshot()

	restored := NewMemoryIndex(corpus.Tokenization{})
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, m.Stats(), restored.Stats())

	toks, err := restored.TokensInRange(context.Background(), "d1", corpus.Range{Start: 0, End: 18})
	require.NoError(t, err)
	require.Len(t, toks, 5)
	for i, tok := range toks {
		assert.Equal(t, i, tok.TokenOffset)
	}
	assert.Equal(t, snap, restored.Snapshot())
}

func TestRestoreRejectsDanglingPosting(t *testing.T) {
	m := NewMemoryIndex(corpus.Tokenization{})
	err := m.Restore(Snapshot{Terms: []TermEntry{{Term: "x", Postings: PostingList{{DocID: "ghost"}}}}})
	require.Error(t, err)
}
