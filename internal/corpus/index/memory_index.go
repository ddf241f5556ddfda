// Package index implements an in-memory positional index with an attached
// annotation store. It serves the read side of query evaluation and can be
// exported to and restored from a Snapshot.
package index

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
)

type docEntry struct {
	doc    corpus.Document
	runes  []rune
	tokens []corpus.Position
}

type MemoryIndex struct {
	mu           sync.RWMutex
	tokenization corpus.Tokenization
	tokenizer    *tokenizer.Tokenizer
	index        map[string]map[string]*Posting
	docs         map[string]*docEntry
	tags         map[string]corpus.TagInstance
	tokenCount   int
	logger       *slog.Logger
}

func NewMemoryIndex(tok corpus.Tokenization) *MemoryIndex {
	return &MemoryIndex{
		tokenization: tok,
		tokenizer:    tokenizer.New(tok),
		index:        make(map[string]map[string]*Posting),
		docs:         make(map[string]*docEntry),
		tags:         make(map[string]corpus.TagInstance),
		logger:       slog.Default().With("component", "memory-index"),
	}
}

// Tokenization returns the tokenization the index was built with.
func (m *MemoryIndex) Tokenization() corpus.Tokenization {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokenization
}

// AddDocument tokenizes and indexes a document, replacing any previous
// version with the same id. Tag instances of a replaced version are dropped.
func (m *MemoryIndex) AddDocument(doc corpus.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is required", apperrors.ErrInvalidInput)
	}
	tokens := m.tokenizer.Tokenize(doc.Text)

	termData := make(map[string]*Posting)
	positions := make([]corpus.Position, 0, len(tokens))
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocID:     doc.ID,
				Positions: make([]corpus.Position, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
		positions = append(positions, token.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeDocumentLocked(doc.ID)
	for term, posting := range termData {
		if _, exists := m.index[term]; !exists {
			m.index[term] = make(map[string]*Posting)
		}
		m.index[term][doc.ID] = posting
	}
	m.docs[doc.ID] = &docEntry{doc: doc, runes: []rune(doc.Text), tokens: positions}
	m.tokenCount += len(positions)
	m.logger.Debug("document indexed", "document_id", doc.ID, "tokens", len(positions), "terms", len(termData))
	return nil
}

// RemoveDocument drops a document, its postings and its tag instances.
func (m *MemoryIndex) RemoveDocument(docID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeDocumentLocked(docID)
}

func (m *MemoryIndex) removeDocumentLocked(docID string) bool {
	entry, ok := m.docs[docID]
	if !ok {
		return false
	}
	for term, docs := range m.index {
		if _, ok := docs[docID]; ok {
			delete(docs, docID)
			if len(docs) == 0 {
				delete(m.index, term)
			}
		}
	}
	for id, ti := range m.tags {
		if ti.DocumentID == docID {
			delete(m.tags, id)
		}
	}
	m.tokenCount -= len(entry.tokens)
	delete(m.docs, docID)
	return true
}

// AddTagInstance stores an annotation. Its document must be indexed and its
// ranges must lie inside the document text.
func (m *MemoryIndex) AddTagInstance(ti corpus.TagInstance) error {
	if ti.ID == "" {
		return fmt.Errorf("%w: tag instance id is required", apperrors.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.docs[ti.DocumentID]
	if !ok {
		return fmt.Errorf("tag instance %s: %w: %s", ti.ID, apperrors.ErrDocumentNotFound, ti.DocumentID)
	}
	for _, r := range ti.Ranges {
		if r.Start < 0 || r.End > len(entry.runes) || r.End < r.Start {
			return fmt.Errorf("%w: tag instance %s range [%d,%d) outside document %s",
				apperrors.ErrInvalidInput, ti.ID, r.Start, r.End, ti.DocumentID)
		}
	}
	m.tags[ti.ID] = ti
	return nil
}

func (m *MemoryIndex) RemoveTagInstance(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tags[id]; !ok {
		return false
	}
	delete(m.tags, id)
	return true
}

// Search returns the postings of a term ordered by document id.
func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

// TermPositions returns, per document in scope, the occurrences of literal.
func (m *MemoryIndex) TermPositions(ctx context.Context, scope corpus.Scope, literal string) ([]corpus.Term, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectLocked(scope, literal, m.index[literal]), nil
}

// TermFrequency returns the occurrence count of literal per document in scope.
func (m *MemoryIndex) TermFrequency(ctx context.Context, scope corpus.Scope, literal string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	freq := make(map[string]int)
	for docID, p := range m.index[literal] {
		if scope.HasDocument(docID) {
			freq[docID] = p.Frequency
		}
	}
	return freq, nil
}

// Terms enumerates every (document, literal) pair in scope whose literal is
// accepted by filter. A nil filter accepts everything.
func (m *MemoryIndex) Terms(ctx context.Context, scope corpus.Scope, filter corpus.TermFilter) ([]corpus.Term, error) {
	m.mu.RLock()
	literals := make([]string, 0, len(m.index))
	for term := range m.index {
		literals = append(literals, term)
	}
	m.mu.RUnlock()
	sort.Strings(literals)

	var result []corpus.Term
	for i, literal := range literals {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if filter != nil {
			ok, err := filter(literal)
			if err != nil {
				return nil, fmt.Errorf("filtering term %q: %w", literal, err)
			}
			if !ok {
				continue
			}
		}
		m.mu.RLock()
		result = append(result, m.collectLocked(scope, literal, m.index[literal])...)
		m.mu.RUnlock()
	}
	return result, nil
}

func (m *MemoryIndex) collectLocked(scope corpus.Scope, literal string, docs map[string]*Posting) []corpus.Term {
	terms := make([]corpus.Term, 0, len(docs))
	for docID, p := range docs {
		if !scope.HasDocument(docID) {
			continue
		}
		terms = append(terms, corpus.Term{
			DocumentID: docID,
			Literal:    literal,
			Frequency:  p.Frequency,
			Positions:  slices.Clone(p.Positions),
		})
	}
	slices.SortFunc(terms, func(a, b corpus.Term) int {
		return cmp.Compare(a.DocumentID, b.DocumentID)
	})
	return terms
}

// TokensInRange returns the positions of the tokens of a document that
// overlap r, in token order.
func (m *MemoryIndex) TokensInRange(ctx context.Context, documentID string, r corpus.Range) ([]corpus.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.docs[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, documentID)
	}
	return tokensOverlapping(entry.tokens, r), nil
}

func tokensOverlapping(tokens []corpus.Position, r corpus.Range) []corpus.Position {
	start := sort.Search(len(tokens), func(i int) bool {
		return tokens[i].CharEnd > r.Start
	})
	var out []corpus.Position
	for i := start; i < len(tokens) && tokens[i].CharStart < r.End; i++ {
		if tokens[i].Range().Overlaps(r) {
			out = append(out, tokens[i])
		}
	}
	return out
}

// DocumentText returns the text of a document inside r. The range is
// clamped to the document bounds.
func (m *MemoryIndex) DocumentText(ctx context.Context, documentID string, r corpus.Range) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.docs[documentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, documentID)
	}
	start := max(0, min(r.Start, len(entry.runes)))
	end := max(start, min(r.End, len(entry.runes)))
	return string(entry.runes[start:end]), nil
}

// Document returns a stored document.
func (m *MemoryIndex) Document(documentID string) (corpus.Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.docs[documentID]
	if !ok {
		return corpus.Document{}, false
	}
	return entry.doc, true
}

// TagInstancesByDefinition returns the tag instances in scope whose
// definition matches pattern (see corpus.MatchTagPattern).
func (m *MemoryIndex) TagInstancesByDefinition(ctx context.Context, scope corpus.Scope, pattern string) ([]corpus.TagInstance, error) {
	return m.selectTags(ctx, scope, func(ti corpus.TagInstance) bool {
		return corpus.MatchTagPattern(pattern, ti.DefinitionName, ti.DefinitionPath)
	})
}

// TagInstancesByProperty returns the tag instances in scope carrying the
// named property, and when hasValue is set, that value among its values.
func (m *MemoryIndex) TagInstancesByProperty(ctx context.Context, scope corpus.Scope, name, value string, hasValue bool) ([]corpus.TagInstance, error) {
	return m.selectTags(ctx, scope, func(ti corpus.TagInstance) bool {
		p, ok := ti.Property(name)
		if !ok {
			return false
		}
		return !hasValue || slices.Contains(p.Values, value)
	})
}

func (m *MemoryIndex) selectTags(ctx context.Context, scope corpus.Scope, keep func(corpus.TagInstance) bool) ([]corpus.TagInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []corpus.TagInstance
	for _, ti := range m.tags {
		if scope.Admits(ti) && keep(ti) {
			out = append(out, ti)
		}
	}
	slices.SortFunc(out, func(a, b corpus.TagInstance) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Snapshot returns a deterministic copy of the index contents.
func (m *MemoryIndex) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{
		Tokenization: m.tokenization,
		Documents:    make([]corpus.Document, 0, len(m.docs)),
		Terms:        make([]TermEntry, 0, len(m.index)),
		TagInstances: make([]corpus.TagInstance, 0, len(m.tags)),
	}
	for _, entry := range m.docs {
		snap.Documents = append(snap.Documents, entry.doc)
	}
	slices.SortFunc(snap.Documents, func(a, b corpus.Document) int { return cmp.Compare(a.ID, b.ID) })

	for term, docs := range m.index {
		postings := make(PostingList, 0, len(docs))
		for _, posting := range docs {
			postings = append(postings, *posting)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		snap.Terms = append(snap.Terms, TermEntry{Term: term, Postings: postings})
	}
	sort.Slice(snap.Terms, func(i, j int) bool {
		return snap.Terms[i].Term < snap.Terms[j].Term
	})

	for _, ti := range m.tags {
		snap.TagInstances = append(snap.TagInstances, ti)
	}
	slices.SortFunc(snap.TagInstances, func(a, b corpus.TagInstance) int { return cmp.Compare(a.ID, b.ID) })
	return snap
}

// Restore replaces the index contents with a snapshot. Postings are taken
// as stored; documents are not re-tokenized.
func (m *MemoryIndex) Restore(snap Snapshot) error {
	docs := make(map[string]*docEntry, len(snap.Documents))
	for _, d := range snap.Documents {
		docs[d.ID] = &docEntry{doc: d, runes: []rune(d.Text)}
	}
	idx := make(map[string]map[string]*Posting, len(snap.Terms))
	tokenCount := 0
	for _, entry := range snap.Terms {
		byDoc := make(map[string]*Posting, len(entry.Postings))
		for i := range entry.Postings {
			p := entry.Postings[i]
			de, ok := docs[p.DocID]
			if !ok {
				return fmt.Errorf("term %q references unknown document %s", entry.Term, p.DocID)
			}
			de.tokens = append(de.tokens, p.Positions...)
			tokenCount += len(p.Positions)
			byDoc[p.DocID] = &p
		}
		idx[entry.Term] = byDoc
	}
	for _, de := range docs {
		slices.SortFunc(de.tokens, func(a, b corpus.Position) int {
			return cmp.Compare(a.TokenOffset, b.TokenOffset)
		})
	}
	tags := make(map[string]corpus.TagInstance, len(snap.TagInstances))
	for _, ti := range snap.TagInstances {
		tags[ti.ID] = ti
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenization = snap.Tokenization
	m.tokenizer = tokenizer.New(snap.Tokenization)
	m.index = idx
	m.docs = docs
	m.tags = tags
	m.tokenCount = tokenCount
	m.logger.Info("index restored", "documents", len(docs), "terms", len(idx), "tag_instances", len(tags))
	return nil
}

func (m *MemoryIndex) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Documents:    len(m.docs),
		Terms:        len(m.index),
		Tokens:       m.tokenCount,
		TagInstances: len(m.tags),
	}
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[string]*Posting)
	m.docs = make(map[string]*docEntry)
	m.tags = make(map[string]corpus.TagInstance)
	m.tokenCount = 0
}
