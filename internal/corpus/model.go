// Package corpus holds the read-only data model shared by the index, the
// annotation stores and the query evaluator: documents, token positions,
// character ranges and tag instances.
package corpus

import (
	"slices"
	"strings"
)

// Position locates one token occurrence. Character offsets count runes and
// form the half-open interval [CharStart, CharEnd).
type Position struct {
	CharStart   int `json:"char_start"`
	CharEnd     int `json:"char_end"`
	TokenOffset int `json:"token_offset"`
}

// Range returns the character range covered by the position.
func (p Position) Range() Range {
	return Range{Start: p.CharStart, End: p.CharEnd}
}

// Range is a half-open character interval [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) IsEmpty() bool {
	return r.End <= r.Start
}

// Overlaps reports whether both ranges are non-empty and share at least one
// character.
func (r Range) Overlaps(o Range) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	return r.Start < o.End && o.Start < r.End
}

// Merge returns the smallest range covering both r and o.
func (r Range) Merge(o Range) Range {
	return Range{Start: min(r.Start, o.Start), End: max(r.End, o.End)}
}

// Compare orders ranges by start, then end.
func (r Range) Compare(o Range) int {
	if r.Start != o.Start {
		if r.Start < o.Start {
			return -1
		}
		return 1
	}
	switch {
	case r.End < o.End:
		return -1
	case r.End > o.End:
		return 1
	}
	return 0
}

// Term is one literal's occurrences within a single document.
type Term struct {
	DocumentID string     `json:"document_id"`
	Literal    string     `json:"literal"`
	Frequency  int        `json:"frequency"`
	Positions  []Position `json:"positions"`
}

// Document is a source document with its full text.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// Property is a named property of a tag instance with its values.
type Property struct {
	DefinitionID string   `json:"definition_id"`
	Name         string   `json:"name"`
	Values       []string `json:"values"`
}

// TagInstance is one annotation: a tag definition applied to one or more
// ranges of a document inside a markup collection.
type TagInstance struct {
	ID             string     `json:"id"`
	CollectionID   string     `json:"collection_id"`
	DocumentID     string     `json:"document_id"`
	DefinitionID   string     `json:"definition_id"`
	DefinitionName string     `json:"definition_name"`
	DefinitionPath string     `json:"definition_path"`
	Ranges         []Range    `json:"ranges"`
	Properties     []Property `json:"properties,omitempty"`
}

// Property returns the named property, if the instance carries it.
func (t TagInstance) Property(name string) (Property, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Tokenization controls how text is split into tokens. It applies to
// indexing and to the literals of phrase queries alike.
type Tokenization struct {
	// UnseparableSequences are kept as single tokens, e.g. "e.g." or "U.S.".
	UnseparableSequences []string `json:"unseparable_sequences,omitempty"`
	// SeparatorChars always split tokens, even inside a word.
	SeparatorChars string `json:"separator_chars,omitempty"`
}

// Or fills each unset field of t from fallback.
func (t Tokenization) Or(fallback Tokenization) Tokenization {
	if len(t.UnseparableSequences) == 0 {
		t.UnseparableSequences = fallback.UnseparableSequences
	}
	if t.SeparatorChars == "" {
		t.SeparatorChars = fallback.SeparatorChars
	}
	return t
}

// Scope restricts an evaluation to a subset of the corpus. Empty id lists
// mean "everything".
type Scope struct {
	DocumentIDs   []string
	CollectionIDs []string
	Locale        string
	Tokenization  Tokenization
}

func (s Scope) HasDocument(id string) bool {
	return len(s.DocumentIDs) == 0 || slices.Contains(s.DocumentIDs, id)
}

func (s Scope) HasCollection(id string) bool {
	return len(s.CollectionIDs) == 0 || slices.Contains(s.CollectionIDs, id)
}

// Admits reports whether a tag instance is visible in the scope.
func (s Scope) Admits(t TagInstance) bool {
	return s.HasDocument(t.DocumentID) && s.HasCollection(t.CollectionID)
}

// TermFilter selects term literals during enumeration.
type TermFilter func(literal string) (bool, error)

// MatchTagPattern reports whether a tag definition is selected by a tag
// query pattern. A pattern starting with "/" is matched against the
// definition path, anything else against the definition name. "%" matches
// any run of characters.
func MatchTagPattern(pattern, name, path string) bool {
	target := name
	if strings.HasPrefix(pattern, "/") {
		target = path
	}
	return matchWildcard(pattern, target)
}

func matchWildcard(pattern, s string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return strings.HasSuffix(s, last)
}
