// Package result holds the outcome of query evaluation: rows addressing a
// span of a source document, duplicate-free result sets, and groupings of
// result sets for aggregation.
package result

import (
	"cmp"
	"iter"
	"maps"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
)

// NoToken marks a row whose range could not be mapped onto tokens.
const NoToken = -1

// TagReference carries the annotation a row was produced from.
type TagReference struct {
	CollectionID         string `json:"collection_id"`
	InstanceID           string `json:"tag_instance_id"`
	DefinitionID         string `json:"tag_definition_id"`
	DefinitionPath       string `json:"tag_definition_path"`
	PropertyDefinitionID string `json:"property_definition_id,omitempty"`
	PropertyName         string `json:"property_name,omitempty"`
	PropertyValue        string `json:"property_value,omitempty"`
}

// Row is one match. Identity is the document and the range only, so a tag
// row and a phrase row over the same span are the same row. Phrase, the
// token span and the tag reference describe the row without identifying it.
type Row struct {
	DocumentID string        `json:"document_id"`
	Range      corpus.Range  `json:"range"`
	Phrase     string        `json:"phrase"`
	FirstToken int           `json:"first_token"`
	LastToken  int           `json:"last_token"`
	Tag        *TagReference `json:"tag,omitempty"`
}

// HasTokens reports whether the row's token span is known.
func (r Row) HasTokens() bool {
	return r.FirstToken != NoToken && r.LastToken != NoToken
}

func (r Row) IsTagRow() bool {
	return r.Tag != nil
}

type key struct {
	doc string
	rng corpus.Range
}

func (r Row) key() key {
	return key{doc: r.DocumentID, rng: r.Range}
}

// Comparator decides whether two rows denote the same match.
type Comparator func(a, b Row) bool

// LocationEqual compares document and range only, ignoring tag data.
func LocationEqual(a, b Row) bool {
	return a.DocumentID == b.DocumentID && a.Range == b.Range
}

// IdentityEqual compares location and tag data: a tag row only equals a
// tag row carrying the same reference.
func IdentityEqual(a, b Row) bool {
	if !LocationEqual(a, b) || a.IsTagRow() != b.IsTagRow() {
		return false
	}
	return a.Tag == nil || *a.Tag == *b.Tag
}

// QueryResult is an unordered, duplicate-free set of rows.
type QueryResult struct {
	rows map[key]Row
}

func New(rows ...Row) *QueryResult {
	r := &QueryResult{rows: make(map[key]Row, len(rows))}
	for _, row := range rows {
		r.Add(row)
	}
	return r
}

// Empty returns a result without rows.
func Empty() *QueryResult {
	return New()
}

// Add inserts row unless a row at the same location is present; the first
// row added keeps its phrase and tag data. It reports whether the row was
// new.
func (r *QueryResult) Add(row Row) bool {
	k := row.key()
	if _, ok := r.rows[k]; ok {
		return false
	}
	r.rows[k] = row
	return true
}

func (r *QueryResult) Len() int {
	return len(r.rows)
}

func (r *QueryResult) IsEmpty() bool {
	return len(r.rows) == 0
}

// All iterates the rows in no particular order.
func (r *QueryResult) All() iter.Seq[Row] {
	return maps.Values(r.rows)
}

// Rows returns the rows ordered by document, then range.
func (r *QueryResult) Rows() []Row {
	rows := slices.Collect(maps.Values(r.rows))
	slices.SortFunc(rows, compareRows)
	return rows
}

func compareRows(a, b Row) int {
	if c := cmp.Compare(a.DocumentID, b.DocumentID); c != 0 {
		return c
	}
	return a.Range.Compare(b.Range)
}

// Contains reports whether some row of r equals row under equal. A nil
// comparator tests location identity.
func (r *QueryResult) Contains(row Row, equal Comparator) bool {
	if equal == nil {
		_, ok := r.rows[row.key()]
		return ok
	}
	for _, candidate := range r.rows {
		if equal(candidate, row) {
			return true
		}
	}
	return false
}

// Union returns a new result holding the rows of r and o. Where both hold
// a row at one location, r's row is kept.
func (r *QueryResult) Union(o *QueryResult) *QueryResult {
	out := &QueryResult{rows: maps.Clone(r.rows)}
	if out.rows == nil {
		out.rows = make(map[key]Row)
	}
	for k, row := range o.rows {
		if _, ok := out.rows[k]; !ok {
			out.rows[k] = row
		}
	}
	return out
}

// Intersect returns the rows of r whose location is also in o.
func (r *QueryResult) Intersect(o *QueryResult) *QueryResult {
	return r.Filter(func(row Row) bool {
		_, ok := o.rows[row.key()]
		return ok
	})
}

// Filter returns the rows of r for which keep returns true.
func (r *QueryResult) Filter(keep func(Row) bool) *QueryResult {
	out := Empty()
	for k, row := range r.rows {
		if keep(row) {
			out.rows[k] = row
		}
	}
	return out
}

// Equal reports whether both results hold the same row identities.
func (r *QueryResult) Equal(o *QueryResult) bool {
	if len(r.rows) != len(o.rows) {
		return false
	}
	for k := range r.rows {
		if _, ok := o.rows[k]; !ok {
			return false
		}
	}
	return true
}

// Documents returns the set of documents that have at least one row.
func (r *QueryResult) Documents() map[string]struct{} {
	docs := make(map[string]struct{})
	for _, row := range r.rows {
		docs[row.DocumentID] = struct{}{}
	}
	return docs
}

// ByDocument splits the rows per document, each slice ordered by range.
func (r *QueryResult) ByDocument() map[string][]Row {
	out := make(map[string][]Row)
	for _, row := range r.rows {
		out[row.DocumentID] = append(out[row.DocumentID], row)
	}
	for _, rows := range out {
		slices.SortFunc(rows, compareRows)
	}
	return out
}

// Limit returns at most n rows in Rows order and whether rows were dropped.
func (r *QueryResult) Limit(n int) ([]Row, bool) {
	rows := r.Rows()
	if n <= 0 || len(rows) <= n {
		return rows, false
	}
	return rows[:n], true
}
