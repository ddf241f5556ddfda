// Package ast defines the query and refinement variants the evaluator
// understands, and builds them from parse trees. Both Query and Refinement
// are closed: only the types in this package implement them.
package ast

import (
	"strconv"
	"strings"
)

// Query is one evaluable query variant.
type Query interface {
	isQuery()
	// Kind names the variant for logging and metrics.
	Kind() string
}

// Refinement is a post-filter applied to a query's result.
type Refinement interface {
	isRefinement()
}

// QueryPlan is the root of a built query.
type QueryPlan struct {
	Root       Query
	Refinement Refinement
	RawQuery   string
}

type Phrase struct {
	Text string
}

// Tag selects tag references by definition name, or by definition path
// when Name starts with "/".
type Tag struct {
	Name string
}

type Property struct {
	Name     string
	Value    string
	HasValue bool
}

type Reg struct {
	Pattern         string
	CaseInsensitive bool
}

// Wild matches terms against a pattern where "%" is any run and "_" is
// exactly one character.
type Wild struct {
	Pattern string
}

type Comparator int

const (
	Equal Comparator = iota
	NotEqual
)

func (c Comparator) String() string {
	if c == NotEqual {
		return "!="
	}
	return "="
}

// Freq selects terms by their per-document occurrence count. Without
// HasHigh the bound is exact.
type Freq struct {
	Comparator Comparator
	Low        int
	High       int
	HasHigh    bool
}

// Matches reports whether count satisfies the frequency condition.
func (f Freq) Matches(count int) bool {
	high := f.Low
	if f.HasHigh {
		high = f.High
	}
	inside := count >= f.Low && count <= high
	if f.Comparator == NotEqual {
		return !inside
	}
	return inside
}

// Simil selects terms whose similarity to Phrase is at least Grade percent.
type Simil struct {
	Phrase string
	Grade  int
}

type Union struct {
	Left, Right Query
}

// Exclusion keeps the rows of Left whose document has no row in Right.
type Exclusion struct {
	Left, Right Query
}

// Adjacency keeps Left rows immediately followed by a Right row.
type Adjacency struct {
	Left, Right Query
}

// Colloc keeps Left rows with a Right row within Window tokens. Without
// HasWindow the evaluator's default applies.
type Colloc struct {
	Left, Right Query
	Window      int
	HasWindow   bool
}

type Subquery struct {
	Plan *QueryPlan
}

func (Phrase) isQuery()    {}
func (Tag) isQuery()       {}
func (Property) isQuery()  {}
func (Reg) isQuery()       {}
func (Wild) isQuery()      {}
func (Freq) isQuery()      {}
func (Simil) isQuery()     {}
func (Union) isQuery()     {}
func (Exclusion) isQuery() {}
func (Adjacency) isQuery() {}
func (Colloc) isQuery()    {}
func (Subquery) isQuery()  {}

func (Phrase) Kind() string    { return "phrase" }
func (Tag) Kind() string       { return "tag" }
func (Property) Kind() string  { return "property" }
func (Reg) Kind() string       { return "reg" }
func (Wild) Kind() string      { return "wild" }
func (Freq) Kind() string      { return "freq" }
func (Simil) Kind() string     { return "simil" }
func (Union) Kind() string     { return "union" }
func (Exclusion) Kind() string { return "exclusion" }
func (Adjacency) Kind() string { return "adjacency" }
func (Colloc) Kind() string    { return "colloc" }
func (Subquery) Kind() string  { return "subquery" }

// SelectorRefinement keeps base rows overlapping a row of Query.
type SelectorRefinement struct {
	Query Query
}

// AndRefinement keeps base rows accepted by both sides.
type AndRefinement struct {
	Left, Right Refinement
}

// OrRefinement keeps base rows accepted by either side.
type OrRefinement struct {
	Left, Right Refinement
}

func (SelectorRefinement) isRefinement() {}
func (AndRefinement) isRefinement()      {}
func (OrRefinement) isRefinement()       {}

// Format renders a plan in canonical query syntax. Equivalent spellings of
// one query format identically.
func Format(plan *QueryPlan) string {
	var b strings.Builder
	writePlan(&b, plan)
	return b.String()
}

func writePlan(b *strings.Builder, plan *QueryPlan) {
	writeQuery(b, plan.Root)
	if plan.Refinement != nil {
		b.WriteString(" where ")
		writeRefinement(b, plan.Refinement)
	}
}

func writeQuery(b *strings.Builder, q Query) {
	switch q := q.(type) {
	case Phrase:
		writePhrase(b, q.Text)
	case Tag:
		b.WriteString("tag=")
		writePhrase(b, q.Name)
	case Property:
		b.WriteString("property=")
		writePhrase(b, q.Name)
		if q.HasValue {
			b.WriteString("=")
			writePhrase(b, q.Value)
		}
	case Reg:
		b.WriteString("reg=")
		writePattern(b, q.Pattern)
		if q.CaseInsensitive {
			b.WriteString(" CI")
		}
	case Wild:
		b.WriteString("wild=")
		writePhrase(b, q.Pattern)
	case Freq:
		b.WriteString("freq")
		b.WriteString(q.Comparator.String())
		b.WriteString(strconv.Itoa(q.Low))
		if q.HasHigh {
			b.WriteString("-")
			b.WriteString(strconv.Itoa(q.High))
		}
	case Simil:
		b.WriteString("simil=")
		writePhrase(b, q.Phrase)
		b.WriteString(" ")
		b.WriteString(strconv.Itoa(q.Grade))
		b.WriteString("%")
	case Union:
		writeBinary(b, q.Left, " | ", q.Right)
	case Exclusion:
		writeBinary(b, q.Left, " - ", q.Right)
	case Adjacency:
		writeBinary(b, q.Left, " & ", q.Right)
	case Colloc:
		b.WriteString("(")
		writeQuery(b, q.Left)
		b.WriteString(", ")
		writeQuery(b, q.Right)
		if q.HasWindow {
			b.WriteString(", ")
			b.WriteString(strconv.Itoa(q.Window))
		}
		b.WriteString(")")
	case Subquery:
		b.WriteString("(")
		writePlan(b, q.Plan)
		b.WriteString(")")
	}
}

// writeBinary parenthesises every binary operand so the rendering does not
// depend on associativity.
func writeBinary(b *strings.Builder, left Query, op string, right Query) {
	b.WriteString("(")
	writeQuery(b, left)
	b.WriteString(op)
	writeQuery(b, right)
	b.WriteString(")")
}

func writeRefinement(b *strings.Builder, r Refinement) {
	switch r := r.(type) {
	case SelectorRefinement:
		writeQuery(b, r.Query)
	case AndRefinement:
		b.WriteString("(")
		writeRefinement(b, r.Left)
		b.WriteString(" & ")
		writeRefinement(b, r.Right)
		b.WriteString(")")
	case OrRefinement:
		b.WriteString("(")
		writeRefinement(b, r.Left)
		b.WriteString(" | ")
		writeRefinement(b, r.Right)
		b.WriteString(")")
	}
}

// writePhrase quotes a literal, escaping quotes and backslashes.
func writePhrase(b *strings.Builder, s string) {
	writeQuoted(b, s, true)
}

// writePattern quotes a regular expression. Its backslashes were never
// unescaped, so only quotes are.
func writePattern(b *strings.Builder, s string) {
	writeQuoted(b, s, false)
}

func writeQuoted(b *strings.Builder, s string, backslashes bool) {
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || (backslashes && r == '\\') {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
}

// Walk calls fn for every query node of plan in pre-order, descending into
// subqueries and refinements.
func Walk(plan *QueryPlan, fn func(Query)) {
	if plan == nil {
		return
	}
	walkQuery(plan.Root, fn)
	walkRefinement(plan.Refinement, fn)
}

func walkQuery(q Query, fn func(Query)) {
	if q == nil {
		return
	}
	fn(q)
	switch q := q.(type) {
	case Union:
		walkQuery(q.Left, fn)
		walkQuery(q.Right, fn)
	case Exclusion:
		walkQuery(q.Left, fn)
		walkQuery(q.Right, fn)
	case Adjacency:
		walkQuery(q.Left, fn)
		walkQuery(q.Right, fn)
	case Colloc:
		walkQuery(q.Left, fn)
		walkQuery(q.Right, fn)
	case Subquery:
		Walk(q.Plan, fn)
	}
}

func walkRefinement(r Refinement, fn func(Query)) {
	switch r := r.(type) {
	case SelectorRefinement:
		walkQuery(r.Query, fn)
	case AndRefinement:
		walkRefinement(r.Left, fn)
		walkRefinement(r.Right, fn)
	case OrRefinement:
		walkRefinement(r.Left, fn)
		walkRefinement(r.Right, fn)
	}
}

// Kinds lists the kind of every node of plan in pre-order.
func Kinds(plan *QueryPlan) []string {
	var kinds []string
	Walk(plan, func(q Query) { kinds = append(kinds, q.Kind()) })
	return kinds
}
