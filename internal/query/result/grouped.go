package result

import (
	"fmt"
	"slices"
)

// Grouping names a supported way of grouping rows.
type Grouping string

const (
	GroupByPhrase   Grouping = "phrase"
	GroupByDocument Grouping = "document"
	GroupByTag      Grouping = "tag"
)

// ParseGrouping validates a grouping name.
func ParseGrouping(s string) (Grouping, error) {
	switch g := Grouping(s); g {
	case GroupByPhrase, GroupByDocument, GroupByTag:
		return g, nil
	}
	return "", fmt.Errorf("unknown grouping %q", s)
}

func (g Grouping) keyOf(row Row) string {
	switch g {
	case GroupByDocument:
		return row.DocumentID
	case GroupByTag:
		if row.Tag == nil {
			return ""
		}
		return row.Tag.DefinitionPath
	default:
		return row.Phrase
	}
}

// Group is one named bucket of a GroupedQueryResultSet.
type Group struct {
	Key    string
	Result *QueryResult
}

// GroupedQueryResultSet partitions a result. It is built once and not
// modified afterwards.
type GroupedQueryResultSet struct {
	grouping Grouping
	groups   map[string]*QueryResult
	keys     []string
}

// GroupBy partitions r by g.
func (r *QueryResult) GroupBy(g Grouping) *GroupedQueryResultSet {
	set := &GroupedQueryResultSet{grouping: g, groups: make(map[string]*QueryResult)}
	for k, row := range r.rows {
		name := g.keyOf(row)
		grp, ok := set.groups[name]
		if !ok {
			grp = Empty()
			set.groups[name] = grp
			set.keys = append(set.keys, name)
		}
		grp.rows[k] = row
	}
	slices.Sort(set.keys)
	return set
}

func (s *GroupedQueryResultSet) Grouping() Grouping {
	return s.grouping
}

// Groups returns the groups ordered by key.
func (s *GroupedQueryResultSet) Groups() []Group {
	out := make([]Group, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, Group{Key: k, Result: s.groups[k]})
	}
	return out
}

// Get returns the group named key.
func (s *GroupedQueryResultSet) Get(key string) (*QueryResult, bool) {
	r, ok := s.groups[key]
	return r, ok
}

// Counts returns the number of rows per group.
func (s *GroupedQueryResultSet) Counts() map[string]int {
	out := make(map[string]int, len(s.groups))
	for k, r := range s.groups {
		out[k] = r.Len()
	}
	return out
}
