package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeOverlaps(t *testing.T) {
	a := Range{Start: 0, End: 5}
	assert.True(t, a.Overlaps(Range{Start: 4, End: 9}))
	assert.False(t, a.Overlaps(Range{Start: 5, End: 9}), "touching ranges do not overlap")
	assert.False(t, a.Overlaps(Range{Start: 3, End: 3}), "empty ranges overlap nothing")
	assert.False(t, Range{Start: 2, End: 2}.Overlaps(Range{Start: 2, End: 2}))
}

func TestRangeMergeAndCompare(t *testing.T) {
	assert.Equal(t, Range{Start: 1, End: 9}, Range{Start: 4, End: 9}.Merge(Range{Start: 1, End: 3}))
	assert.Equal(t, -1, Range{Start: 1, End: 2}.Compare(Range{Start: 1, End: 3}))
	assert.Equal(t, 1, Range{Start: 2, End: 2}.Compare(Range{Start: 1, End: 3}))
	assert.Equal(t, 0, Range{Start: 1, End: 3}.Compare(Range{Start: 1, End: 3}))
}

func TestScope(t *testing.T) {
	all := Scope{}
	assert.True(t, all.HasDocument("d1"))
	assert.True(t, all.HasCollection("c1"))

	s := Scope{DocumentIDs: []string{"d1"}, CollectionIDs: []string{"c2"}}
	assert.True(t, s.HasDocument("d1"))
	assert.False(t, s.HasDocument("d2"))
	assert.True(t, s.Admits(TagInstance{DocumentID: "d1", CollectionID: "c2"}))
	assert.False(t, s.Admits(TagInstance{DocumentID: "d1", CollectionID: "c1"}))
}

func TestMatchTagPattern(t *testing.T) {
	cases := []struct {
		pattern, name, path string
		want                bool
	}{
		{"Person", "Person", "/Actor/Person", true},
		{"person", "Person", "/Actor/Person", false},
		{"Pers%", "Person", "/Actor/Person", true},
		{"%son", "Person", "/Actor/Person", true},
		{"P%r%n", "Person", "/Actor/Person", true},
		{"/Actor/Person", "Person", "/Actor/Person", true},
		{"/Actor/%", "Person", "/Actor/Person", true},
		{"/Place/%", "Person", "/Actor/Person", false},
		{"%", "Anything", "/x", true},
		{"a%a", "a", "/a", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchTagPattern(tc.pattern, tc.name, tc.path), tc.pattern)
	}
}

func TestTagInstanceProperty(t *testing.T) {
	ti := TagInstance{Properties: []Property{{Name: "age", Values: []string{"12"}}}}
	p, ok := ti.Property("age")
	assert.True(t, ok)
	assert.Equal(t, []string{"12"}, p.Values)
	_, ok = ti.Property("gender")
	assert.False(t, ok)
}

func TestTokenizationOr(t *testing.T) {
	built := Tokenization{UnseparableSequences: []string{"e.g."}, SeparatorChars: "-"}
	assert.Equal(t, built, Tokenization{}.Or(built))

	got := Tokenization{SeparatorChars: "/"}.Or(built)
	assert.Equal(t, []string{"e.g."}, got.UnseparableSequences)
	assert.Equal(t, "/", got.SeparatorChars)

	own := Tokenization{UnseparableSequences: []string{"U.S."}}
	assert.Equal(t, []string{"U.S."}, own.Or(built).UnseparableSequences)
}
