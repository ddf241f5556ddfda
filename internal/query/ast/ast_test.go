package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/parser"
)

func TestBuildVariants(t *testing.T) {
	cases := []struct {
		query string
		want  Query
	}{
		{`"rose"`, Phrase{Text: "rose"}},
		{`tag="/Actor/%"`, Tag{Name: "/Actor/%"}},
		{`property="age"`, Property{Name: "age"}},
		{`property="age"="12"`, Property{Name: "age", Value: "12", HasValue: true}},
		{`reg="ab+c" CI`, Reg{Pattern: "ab+c", CaseInsensitive: true}},
		{`wild="r_s%"`, Wild{Pattern: "r_s%"}},
		{`freq=3`, Freq{Comparator: Equal, Low: 3}},
		{`freq=2-4`, Freq{Comparator: Equal, Low: 2, High: 4, HasHigh: true}},
		{`freq!=3`, Freq{Comparator: NotEqual, Low: 3}},
		{`simil="rose" 80%`, Simil{Phrase: "rose", Grade: 80}},
		{`"a" | "b"`, Union{Left: Phrase{Text: "a"}, Right: Phrase{Text: "b"}}},
		{`"a" - "b"`, Exclusion{Left: Phrase{Text: "a"}, Right: Phrase{Text: "b"}}},
		{`"a" & "b"`, Adjacency{Left: Phrase{Text: "a"}, Right: Phrase{Text: "b"}}},
		{`"a", "b"`, Colloc{Left: Phrase{Text: "a"}, Right: Phrase{Text: "b"}}},
		{`"a", "b", 7`, Colloc{Left: Phrase{Text: "a"}, Right: Phrase{Text: "b"}, Window: 7, HasWindow: true}},
		{`("a")`, Phrase{Text: "a"}},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			plan, err := Parse(tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.want, plan.Root)
			assert.Nil(t, plan.Refinement)
			assert.Equal(t, tc.query, plan.RawQuery)
		})
	}
}

func TestBuildRefinements(t *testing.T) {
	plan, err := Parse(`"rose" where tag="Flower" & "rose" | property="colour"`)
	require.NoError(t, err)
	assert.Equal(t, Phrase{Text: "rose"}, plan.Root)
	assert.Equal(t, OrRefinement{
		Left: AndRefinement{
			Left:  SelectorRefinement{Query: Tag{Name: "Flower"}},
			Right: SelectorRefinement{Query: Phrase{Text: "rose"}},
		},
		Right: SelectorRefinement{Query: Property{Name: "colour"}},
	}, plan.Refinement)
}

func TestBuildSubqueryKeepsRefinement(t *testing.T) {
	plan, err := Parse(`("a" where tag="T") | "b"`)
	require.NoError(t, err)
	union, ok := plan.Root.(Union)
	require.True(t, ok)
	sub, ok := union.Left.(Subquery)
	require.True(t, ok)
	assert.Equal(t, Phrase{Text: "a"}, sub.Plan.Root)
	assert.Equal(t, SelectorRefinement{Query: Tag{Name: "T"}}, sub.Plan.Refinement)
	assert.Equal(t, "subquery", sub.Kind())
}

func TestBuildSemanticErrors(t *testing.T) {
	cases := []struct {
		query string
		index int
	}{
		{`simil="rose" 101%`, 13},
		{`freq=5-2`, 7},
		{`reg="(ab"`, 4},
		{`tag=""`, 4},
		{`freq=99999999999999999999999`, 5},
		{`"a" where reg="[" CI`, 14},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			_, err := Parse(tc.query)
			require.Error(t, err)
			var qe *parser.QueryError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tc.index, qe.CharacterIndex)
		})
	}
}

func TestFreqMatches(t *testing.T) {
	assert.True(t, Freq{Low: 3}.Matches(3))
	assert.False(t, Freq{Low: 3}.Matches(2))
	assert.True(t, Freq{Low: 2, High: 4, HasHigh: true}.Matches(3))
	assert.False(t, Freq{Low: 2, High: 4, HasHigh: true}.Matches(5))
	assert.False(t, Freq{Comparator: NotEqual, Low: 3}.Matches(3))
	assert.True(t, Freq{Comparator: NotEqual, Low: 3}.Matches(4))
	assert.True(t, Freq{Comparator: NotEqual, Low: 2, High: 4, HasHigh: true}.Matches(1))
}

func TestFormatIsCanonical(t *testing.T) {
	a, err := Parse(`"a"|"b"  ,  "c",3 ; where (tag="T" | "x") & freq != 2`)
	require.NoError(t, err)
	b, err := Parse(`("a" | "b"), "c", 3 where (tag="T" | "x") & freq!=2`)
	require.NoError(t, err)
	assert.Equal(t, Format(a), Format(b))
	assert.Equal(t, `(("a" | "b"), "c", 3) where ((tag="T" | "x") & freq!=2)`, Format(a))

	again, err := Parse(Format(a))
	require.NoError(t, err)
	assert.Equal(t, Format(a), Format(again))
}

func TestFormatEscapesQuotes(t *testing.T) {
	plan, err := Parse(`"say \"hi\"" | reg="a.c" CI | simil="x" 50% | wild="a%" | property="p"="v" | freq=1-2`)
	require.NoError(t, err)
	again, err := Parse(Format(plan))
	require.NoError(t, err)
	assert.Equal(t, plan.Root, again.Root)
}

func TestBackslashEscapes(t *testing.T) {
	plan, err := Parse(`"a\\b" | tag="x\\y" | reg="a\\d"`)
	require.NoError(t, err)
	outer := plan.Root.(Union)
	inner := outer.Left.(Union)
	assert.Equal(t, Phrase{Text: `a\b`}, inner.Left)
	assert.Equal(t, Tag{Name: `x\y`}, inner.Right)
	assert.Equal(t, Reg{Pattern: `a\\d`}, outer.Right)

	re, err := CompileReg(outer.Right.(Reg))
	require.NoError(t, err)
	ok, err := re.MatchString(`a\d`)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, `(("a\\b" | tag="x\\y") | reg="a\\d")`, Format(plan))
	again, err := Parse(Format(plan))
	require.NoError(t, err)
	assert.Equal(t, plan.Root, again.Root)
}

func TestCompileWild(t *testing.T) {
	re, err := CompileWild(Wild{Pattern: "r_s%"})
	require.NoError(t, err)
	for s, want := range map[string]bool{"rose": true, "rise": true, "rs": false, "arose": false, "r.s": true} {
		ok, err := re.MatchString(s)
		require.NoError(t, err)
		assert.Equal(t, want, ok, s)
	}

	re, err = CompileWild(Wild{Pattern: "a.b"})
	require.NoError(t, err)
	ok, err := re.MatchString("axb")
	require.NoError(t, err)
	assert.False(t, ok, "dots are literal")
}

func TestKinds(t *testing.T) {
	plan, err := Parse(`("a" where tag="T") | "b", "c" where freq=1`)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"colloc", "union", "subquery", "phrase", "tag", "phrase", "phrase", "freq"},
		Kinds(plan))
	assert.Nil(t, Kinds(nil))
}
