package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
)

func TestParseTrees(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{`"rose"`, `(query (phrase "rose"))`},
		{`tag="Person"`, `(query (tag "Person"))`},
		{`property="age" = "12"`, `(query (property "age" "12"))`},
		{`property="age"`, `(query (property "age"))`},
		{`reg="ab+c" CI`, `(query (reg "ab+c" CI))`},
		{`wild="ro%"`, `(query (wild "ro%"))`},
		{`freq=3`, `(query (freq = 3))`},
		{`freq = 2-4`, `(query (freq = 2 4))`},
		{`freq!=3`, `(query (freq != 3))`},
		{`simil="rose" 80%`, `(query (simil "rose" 80))`},
		{`"a" | "b"`, `(query (union | (phrase "a") (phrase "b")))`},
		{`"a" - "b" & "c"`, `(query (adjacency & (exclusion - (phrase "a") (phrase "b")) (phrase "c")))`},
		{`"a", "b"`, `(query (colloc , (phrase "a") (phrase "b")))`},
		{`"a", "b", 3`, `(query (colloc , 3 (phrase "a") (phrase "b")))`},
		{`"a", "b", "c"`, `(query (colloc , (colloc , (phrase "a") (phrase "b")) (phrase "c")))`},
		{`freq=2 - "the"`, `(query (exclusion - (freq = 2) (phrase "the")))`},
		{`("a" | "b") & "c"`, `(query (adjacency & (subquery (query (union | (phrase "a") (phrase "b")))) (phrase "c")))`},
		{`"a"; where tag="T"`, `(query (phrase "a") (where (tag "T")))`},
		{`"a" where tag="T"`, `(query (phrase "a") (where (tag "T")))`},
		{`"a" where tag="T" | "x" & "y"`, `(query (phrase "a") (where (or | (tag "T") (and & (phrase "x") (phrase "y")))))`},
		{`"a" where (tag="T" | "x") & "y"`, `(query (phrase "a") (where (and & (or | (tag "T") (phrase "x")) (phrase "y"))))`},
		{`("a" where "b") | "c"`, `(query (union | (subquery (query (phrase "a") (where (phrase "b")))) (phrase "c")))`},
		{`"say \"hi\""`, `(query (phrase "say \"hi\""))`},
		{`reg="a\\d"`, `(query (reg "a\\\\d"))`},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			tree, err := Parse(tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.want, tree.String())
			assert.Equal(t, tc.query, tree.Input)
		})
	}
}

func TestParseErrorIndex(t *testing.T) {
	cases := []struct {
		query string
		index int
	}{
		{`tag=`, 4},
		{`tag="x`, 4},
		{`"rose" |`, 8},
		{`"rose" "tulip"`, 7},
		{`colour="x"`, 0},
		{`freq=x`, 5},
		{`freq>3`, 4},
		{`simil="rose" 80`, 15},
		{`simil="rose" %`, 13},
		{`"a" ; tag="x"`, 6},
		{`("a" | "b"`, 10},
		{`"a" where`, 9},
		{`"a" where & "b"`, 10},
		{`"a" # "b"`, 4},
		{`freq!3`, 4},
		{`property="a" =`, 14},
		{`"a")`, 3},
		{``, 0},
		{`"größe" |`, 9},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			_, err := Parse(tc.query)
			require.Error(t, err)
			var qe *QueryError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tc.index, qe.CharacterIndex)
			assert.Equal(t, tc.query, qe.Input)
			assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)
		})
	}
}

func TestQueryErrorDescribe(t *testing.T) {
	_, err := Parse(`"a" # "b"`)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Contains(t, qe.Describe(), `'#'`)
	assert.Contains(t, qe.Describe(), "position 4")

	_, err = Parse(`tag=`)
	require.ErrorAs(t, err, &qe)
	assert.Contains(t, qe.Describe(), "ends unexpectedly")

	qe = NewQueryError("abc", 42, "boom")
	assert.Equal(t, "invalid query: boom", qe.Describe())
}

func TestParseIsPure(t *testing.T) {
	a, err := Parse(`"a" | tag="b"`)
	require.NoError(t, err)
	b, err := Parse(`"a" | tag="b"`)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
