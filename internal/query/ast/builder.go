package ast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/parser"
)

// Build converts a parse tree into a QueryPlan. It fails with a
// *parser.QueryError when a construct is well formed but meaningless, such
// as a similarity grade above 100 or a regular expression that does not
// compile.
func Build(tree *parser.Tree) (*QueryPlan, error) {
	b := &builder{input: tree.Input}
	plan, err := b.plan(tree.Root)
	if err != nil {
		return nil, err
	}
	plan.RawQuery = tree.Input
	return plan, nil
}

// Parse parses and builds in one step.
func Parse(text string) (*QueryPlan, error) {
	tree, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	return Build(tree)
}

type builder struct {
	input string
}

func (b *builder) fail(pos int, format string, args ...any) error {
	return parser.NewQueryError(b.input, pos, fmt.Sprintf(format, args...))
}

func (b *builder) plan(n *parser.Node) (*QueryPlan, error) {
	if n.Kind != parser.NodeQuery || len(n.Children) == 0 {
		return nil, b.fail(n.Pos, "malformed query node %s", n.Kind)
	}
	root, err := b.query(n.Children[0])
	if err != nil {
		return nil, err
	}
	plan := &QueryPlan{Root: root}
	if len(n.Children) > 1 {
		where := n.Children[1]
		ref, err := b.refinement(where.Children[0])
		if err != nil {
			return nil, err
		}
		plan.Refinement = ref
	}
	return plan, nil
}

func (b *builder) query(n *parser.Node) (Query, error) {
	switch n.Kind {
	case parser.NodePhrase:
		return Phrase{Text: literal(n.Tokens[0])}, nil
	case parser.NodeTag:
		name := n.Tokens[0]
		if name.Text == "" {
			return nil, b.fail(name.Pos, "tag name must not be empty")
		}
		return Tag{Name: literal(name)}, nil
	case parser.NodeProperty:
		q := Property{Name: literal(n.Tokens[0])}
		if len(n.Tokens) > 1 {
			q.Value = literal(n.Tokens[1])
			q.HasValue = true
		}
		return q, nil
	case parser.NodeReg:
		q := Reg{Pattern: n.Tokens[0].Text, CaseInsensitive: len(n.Tokens) > 1}
		if _, err := CompileReg(q); err != nil {
			return nil, b.fail(n.Tokens[0].Pos, "invalid regular expression: %v", err)
		}
		return q, nil
	case parser.NodeWild:
		return Wild{Pattern: literal(n.Tokens[0])}, nil
	case parser.NodeFreq:
		return b.freq(n)
	case parser.NodeSimil:
		grade, err := b.integer(n.Tokens[1])
		if err != nil {
			return nil, err
		}
		if grade > 100 {
			return nil, b.fail(n.Tokens[1].Pos, "similarity grade %d exceeds 100%%", grade)
		}
		return Simil{Phrase: literal(n.Tokens[0]), Grade: grade}, nil
	case parser.NodeUnion, parser.NodeExclusion, parser.NodeAdjacency, parser.NodeColloc:
		return b.binary(n)
	case parser.NodeSubquery:
		plan, err := b.plan(n.Children[0])
		if err != nil {
			return nil, err
		}
		if plan.Refinement == nil {
			return plan.Root, nil
		}
		return Subquery{Plan: plan}, nil
	default:
		return nil, b.fail(n.Pos, "unexpected %s node in query", n.Kind)
	}
}

func (b *builder) binary(n *parser.Node) (Query, error) {
	left, err := b.query(n.Children[0])
	if err != nil {
		return nil, err
	}
	right, err := b.query(n.Children[1])
	if err != nil {
		return nil, err
	}
	switch n.Kind {
	case parser.NodeUnion:
		return Union{Left: left, Right: right}, nil
	case parser.NodeExclusion:
		return Exclusion{Left: left, Right: right}, nil
	case parser.NodeAdjacency:
		return Adjacency{Left: left, Right: right}, nil
	default:
		q := Colloc{Left: left, Right: right}
		if len(n.Tokens) > 1 {
			window, err := b.integer(n.Tokens[1])
			if err != nil {
				return nil, err
			}
			q.Window = window
			q.HasWindow = true
		}
		return q, nil
	}
}

func (b *builder) freq(n *parser.Node) (Query, error) {
	q := Freq{Comparator: Equal}
	if n.Tokens[0].Kind == parser.TokenNotEq {
		q.Comparator = NotEqual
	}
	low, err := b.integer(n.Tokens[1])
	if err != nil {
		return nil, err
	}
	q.Low = low
	if len(n.Tokens) > 2 {
		high, err := b.integer(n.Tokens[2])
		if err != nil {
			return nil, err
		}
		if high < low {
			return nil, b.fail(n.Tokens[2].Pos, "upper frequency bound %d is below lower bound %d", high, low)
		}
		q.High = high
		q.HasHigh = true
	}
	return q, nil
}

// literal unescapes a doubled backslash in a quoted phrase. Regular
// expressions keep it so they can match a literal backslash.
func literal(tok parser.Token) string {
	return strings.ReplaceAll(tok.Text, `\\`, `\`)
}

func (b *builder) integer(tok parser.Token) (int, error) {
	v, err := strconv.Atoi(tok.Text)
	if err != nil {
		return 0, b.fail(tok.Pos, "number %s out of range", tok.Text)
	}
	return v, nil
}

func (b *builder) refinement(n *parser.Node) (Refinement, error) {
	switch n.Kind {
	case parser.NodeAndRefinement, parser.NodeOrRefinement:
		left, err := b.refinement(n.Children[0])
		if err != nil {
			return nil, err
		}
		right, err := b.refinement(n.Children[1])
		if err != nil {
			return nil, err
		}
		if n.Kind == parser.NodeAndRefinement {
			return AndRefinement{Left: left, Right: right}, nil
		}
		return OrRefinement{Left: left, Right: right}, nil
	default:
		q, err := b.query(n)
		if err != nil {
			return nil, err
		}
		return SelectorRefinement{Query: q}, nil
	}
}

// CompileReg compiles a Reg query into an anchored full-term matcher.
func CompileReg(q Reg) (*regexp2.Regexp, error) {
	opts := regexp2.None
	if q.CaseInsensitive {
		opts |= regexp2.IgnoreCase
	}
	return regexp2.Compile(`^(?:`+q.Pattern+`)$`, opts)
}

// CompileWild compiles a Wild pattern into an anchored matcher.
func CompileWild(q Wild) (*regexp2.Regexp, error) {
	var expr []rune
	for _, r := range q.Pattern {
		switch r {
		case '%':
			expr = append(expr, '.', '*')
		case '_':
			expr = append(expr, '.')
		default:
			expr = append(expr, []rune(regexp2.Escape(string(r)))...)
		}
	}
	return regexp2.Compile(`^`+string(expr)+`$`, regexp2.Singleline)
}
