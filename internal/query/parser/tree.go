package parser

import (
	"strconv"
	"strings"
)

// NodeKind identifies a parse tree node.
type NodeKind int

const (
	NodeQuery NodeKind = iota
	NodePhrase
	NodeTag
	NodeProperty
	NodeReg
	NodeWild
	NodeFreq
	NodeSimil
	NodeUnion
	NodeExclusion
	NodeAdjacency
	NodeColloc
	NodeSubquery
	NodeRefinement
	NodeAndRefinement
	NodeOrRefinement
)

var nodeNames = [...]string{
	NodeQuery:         "query",
	NodePhrase:        "phrase",
	NodeTag:           "tag",
	NodeProperty:      "property",
	NodeReg:           "reg",
	NodeWild:          "wild",
	NodeFreq:          "freq",
	NodeSimil:         "simil",
	NodeUnion:         "union",
	NodeExclusion:     "exclusion",
	NodeAdjacency:     "adjacency",
	NodeColloc:        "colloc",
	NodeSubquery:      "subquery",
	NodeRefinement:    "where",
	NodeAndRefinement: "and",
	NodeOrRefinement:  "or",
}

func (k NodeKind) String() string {
	if int(k) < len(nodeNames) {
		return nodeNames[k]
	}
	return "node(" + strconv.Itoa(int(k)) + ")"
}

// Node is an immutable parse tree node. Tokens holds the significant
// tokens of the construct (literals, numbers, operators, flags); Children
// holds nested constructs in source order.
type Node struct {
	Kind     NodeKind
	Pos      int
	Tokens   []Token
	Children []*Node
}

// Tree is the parse result for one query text.
type Tree struct {
	Input string
	Root  *Node
}

// String renders the tree as an s-expression.
func (t *Tree) String() string {
	return t.Root.String()
}

func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	b.WriteByte('(')
	b.WriteString(n.Kind.String())
	for _, tok := range n.Tokens {
		b.WriteByte(' ')
		if tok.Kind == TokenPhrase {
			b.WriteString(strconv.Quote(tok.Text))
		} else {
			b.WriteString(tok.Text)
		}
	}
	for _, c := range n.Children {
		b.WriteByte(' ')
		c.write(b)
	}
	b.WriteByte(')')
}
