// Package parser turns query text into a parse tree.
//
// The grammar, informally:
//
//	query      := structural ((';')? 'where' refinement)?
//	structural := term (op term)*            op: '|' union, ',' colloc,
//	                                             '-' exclusion, '&' adjacency
//	colloc     := term ',' term (',' INT)?
//	term       := phrase | selector | '(' query ')'
//	selector   := 'tag' '=' phrase
//	            | 'property' '=' phrase ('=' phrase)?
//	            | 'reg' '=' phrase 'CI'?
//	            | 'wild' '=' phrase
//	            | 'freq' ('=' | '!=') INT ('-' INT)?
//	            | 'simil' '=' phrase INT '%'
//	refinement := and ('|' and)*
//	and        := refTerm ('&' refTerm)*
//	refTerm    := selector | phrase | '(' refinement ')'
//
// Structural operators share one precedence level and associate to the
// left. Parsing stops at the first error, reported as a *QueryError.
package parser

import "fmt"

const (
	keywordTag      = "tag"
	keywordProperty = "property"
	keywordReg      = "reg"
	keywordWild     = "wild"
	keywordFreq     = "freq"
	keywordSimil    = "simil"
	keywordWhere    = "where"
	keywordCI       = "CI"
)

type parser struct {
	input  []rune
	tokens []Token
	pos    int
}

// Parse parses query text into a Tree.
func Parse(text string) (*Tree, error) {
	input := []rune(text)
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{input: input, tokens: tokens}
	root, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, p.unexpected(tok, "expected end of query")
	}
	return &Tree{Input: text, Root: root}, nil
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(offset int) Token {
	i := p.pos + offset
	if i >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[i]
}

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Kind != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	tok := p.peek()
	if tok.Kind != kind {
		return Token{}, p.unexpected(tok, fmt.Sprintf("expected %s", kind))
	}
	return p.next(), nil
}

func (p *parser) isKeyword(tok Token, kw string) bool {
	return tok.Kind == TokenIdent && tok.Text == kw
}

func (p *parser) unexpected(tok Token, reason string) *QueryError {
	if tok.Kind == TokenEOF {
		return newError(p.input, tok.Pos, reason+", found end of input")
	}
	return newError(p.input, tok.Pos, fmt.Sprintf("%s, found %q", reason, tok.Text))
}

func (p *parser) parseQuery() (*Node, error) {
	start := p.peek().Pos
	structural, err := p.parseStructural()
	if err != nil {
		return nil, err
	}
	node := &Node{Kind: NodeQuery, Pos: start, Children: []*Node{structural}}

	tok := p.peek()
	if tok.Kind == TokenSemi {
		p.next()
		where := p.peek()
		if !p.isKeyword(where, keywordWhere) {
			return nil, p.unexpected(where, "expected 'where'")
		}
	}
	if where := p.peek(); p.isKeyword(where, keywordWhere) {
		p.next()
		expr, err := p.parseOrRefinement()
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, &Node{Kind: NodeRefinement, Pos: where.Pos, Children: []*Node{expr}})
	}
	return node, nil
}

var structuralOps = map[TokenKind]NodeKind{
	TokenPipe:  NodeUnion,
	TokenComma: NodeColloc,
	TokenMinus: NodeExclusion,
	TokenAmp:   NodeAdjacency,
}

func (p *parser) parseStructural() (*Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		kind, ok := structuralOps[op.Kind]
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		node := &Node{Kind: kind, Pos: left.Pos, Tokens: []Token{op}, Children: []*Node{left, right}}
		if kind == NodeColloc && p.peek().Kind == TokenComma && p.peekAt(1).Kind == TokenInt {
			p.next()
			node.Tokens = append(node.Tokens, p.next())
		}
		left = node
	}
}

func (p *parser) parseTerm() (*Node, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokenPhrase:
		p.next()
		return &Node{Kind: NodePhrase, Pos: tok.Pos, Tokens: []Token{tok}}, nil
	case TokenLParen:
		p.next()
		inner, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return &Node{Kind: NodeSubquery, Pos: tok.Pos, Children: []*Node{inner}}, nil
	case TokenIdent:
		return p.parseSelector()
	default:
		return nil, p.unexpected(tok, "expected phrase, selector or '('")
	}
}

func (p *parser) parseSelector() (*Node, error) {
	kw := p.next()
	switch kw.Text {
	case keywordTag:
		return p.parsePhraseSelector(NodeTag, kw)
	case keywordWild:
		return p.parsePhraseSelector(NodeWild, kw)
	case keywordProperty:
		node, err := p.parsePhraseSelector(NodeProperty, kw)
		if err != nil {
			return nil, err
		}
		if p.peek().Kind == TokenEq && p.peekAt(1).Kind == TokenPhrase {
			p.next()
			node.Tokens = append(node.Tokens, p.next())
		} else if p.peek().Kind == TokenEq {
			p.next()
			return nil, p.unexpected(p.peek(), "expected property value phrase")
		}
		return node, nil
	case keywordReg:
		node, err := p.parsePhraseSelector(NodeReg, kw)
		if err != nil {
			return nil, err
		}
		if p.isKeyword(p.peek(), keywordCI) {
			node.Tokens = append(node.Tokens, p.next())
		}
		return node, nil
	case keywordFreq:
		return p.parseFreq(kw)
	case keywordSimil:
		node, err := p.parsePhraseSelector(NodeSimil, kw)
		if err != nil {
			return nil, err
		}
		grade, err := p.expect(TokenInt)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenPercent); err != nil {
			return nil, err
		}
		node.Tokens = append(node.Tokens, grade)
		return node, nil
	default:
		return nil, newError(p.input, kw.Pos, fmt.Sprintf("unknown selector %q", kw.Text))
	}
}

// parsePhraseSelector reads "= phrase" after a selector keyword.
func (p *parser) parsePhraseSelector(kind NodeKind, kw Token) (*Node, error) {
	if _, err := p.expect(TokenEq); err != nil {
		return nil, err
	}
	phrase, err := p.expect(TokenPhrase)
	if err != nil {
		return nil, err
	}
	return &Node{Kind: kind, Pos: kw.Pos, Tokens: []Token{phrase}}, nil
}

func (p *parser) parseFreq(kw Token) (*Node, error) {
	op := p.peek()
	if op.Kind != TokenEq && op.Kind != TokenNotEq {
		return nil, p.unexpected(op, "expected '=' or '!='")
	}
	p.next()
	low, err := p.expect(TokenInt)
	if err != nil {
		return nil, err
	}
	node := &Node{Kind: NodeFreq, Pos: kw.Pos, Tokens: []Token{op, low}}
	// "freq=2-4" is a range, "freq=2 - x" an exclusion.
	if p.peek().Kind == TokenMinus && p.peekAt(1).Kind == TokenInt {
		p.next()
		node.Tokens = append(node.Tokens, p.next())
	}
	return node, nil
}

func (p *parser) parseOrRefinement() (*Node, error) {
	left, err := p.parseAndRefinement()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokenPipe {
		op := p.next()
		right, err := p.parseAndRefinement()
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: NodeOrRefinement, Pos: left.Pos, Tokens: []Token{op}, Children: []*Node{left, right}}
	}
	return left, nil
}

func (p *parser) parseAndRefinement() (*Node, error) {
	left, err := p.parseRefinementTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokenAmp {
		op := p.next()
		right, err := p.parseRefinementTerm()
		if err != nil {
			return nil, err
		}
		left = &Node{Kind: NodeAndRefinement, Pos: left.Pos, Tokens: []Token{op}, Children: []*Node{left, right}}
	}
	return left, nil
}

func (p *parser) parseRefinementTerm() (*Node, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokenPhrase:
		p.next()
		return &Node{Kind: NodePhrase, Pos: tok.Pos, Tokens: []Token{tok}}, nil
	case TokenIdent:
		return p.parseSelector()
	case TokenLParen:
		p.next()
		inner, err := p.parseOrRefinement()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return nil, p.unexpected(tok, "expected selector, phrase or '(' in refinement")
	}
}
