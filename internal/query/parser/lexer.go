package parser

import (
	"fmt"
	"unicode"
)

// TokenKind classifies a lexical unit of the query language.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenPhrase
	TokenInt
	TokenIdent
	TokenPipe     // |
	TokenComma    // ,
	TokenMinus    // -
	TokenAmp      // &
	TokenLParen   // (
	TokenRParen   // )
	TokenSemi     // ;
	TokenEq       // =
	TokenNotEq    // !=
	TokenPercent  // %
)

var tokenNames = map[TokenKind]string{
	TokenEOF:     "end of input",
	TokenPhrase:  "phrase",
	TokenInt:     "number",
	TokenIdent:   "keyword",
	TokenPipe:    "'|'",
	TokenComma:   "','",
	TokenMinus:   "'-'",
	TokenAmp:     "'&'",
	TokenLParen:  "'('",
	TokenRParen:  "')'",
	TokenSemi:    "';'",
	TokenEq:      "'='",
	TokenNotEq:   "'!='",
	TokenPercent: "'%'",
}

func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token is a lexical unit. Pos is the rune index of its first character.
// For phrases Text holds the unquoted literal.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

var punctuation = map[rune]TokenKind{
	'|': TokenPipe,
	',': TokenComma,
	'-': TokenMinus,
	'&': TokenAmp,
	'(': TokenLParen,
	')': TokenRParen,
	';': TokenSemi,
	'=': TokenEq,
	'%': TokenPercent,
}

// lex splits the input into tokens, always ending with TokenEOF positioned
// at the rune length of the input.
func lex(input []rune) ([]Token, error) {
	tokens := make([]Token, 0, len(input)/2+1)
	for pos := 0; pos < len(input); {
		c := input[pos]
		switch {
		case unicode.IsSpace(c):
			pos++
		case c == '"':
			tok, next, err := lexPhrase(input, pos)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			pos = next
		case c == '!':
			if pos+1 < len(input) && input[pos+1] == '=' {
				tokens = append(tokens, Token{Kind: TokenNotEq, Text: "!=", Pos: pos})
				pos += 2
				continue
			}
			return nil, newError(input, pos, "expected '=' after '!'")
		case isDigit(c):
			start := pos
			for pos < len(input) && isDigit(input[pos]) {
				pos++
			}
			tokens = append(tokens, Token{Kind: TokenInt, Text: string(input[start:pos]), Pos: start})
		case unicode.IsLetter(c):
			start := pos
			for pos < len(input) && (unicode.IsLetter(input[pos]) || isDigit(input[pos])) {
				pos++
			}
			tokens = append(tokens, Token{Kind: TokenIdent, Text: string(input[start:pos]), Pos: start})
		default:
			kind, ok := punctuation[c]
			if !ok {
				return nil, newError(input, pos, fmt.Sprintf("unexpected character %q", c))
			}
			tokens = append(tokens, Token{Kind: kind, Text: string(c), Pos: pos})
			pos++
		}
	}
	tokens = append(tokens, Token{Kind: TokenEOF, Pos: len(input)})
	return tokens, nil
}

// lexPhrase reads a double-quoted literal starting at start. A backslash
// escapes a double quote. A doubled backslash is kept doubled: reg= patterns
// need it to match a literal backslash, and every other literal is
// unescaped when the query is built.
func lexPhrase(input []rune, start int) (Token, int, error) {
	var text []rune
	for pos := start + 1; pos < len(input); pos++ {
		c := input[pos]
		switch {
		case c == '\\' && pos+1 < len(input) && input[pos+1] == '"':
			text = append(text, '"')
			pos++
		case c == '\\' && pos+1 < len(input) && input[pos+1] == '\\':
			text = append(text, '\\', '\\')
			pos++
		case c == '"':
			return Token{Kind: TokenPhrase, Text: string(text), Pos: start}, pos + 1, nil
		default:
			text = append(text, c)
		}
	}
	return Token{}, 0, newError(input, start, "unterminated phrase")
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
