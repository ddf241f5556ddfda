// Package tokenizer provides text tokenisation for the corpus index and for
// phrase queries. Case is preserved. Runs of letters and digits form word
// tokens, every other visible character is a token of its own, and
// whitespace only separates. Offsets are counted in runes.
package tokenizer

import (
	"slices"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
)

// Token is a single term and its position in the original text.
type Token struct {
	Term     string
	Position corpus.Position
}

// Tokenizer splits text according to a corpus.Tokenization.
type Tokenizer struct {
	unseparable [][]rune
	separators  map[rune]struct{}
}

// New builds a Tokenizer. Unseparable sequences are tried longest first.
func New(cfg corpus.Tokenization) *Tokenizer {
	t := &Tokenizer{separators: make(map[rune]struct{})}
	for _, seq := range cfg.UnseparableSequences {
		if seq == "" {
			continue
		}
		t.unseparable = append(t.unseparable, []rune(seq))
	}
	slices.SortStableFunc(t.unseparable, func(a, b []rune) int {
		return len(b) - len(a)
	})
	for _, r := range cfg.SeparatorChars {
		t.separators[r] = struct{}{}
	}
	return t
}

// Tokenize splits text with the default tokenization.
func Tokenize(text string) []Token {
	return New(corpus.Tokenization{}).Tokenize(text)
}

// Tokenize breaks text into Tokens with sequential token offsets.
func (t *Tokenizer) Tokenize(text string) []Token {
	runes := []rune(text)
	tokens := make([]Token, 0, len(runes)/5+1)
	emit := func(start, end int) {
		tokens = append(tokens, Token{
			Term: string(runes[start:end]),
			Position: corpus.Position{
				CharStart:   start,
				CharEnd:     end,
				TokenOffset: len(tokens),
			},
		})
	}

	for pos := 0; pos < len(runes); {
		if n := t.unseparableAt(runes, pos); n > 0 {
			emit(pos, pos+n)
			pos += n
			continue
		}
		r := runes[pos]
		switch {
		case unicode.IsSpace(r):
			pos++
		case t.isSeparator(r) || !isWordRune(r):
			emit(pos, pos+1)
			pos++
		default:
			end := pos + 1
			for end < len(runes) {
				if isWordRune(runes[end]) && !t.isSeparator(runes[end]) {
					end++
					continue
				}
				if isJoiner(runes[end]) && !t.isSeparator(runes[end]) &&
					end+1 < len(runes) && isWordRune(runes[end+1]) && !t.isSeparator(runes[end+1]) {
					end += 2
					continue
				}
				break
			}
			emit(pos, end)
			pos = end
		}
	}
	return tokens
}

// Terms returns only the token texts.
func (t *Tokenizer) Terms(text string) []string {
	toks := t.Tokenize(text)
	terms := make([]string, len(toks))
	for i, tok := range toks {
		terms[i] = tok.Term
	}
	return terms
}

func (t *Tokenizer) unseparableAt(runes []rune, pos int) int {
	for _, seq := range t.unseparable {
		if pos+len(seq) <= len(runes) && slices.Equal(runes[pos:pos+len(seq)], seq) {
			return len(seq)
		}
	}
	return 0
}

func (t *Tokenizer) isSeparator(r rune) bool {
	_, ok := t.separators[r]
	return ok
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// isJoiner reports runes that stay inside a word when a word rune follows,
// as in "don't" or "well-known".
func isJoiner(r rune) bool {
	return strings.ContainsRune("'’-_", r)
}
