package parser

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
)

// QueryError reports a query that could not be parsed or built.
// CharacterIndex is the rune index of the first character of the failing
// lexical unit; input exhausted early reports the rune length of Input.
type QueryError struct {
	Input          string
	CharacterIndex int
	Reason         string
}

func newError(input []rune, index int, reason string) *QueryError {
	return &QueryError{Input: string(input), CharacterIndex: index, Reason: reason}
}

// NewQueryError builds a QueryError for a rune index of input.
func NewQueryError(input string, index int, reason string) *QueryError {
	return &QueryError{Input: input, CharacterIndex: index, Reason: reason}
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query at character %d: %s", e.CharacterIndex, e.Reason)
}

// Unwrap lets callers match any QueryError with apperrors.ErrInvalidQuery.
func (e *QueryError) Unwrap() error {
	return apperrors.ErrInvalidQuery
}

// Describe renders the error for end users, pointing at the offending
// character when the index lies inside the input.
func (e *QueryError) Describe() string {
	runes := []rune(e.Input)
	if e.CharacterIndex >= 0 && e.CharacterIndex < len(runes) {
		return fmt.Sprintf("unexpected %q at position %d: %s", runes[e.CharacterIndex], e.CharacterIndex, e.Reason)
	}
	if e.CharacterIndex == len(runes) {
		return fmt.Sprintf("query ends unexpectedly: %s", e.Reason)
	}
	return fmt.Sprintf("invalid query: %s", e.Reason)
}
