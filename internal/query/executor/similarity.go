package executor

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
)

// SimilarityFunc scores two strings between 0 (unrelated) and 1 (equal).
// Characters are runes, so accented and non-Latin terms score like ASCII.
type SimilarityFunc func(a, b string) float64

// JaroWinkler is the default similarity for simil queries.
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1
	}
	// float32 scores are rounded so 0.9 still meets a 90% grade.
	return math.Round(float64(edlib.JaroWinklerSimilarity(a, b))*1e6) / 1e6
}

// Levenshtein is one minus the edit distance normalised by the longer
// string's length.
func Levenshtein(a, b string) float64 {
	return normalised(a, b, edlib.LevenshteinDistance)
}

// DamerauLevenshtein is Levenshtein with an adjacent transposition counted
// as one edit, so "rsoe" is as close to "rose" as "rise" is.
func DamerauLevenshtein(a, b string) float64 {
	return normalised(a, b, edlib.OSADamerauLevenshteinDistance)
}

func normalised(a, b string, distance func(a, b string) int) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	d := distance(a, b)
	return 1 - float64(min(d, longest))/float64(longest)
}

// SimilarityByName resolves a configured similarity function.
func SimilarityByName(name string) (SimilarityFunc, error) {
	switch name {
	case "", "jaro-winkler":
		return JaroWinkler, nil
	case "levenshtein":
		return Levenshtein, nil
	case "damerau-levenshtein":
		return DamerauLevenshtein, nil
	default:
		return nil, fmt.Errorf("unknown similarity function %q", name)
	}
}
