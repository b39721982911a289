package matching

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity returns the edit-distance similarity between two strings
// as a percentage in [0, 100]. Symmetric and reflexive. Two empty
// strings are defined as 100 to avoid division by zero.
func Similarity(a, b string) float64 {
	lenA := utf8.RuneCountInString(a)
	lenB := utf8.RuneCountInString(b)

	maxLen := lenA
	if lenB > maxLen {
		maxLen = lenB
	}
	if maxLen == 0 {
		return 100
	}

	distance := levenshtein.ComputeDistance(a, b)
	return 100 * float64(maxLen-distance) / float64(maxLen)
}
