// Package normalize maps raw name strings to the canonical comparison
// keys used for exact-match identity. All functions are pure and
// idempotent: Name(Name(x, k), k) == Name(x, k).
package normalize

import (
	"regexp"
	"strings"

	"github.com/fieldledger/fieldledger/internal/entity"
)

var (
	personStrip = regexp.MustCompile(`[^a-z\s]`)
	vendorStrip = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// legalSuffixes are trailing legal-entity tokens stripped from vendor
// names. Matched as whole tokens after punctuation has already been
// converted to whitespace, so "Inc.", "(Inc)" and "Inc," all reduce to
// the same bare token before this set is consulted.
var legalSuffixes = map[string]bool{
	"inc":          true,
	"llc":          true,
	"corp":         true,
	"corporation":  true,
	"company":      true,
	"co":           true,
	"ltd":          true,
	"limited":      true,
	"incorporated": true,
	"lp":           true,
	"llp":          true,
}

// Name returns the canonical comparison key for a raw name. Empty and
// whitespace-only input normalizes to the empty string; callers reject
// blank names before resolution.
func Name(raw string, kind entity.Kind) string {
	s := strings.ToLower(strings.TrimSpace(raw))

	// Punctuation is stripped before suffix removal: a suffix hidden
	// behind parentheses or a comma must surface as a bare trailing
	// token, or a second normalize pass would see (and strip) what the
	// first one missed.
	strip := personStrip
	if kind == entity.KindVendor {
		strip = vendorStrip
	}
	s = strip.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if kind == entity.KindVendor {
		s = stripLegalSuffixes(s)
	}

	return s
}

func stripLegalSuffixes(s string) string {
	tokens := strings.Fields(s)
	for len(tokens) > 1 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}
