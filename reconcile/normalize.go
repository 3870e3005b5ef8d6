package reconcile

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a pharmacy name for identity comparison: lower-case,
// drop the "pharmacie"/"pharmacy" designator, keep only letters, digits and
// whitespace, collapse whitespace runs. Idempotent: applying it twice yields the
// same string, including when stripping punctuation re-forms the designator
// ("Pharma-Cie" and the like).
func Normalize(name string) string {
	s := strings.ToLower(name)
	s = stripDesignators(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	s = stripDesignators(b.String())
	return strings.Join(strings.Fields(s), " ")
}

func stripDesignators(s string) string {
	for _, word := range []string{"pharmacie", "pharmacy"} {
		for strings.Contains(s, word) {
			s = strings.ReplaceAll(s, word, "")
		}
	}
	return s
}

// Tokens splits a normalized name into its comparison words.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}

// NameSimilarity is the token-overlap ratio between two raw names:
// |common normalized tokens| / max(|tokensA|, |tokensB|). 1.0 for equal
// normalized names, 0.0 when nothing overlaps.
func NameSimilarity(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)
	if na == nb {
		return 1.0
	}

	tokensA := Tokens(na)
	tokensB := Tokens(nb)
	total := max(len(tokensA), len(tokensB))
	if total == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(tokensA))
	for _, t := range tokensA {
		setA[t] = struct{}{}
	}
	common := 0
	seen := make(map[string]struct{}, len(tokensB))
	for _, t := range tokensB {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := setA[t]; ok {
			common++
		}
	}

	return float64(common) / float64(total)
}
