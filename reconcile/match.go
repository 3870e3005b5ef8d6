package reconcile

import (
	"strings"

	"github.com/Gouzman/PharmaGo/models"
)

// SimilarityThreshold is the minimum token-overlap ratio for a fuzzy match.
const SimilarityThreshold = 0.7

type Outcome int

const (
	OutcomeUnmatched Outcome = iota
	OutcomeMatched
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unmatched"
	}
}

// MatchResult carries the single matched record, or the ambiguous candidates
// when two or more canonical records qualify equally.
type MatchResult struct {
	Outcome    Outcome
	Record     *models.Pharmacy
	Candidates []*models.Pharmacy
}

// Match resolves a roster candidate against a fixed snapshot of the canonical
// set. Exact normalized-name equality wins immediately; otherwise records with
// similarity above the threshold AND a matching commune or quartier qualify.
// Exactly one qualifier is a match. Several qualifiers are a conflict routed
// to review; the "best" score is never picked silently. None is unmatched.
func Match(candidate models.GuardCandidate, snapshot []*models.Pharmacy) MatchResult {
	normalized := Normalize(candidate.Name)

	for _, p := range snapshot {
		if Normalize(p.Name) == normalized {
			return MatchResult{Outcome: OutcomeMatched, Record: p}
		}
	}

	var qualifying []*models.Pharmacy
	for _, p := range snapshot {
		if NameSimilarity(p.Name, candidate.Name) <= SimilarityThreshold {
			continue
		}
		sameCity := strings.EqualFold(p.Commune, candidate.City)
		sameQuartier := candidate.Quartier != "" &&
			strings.Contains(strings.ToLower(p.Quartier), strings.ToLower(candidate.Quartier))
		if sameCity || sameQuartier {
			qualifying = append(qualifying, p)
		}
	}

	switch len(qualifying) {
	case 0:
		return MatchResult{Outcome: OutcomeUnmatched}
	case 1:
		return MatchResult{Outcome: OutcomeMatched, Record: qualifying[0]}
	default:
		return MatchResult{Outcome: OutcomeConflict, Candidates: qualifying}
	}
}
