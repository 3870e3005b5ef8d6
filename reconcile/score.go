package reconcile

import (
	"strings"

	"github.com/Gouzman/PharmaGo/models"
)

// PrimarySourcePrefix tags records harvested from the primary geodata source.
const PrimarySourcePrefix = "osm_"

// Score recomputes the confidence score of a canonical record: additive weights
// for provenance, current duty status, phone presence and history stability,
// capped at 100. Pure function of the record and its history length.
func Score(p *models.Pharmacy, historyCount int) int {
	score := 0

	if strings.HasPrefix(p.ID, PrimarySourcePrefix) {
		score += 60
	}
	if p.IsGuard {
		score += 20
	}
	if p.Phone != "" {
		score += 10
	}
	if historyCount > 3 {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}
