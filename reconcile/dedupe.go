package reconcile

import (
	"fmt"

	"github.com/Gouzman/PharmaGo/models"
)

// DedupeKey is the identity key of a harvested record: normalized name plus
// coordinates rounded to 5 decimal places (~1m of precision).
func DedupeKey(name string, lat, lng float64) string {
	return fmt.Sprintf("%s_%.5f_%.5f", Normalize(name), lat, lng)
}

// Richness counts how many of {address, phone, quartier, open hours} a record
// carries (0-4). Used to pick the survivor among duplicates.
func Richness(p *models.Pharmacy) int {
	score := 0
	if p.Address != "" {
		score++
	}
	if p.Phone != "" {
		score++
	}
	if p.Quartier != "" {
		score++
	}
	if p.OpenHours() != nil {
		score++
	}
	return score
}

// Dedupe collapses harvested entries sharing a DedupeKey, keeping the richest
// entry per key and the first-seen one on ties. Output order follows first
// appearance of each key, so the result is deterministic for a given input.
// Returns the kept records and the number of duplicates dropped.
func Dedupe(entries []*models.Pharmacy) ([]*models.Pharmacy, int) {
	type slot struct {
		index    int
		richness int
	}
	seen := make(map[string]slot, len(entries))
	kept := make([]*models.Pharmacy, 0, len(entries))
	duplicates := 0

	for _, entry := range entries {
		key := DedupeKey(entry.Name, entry.Lat, entry.Lng)
		entry.DedupeKey = key

		existing, ok := seen[key]
		if !ok {
			seen[key] = slot{index: len(kept), richness: Richness(entry)}
			kept = append(kept, entry)
			continue
		}

		duplicates++
		if r := Richness(entry); r > existing.richness {
			kept[existing.index] = entry
			seen[key] = slot{index: existing.index, richness: r}
		}
	}

	return kept, duplicates
}
