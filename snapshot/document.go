// Package snapshot renders and publishes the versioned output document that
// downstream consumers (mobile app, website) read instead of querying the
// canonical tables.
package snapshot

import (
	"time"

	"github.com/Gouzman/PharmaGo/models"
)

// Entry is one pharmacy as exposed to consumers.
type Entry struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Lat             float64           `json:"lat"`
	Lng             float64           `json:"lng"`
	Address         string            `json:"address"`
	Commune         string            `json:"commune"`
	Quartier        string            `json:"quartier"`
	Phone           string            `json:"phone"`
	Assurances      []string          `json:"assurances"`
	OpenHours       *models.OpenHours `json:"open_hours,omitempty"`
	IsGuard         bool              `json:"is_guard"`
	ConfidenceScore int               `json:"confidence_score"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type Document struct {
	Version       int64     `json:"version"`
	GeneratedAt   time.Time `json:"generated_at"`
	PharmacyCount int       `json:"pharmacy_count"`
	Pharmacies    []Entry   `json:"pharmacies"`
}

// Build renders the document for a fixed set of records. Input order is
// preserved; the store returns records ordered by id, so documents for the
// same data are byte-identical.
func Build(pharmacies []*models.Pharmacy, version int64, generatedAt time.Time) *Document {
	entries := make([]Entry, 0, len(pharmacies))
	for _, p := range pharmacies {
		entries = append(entries, Entry{
			ID:              p.ID,
			Name:            p.Name,
			Lat:             p.Lat,
			Lng:             p.Lng,
			Address:         p.Address,
			Commune:         p.Commune,
			Quartier:        p.Quartier,
			Phone:           p.Phone,
			Assurances:      p.Assurances(),
			OpenHours:       p.OpenHours(),
			IsGuard:         p.IsGuard,
			ConfidenceScore: p.ConfidenceScore,
			UpdatedAt:       p.UpdatedAt,
		})
	}
	return &Document{
		Version:       version,
		GeneratedAt:   generatedAt,
		PharmacyCount: len(entries),
		Pharmacies:    entries,
	}
}
