package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/utils"
	"gorm.io/gorm"
)

// Pharmacy is the canonical, deduplicated record held by the store. Rows are
// created from geodata, enriched by the guard merge, and never deleted by the
// sync engine itself.
type Pharmacy struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	Name            string    `gorm:"size:255;not null" json:"name"`
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	Address         string    `gorm:"size:255" json:"address"`
	Commune         string    `gorm:"size:100" json:"commune"`
	Quartier        string    `gorm:"size:100" json:"quartier"`
	Phone           string    `gorm:"size:32" json:"phone"`
	AssurancesJSON  []byte    `gorm:"type:json" json:"assurances"`
	OpenHoursOpen   *string   `gorm:"size:5" json:"open_hours_open"`
	OpenHoursClose  *string   `gorm:"size:5" json:"open_hours_close"`
	IsGuard         bool      `gorm:"index" json:"is_guard"`
	ConfidenceScore int       `json:"confidence_score"`
	// normalize(name) + rounded coordinates; uniqueness within a harvest batch is
	// enforced by the deduplicator, not the schema.
	DedupeKey string    `gorm:"index;size:191" json:"dedupe_key"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenHours is the optional {open, close} pair in HH:MM local time.
type OpenHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

func (p *Pharmacy) OpenHours() *OpenHours {
	if p.OpenHoursOpen == nil || p.OpenHoursClose == nil {
		return nil
	}
	return &OpenHours{Open: *p.OpenHoursOpen, Close: *p.OpenHoursClose}
}

func (p *Pharmacy) SetOpenHours(oh *OpenHours) {
	if oh == nil {
		p.OpenHoursOpen = nil
		p.OpenHoursClose = nil
		return
	}
	open := oh.Open
	closeAt := oh.Close
	p.OpenHoursOpen = &open
	p.OpenHoursClose = &closeAt
}

func (p *Pharmacy) Assurances() []string {
	if len(p.AssurancesJSON) == 0 {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal(p.AssurancesJSON, &out); err != nil {
		return []string{}
	}
	return out
}

func (p *Pharmacy) SetAssurances(list []string) {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	p.AssurancesJSON = b
}

// GuardCandidate is an ephemeral on-duty record from the duty-roster source.
// It is matched against the canonical set each cycle and never persisted as-is.
type GuardCandidate struct {
	Name       string     `json:"name" validate:"required,min=3"`
	City       string     `json:"city" validate:"required"`
	Address    string     `json:"address"`
	Quartier   string     `json:"quartier"`
	Phone      string     `json:"phone"`
	GuardStart *time.Time `json:"guard_start"`
	GuardEnd   *time.Time `json:"guard_end"`
	Source     string     `json:"source"`
}

func GetPharmacies(ctx context.Context) ([]*Pharmacy, error) {
	db := config.GetDB()
	var results []*Pharmacy
	if err := db.WithContext(ctx).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func GetPharmacy(ctx context.Context, id string) (*Pharmacy, error) {
	db := config.GetDB()
	var result Pharmacy
	err := db.WithContext(ctx).Where("id = ?", id).Take(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

func GetGuardPharmacies(ctx context.Context) ([]*Pharmacy, error) {
	db := config.GetDB()
	var results []*Pharmacy
	if err := db.WithContext(ctx).Where("is_guard = ?", true).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func GetPharmaciesByCommune(ctx context.Context, commune string) ([]*Pharmacy, error) {
	db := config.GetDB()
	var results []*Pharmacy
	if err := db.WithContext(ctx).Where("LOWER(commune) = LOWER(?)", commune).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// UpsertPharmacy writes a harvested record. Updates never touch is_guard or
// confidence_score: those belong to the guard merge and the scorer. An empty
// incoming phone never clears an enriched one.
func UpsertPharmacy(ctx context.Context, p *Pharmacy) (bool, error) {
	db := config.GetDB()

	var existing Pharmacy
	err := db.WithContext(ctx).Where("id = ?", p.ID).Take(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
		if err := db.WithContext(ctx).Create(p).Error; err != nil {
			return false, err
		}
		return true, nil
	}

	updates := map[string]interface{}{
		"name":             p.Name,
		"lat":              p.Lat,
		"lng":              p.Lng,
		"address":          p.Address,
		"commune":          p.Commune,
		"quartier":         p.Quartier,
		"open_hours_open":  p.OpenHoursOpen,
		"open_hours_close": p.OpenHoursClose,
		"dedupe_key":       p.DedupeKey,
		"updated_at":       p.UpdatedAt,
	}
	if p.Phone != "" {
		updates["phone"] = p.Phone
	}
	if err := db.WithContext(ctx).Model(&Pharmacy{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
		return false, err
	}
	return false, nil
}

func UpdateGuardStatus(ctx context.Context, id string, isGuard bool, phone string, updatedAt time.Time) error {
	db := config.GetDB()
	updates := map[string]interface{}{
		"is_guard":   isGuard,
		"updated_at": updatedAt,
	}
	if phone != "" {
		updates["phone"] = phone
	}
	return db.WithContext(ctx).Model(&Pharmacy{}).Where("id = ?", id).Updates(updates).Error
}

func UpdateConfidenceScore(ctx context.Context, id string, score int, updatedAt time.Time) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&Pharmacy{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"confidence_score": score,
			"updated_at":       updatedAt,
		}).Error
}
