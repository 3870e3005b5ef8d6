package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ChangeTypeCreated            = "created"
	ChangeTypeUpdated            = "updated"
	ChangeTypeGuardStatusChanged = "guard_status_changed"
	ChangeTypeMatchingConflict   = "matching_conflict"
	ChangeTypeUnmatchedGuard     = "unmatched_guard"
)

const (
	SourceGeodata    = "osm"
	SourceDutyRoster = "pharmacies-de-garde.ci"
	SourceCycleReset = "cycle reset"
)

// PharmacyHistory is append-only. Validation sets is_validated/validated_by/
// validated_at and nothing else; rows are never rewritten or deleted.
type PharmacyHistory struct {
	ID           string     `gorm:"primaryKey;size:64" json:"id"`
	PharmacyId   string     `gorm:"index;size:64;not null" json:"pharmacy_id"`
	ChangeType   string     `gorm:"index;size:32;not null" json:"change_type"`
	Source       string     `gorm:"size:64" json:"source"`
	FieldChanged string     `gorm:"size:64" json:"field_changed"`
	OldValue     string     `gorm:"size:255" json:"old_value"`
	NewValue     string     `gorm:"size:255" json:"new_value"`
	OldValues    []byte     `gorm:"type:json" json:"old_values"`
	NewValues    []byte     `gorm:"type:json" json:"new_values"`
	Notes        string     `gorm:"type:text" json:"notes"`
	NeedsReview  bool       `gorm:"index" json:"needs_review"`
	IsValidated  bool       `json:"is_validated"`
	ValidatedBy  string     `gorm:"size:100" json:"validated_by"`
	ValidatedAt  *time.Time `json:"validated_at"`
	ModifiedAt   time.Time  `gorm:"autoCreateTime" json:"modified_at"`
}

// SyntheticConflictId builds the placeholder subject id for conflict entries that
// have no canonical counterpart.
func SyntheticConflictId() string {
	return "conflict_" + uuid.NewString()[:8]
}

func SyntheticUnmatchedId() string {
	return "unmatched_" + uuid.NewString()[:8]
}

func CreatePharmacyHistory(ctx context.Context, h *PharmacyHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	db := config.GetDB()
	return db.WithContext(ctx).Create(h).Error
}

func GetPharmacyHistories(ctx context.Context, pharmacyId string) ([]*PharmacyHistory, error) {
	db := config.GetDB()
	var results []*PharmacyHistory
	err := db.WithContext(ctx).
		Where("pharmacy_id = ?", pharmacyId).
		Order("modified_at DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// CountPharmacyHistories returns per-subject history counts for the whole table
// in one query; the scorer uses it instead of a count query per record.
func CountPharmacyHistories(ctx context.Context) (map[string]int, error) {
	db := config.GetDB()
	var rows []struct {
		PharmacyId string
		N          int
	}
	err := db.WithContext(ctx).Model(&PharmacyHistory{}).
		Select("pharmacy_id, COUNT(*) AS n").
		Group("pharmacy_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.PharmacyId] = r.N
	}
	return counts, nil
}

func GetHistoriesNeedingReview(ctx context.Context) ([]*PharmacyHistory, error) {
	db := config.GetDB()
	var results []*PharmacyHistory
	err := db.WithContext(ctx).
		Where("needs_review = ? AND is_validated = ?", true, false).
		Order("modified_at DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ValidateHistoryEntry closes a review-queue entry. The validating actor is
// taken from the request context (utils.SetActorInContext). It only ever adds
// the validation triple; the recorded change itself is immutable.
func ValidateHistoryEntry(ctx context.Context, id string) (*PharmacyHistory, error) {
	validatedBy, ok := utils.GetActorFromContext(ctx)
	if !ok || validatedBy == "" {
		return nil, errors.New("validating actor missing from context")
	}

	db := config.GetDB()

	var entry PharmacyHistory
	err := db.WithContext(ctx).Where("id = ?", id).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	err = db.WithContext(ctx).Model(&PharmacyHistory{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_validated": true,
			"validated_by": validatedBy,
			"validated_at": now,
		}).Error
	if err != nil {
		return nil, err
	}

	entry.IsValidated = true
	entry.ValidatedBy = validatedBy
	entry.ValidatedAt = &now
	return &entry, nil
}

// MarshalPayload is a small helper for the JSON blob columns.
func MarshalPayload(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
