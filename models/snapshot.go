package models

import (
	"context"
	"errors"
	"time"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/utils"
	"gorm.io/gorm"
)

// DataSnapshot stores one versioned output document per cycle. The autoincrement
// id doubles as the monotonic snapshot version.
type DataSnapshot struct {
	ID            int64     `gorm:"primary_key" json:"id"`
	GeneratedAt   time.Time `json:"generated_at"`
	Document      []byte    `gorm:"type:json" json:"document"`
	PharmacyCount int       `json:"pharmacy_count"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateDataSnapshot(ctx context.Context, snap *DataSnapshot) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(snap).Error
}

// UpdateDataSnapshotDocument attaches the rendered document to a snapshot row.
// The row is created first so its id can be embedded as the document version.
func UpdateDataSnapshotDocument(ctx context.Context, id int64, document []byte) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&DataSnapshot{}).Where("id = ?", id).
		Update("document", document).Error
}

func GetLatestDataSnapshot(ctx context.Context) (*DataSnapshot, error) {
	db := config.GetDB()
	var snap DataSnapshot
	err := db.WithContext(ctx).Order("id DESC").Take(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &snap, nil
}
