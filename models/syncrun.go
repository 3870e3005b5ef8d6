package models

import (
	"context"
	"time"

	"github.com/Gouzman/PharmaGo/config"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredSystem = "system"
)

// SyncRun is the bookkeeping row for one reconciliation cycle.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncIssue records one skipped or failed entity within a run. Unmatched and
// conflicting candidates are NOT issues; those are history entries.
type SyncIssue struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	EntityId    string    `gorm:"size:128" json:"entity_id"`
	Code        string    `gorm:"size:64" json:"code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateSyncRun(ctx context.Context, triggeredBy string) (*SyncRun, error) {
	db := config.GetDB()
	now := time.Now().UTC()
	run := SyncRun{
		Status:      SyncRunStatusRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   &now,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func FinishSyncRun(ctx context.Context, run *SyncRun, status string, statsJSON []byte, recordsSynced int, errorCount int, errorMessage string) error {
	db := config.GetDB()
	finishedAt := time.Now().UTC()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = finishedAt.Sub(*run.StartedAt).Milliseconds()
	}
	return db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":         status,
		"stats_json":     statsJSON,
		"records_synced": recordsSynced,
		"error_count":    errorCount,
		"error_message":  errorMessage,
		"finished_at":    finishedAt,
		"duration_ms":    durationMs,
	}).Error
}

func CreateSyncIssue(ctx context.Context, issue *SyncIssue) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(issue).Error
}

func GetSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	db := config.GetDB()
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var results []*SyncRun
	err := db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetSyncRun(ctx context.Context, id uint) (*SyncRun, []*SyncIssue, error) {
	db := config.GetDB()
	var run SyncRun
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		return nil, nil, err
	}
	var issues []*SyncIssue
	if err := db.WithContext(ctx).Where("sync_run_id = ?", id).Order("id").Find(&issues).Error; err != nil {
		return nil, nil, err
	}
	return &run, issues, nil
}
