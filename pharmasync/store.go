package pharmasync

import (
	"context"
	"time"

	"github.com/Gouzman/PharmaGo/models"
)

// Store is the persistence surface the worker needs. The production
// implementation is GormStore; tests substitute an in-memory fake.
type Store interface {
	GetPharmacies(ctx context.Context) ([]*models.Pharmacy, error)
	UpsertPharmacy(ctx context.Context, p *models.Pharmacy) (created bool, err error)
	UpdateGuardStatus(ctx context.Context, id string, isGuard bool, phone string, updatedAt time.Time) error
	UpdateConfidenceScore(ctx context.Context, id string, score int, updatedAt time.Time) error

	AppendHistory(ctx context.Context, h *models.PharmacyHistory) error
	CountHistories(ctx context.Context) (map[string]int, error)

	CreateRun(ctx context.Context, triggeredBy string) (*models.SyncRun, error)
	FinishRun(ctx context.Context, run *models.SyncRun, status string, statsJSON []byte, recordsSynced, errorCount int, errorMessage string) error
	CreateIssue(ctx context.Context, issue *models.SyncIssue) error
}

// GormStore routes every call to the model layer on the shared connection.
type GormStore struct{}

func (GormStore) GetPharmacies(ctx context.Context) ([]*models.Pharmacy, error) {
	return models.GetPharmacies(ctx)
}

func (GormStore) UpsertPharmacy(ctx context.Context, p *models.Pharmacy) (bool, error) {
	return models.UpsertPharmacy(ctx, p)
}

func (GormStore) UpdateGuardStatus(ctx context.Context, id string, isGuard bool, phone string, updatedAt time.Time) error {
	return models.UpdateGuardStatus(ctx, id, isGuard, phone, updatedAt)
}

func (GormStore) UpdateConfidenceScore(ctx context.Context, id string, score int, updatedAt time.Time) error {
	return models.UpdateConfidenceScore(ctx, id, score, updatedAt)
}

func (GormStore) AppendHistory(ctx context.Context, h *models.PharmacyHistory) error {
	return models.CreatePharmacyHistory(ctx, h)
}

func (GormStore) CountHistories(ctx context.Context) (map[string]int, error) {
	return models.CountPharmacyHistories(ctx)
}

func (GormStore) CreateRun(ctx context.Context, triggeredBy string) (*models.SyncRun, error) {
	return models.CreateSyncRun(ctx, triggeredBy)
}

func (GormStore) FinishRun(ctx context.Context, run *models.SyncRun, status string, statsJSON []byte, recordsSynced, errorCount int, errorMessage string) error {
	return models.FinishSyncRun(ctx, run, status, statsJSON, recordsSynced, errorCount, errorMessage)
}

func (GormStore) CreateIssue(ctx context.Context, issue *models.SyncIssue) error {
	return models.CreateSyncIssue(ctx, issue)
}
