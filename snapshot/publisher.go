package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/models"
)

// RedisKeyLatest caches the latest rendered document for cheap reads.
const RedisKeyLatest = "pharmago:snapshot:latest"

// Uploader pushes a rendered document to external storage (CDN bucket, object
// store). Optional.
type Uploader interface {
	Upload(ctx context.Context, version int64, body []byte) error
}

type Publisher struct {
	Uploader Uploader
	Logger   *logrus.Logger
}

func NewPublisher(uploader Uploader) *Publisher {
	return &Publisher{Uploader: uploader, Logger: config.GetLogger()}
}

// Publish renders, persists and caches a new document version. The snapshot
// row is created first; its autoincrement id becomes the document version, so
// versions are monotonic across processes without coordination.
func (p *Publisher) Publish(ctx context.Context, pharmacies []*models.Pharmacy, now time.Time) (int64, error) {
	snap := &models.DataSnapshot{
		GeneratedAt:   now,
		PharmacyCount: len(pharmacies),
	}
	if err := models.CreateDataSnapshot(ctx, snap); err != nil {
		return 0, fmt.Errorf("create snapshot row: %w", err)
	}

	doc := Build(pharmacies, snap.ID, now)
	body, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}
	if err := models.UpdateDataSnapshotDocument(ctx, snap.ID, body); err != nil {
		return 0, fmt.Errorf("store snapshot document: %w", err)
	}

	// Cache refresh is best-effort; readers fall back to the table.
	if err := config.SetRedisObject(RedisKeyLatest, doc, 0); err != nil {
		config.LogWarn(p.Logger, "snapshot", "Publish", "latest-document cache not refreshed", err.Error())
	}

	if p.Uploader != nil {
		if err := p.Uploader.Upload(ctx, snap.ID, body); err != nil {
			return 0, fmt.Errorf("upload snapshot v%d: %w", snap.ID, err)
		}
	}

	p.Logger.WithFields(logrus.Fields{"version": snap.ID, "pharmacies": len(pharmacies)}).
		Info("snapshot published")
	return snap.ID, nil
}

// Latest returns the newest document, preferring the cache.
func Latest(ctx context.Context) (*Document, error) {
	var cached Document
	if ok, err := config.GetRedisObject(RedisKeyLatest, &cached); err == nil && ok {
		return &cached, nil
	}

	snap, err := models.GetLatestDataSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(snap.Document, &doc); err != nil {
		return nil, fmt.Errorf("snapshot v%d is corrupt: %w", snap.ID, err)
	}
	return &doc, nil
}
