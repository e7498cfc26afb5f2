package model

import (
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/gatewayz/gatewayz/common/metrics"
)

// CatalogSnapshot keeps the last good raw listing per gateway so catalog
// reads survive upstream outages across restarts.
type CatalogSnapshot struct {
	Id        int64  `json:"id" gorm:"primaryKey"`
	Gateway   string `json:"gateway" gorm:"size:64;uniqueIndex"`
	Payload   []byte `json:"-" gorm:"type:blob"`
	FetchedAt int64  `json:"fetched_at" gorm:"bigint"`
	UpdatedAt int64  `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// TableName keeps the historical table name.
func (CatalogSnapshot) TableName() string { return "models_catalog" }

// SnapshotStore adapts the models_catalog table to the catalog package's
// persistence interface.
type SnapshotStore struct{}

// LoadSnapshot returns the stored payload for a gateway.
func (SnapshotStore) LoadSnapshot(gateway string) ([]byte, time.Time, error) {
	start := time.Now()
	var snap CatalogSnapshot
	err := DB.First(&snap, "gateway = ?", gateway).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "select", "models_catalog", err == nil)
	if err != nil {
		return nil, time.Time{}, errors.Wrapf(err, "load catalog snapshot for %s", gateway)
	}
	return snap.Payload, time.UnixMilli(snap.FetchedAt), nil
}

// SaveSnapshot upserts the payload for a gateway. Update-first avoids
// dialect-specific ON CONFLICT clauses.
func (SnapshotStore) SaveSnapshot(gateway string, payload []byte) error {
	now := time.Now().UnixMilli()

	start := time.Now()
	tx := DB.Model(&CatalogSnapshot{}).
		Where("gateway = ?", gateway).
		Updates(map[string]any{"payload": payload, "fetched_at": now})
	metrics.GlobalRecorder.RecordDBQuery(start, "update", "models_catalog", tx.Error == nil)
	if tx.Error != nil {
		return errors.Wrapf(tx.Error, "update catalog snapshot for %s", gateway)
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	err := DB.Create(&CatalogSnapshot{Gateway: gateway, Payload: payload, FetchedAt: now}).Error
	if err == nil {
		return nil
	}
	// Insert race: another writer created the row first, retry the update.
	if err2 := DB.Model(&CatalogSnapshot{}).
		Where("gateway = ?", gateway).
		Updates(map[string]any{"payload": payload, "fetched_at": now}).Error; err2 != nil {
		return errors.Wrapf(err2, "upsert catalog snapshot for %s", gateway)
	}
	return nil
}

// PricingSyncLog records the outcome of each catalog sync for audit.
type PricingSyncLog struct {
	Id        int64  `json:"id" gorm:"primaryKey"`
	Gateway   string `json:"gateway" gorm:"size:64;index"`
	Models    int    `json:"models"`
	Succeeded bool   `json:"succeeded"`
	Message   string `json:"message" gorm:"size:512"`
	CreatedAt int64  `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
}

// LogPricingSync appends one sync outcome; failures only log metrics.
func LogPricingSync(gateway string, models int, succeeded bool, message string) error {
	start := time.Now()
	err := DB.Create(&PricingSyncLog{
		Gateway:   gateway,
		Models:    models,
		Succeeded: succeeded,
		Message:   message,
	}).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "insert", "pricing_sync_logs", err == nil)
	return errors.Wrap(err, "insert pricing sync log")
}
