package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/metrics"
)

// ModelPricing is a manual per-token price override, maintained for models
// whose gateway listing carries no usable pricing (e.g. Anthropic's native
// listing endpoint).
type ModelPricing struct {
	Id            int64   `json:"id" gorm:"primaryKey"`
	ModelId       string  `json:"model_id" gorm:"size:128;uniqueIndex"`
	PromptUSD     float64 `json:"prompt_usd"`
	CompletionUSD float64 `json:"completion_usd"`
	UpdatedAt     int64   `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// TableName keeps the singular historical table name.
func (ModelPricing) TableName() string { return "model_pricing" }

// UpsertModelPricing writes or replaces the override for a model.
func UpsertModelPricing(modelID string, promptUSD, completionUSD float64) error {
	start := time.Now()
	tx := DB.Model(&ModelPricing{}).
		Where("model_id = ?", modelID).
		Updates(map[string]any{"prompt_usd": promptUSD, "completion_usd": completionUSD})
	metrics.GlobalRecorder.RecordDBQuery(start, "update", "model_pricing", tx.Error == nil)
	if tx.Error != nil {
		return errors.Wrapf(tx.Error, "update pricing for %s", modelID)
	}
	if tx.RowsAffected > 0 {
		authCache.Delete(pricingCacheKey(modelID))
		return nil
	}

	err := DB.Create(&ModelPricing{ModelId: modelID, PromptUSD: promptUSD, CompletionUSD: completionUSD}).Error
	if err != nil {
		return errors.Wrapf(err, "insert pricing for %s", modelID)
	}
	authCache.Delete(pricingCacheKey(modelID))
	return nil
}

// PricingOverlay serves manual overrides to the catalog normalizer and the
// price resolver, with per-model caching in front of the table.
type PricingOverlay struct{}

type pricingCacheEntry struct {
	prompt     *float64
	completion *float64
}

// Override implements catalog.PricingOverlay.
func (PricingOverlay) Override(modelID string) (*float64, *float64) {
	if cached, ok := authCache.Get(pricingCacheKey(modelID)); ok {
		entry := cached.(pricingCacheEntry)
		return entry.prompt, entry.completion
	}

	start := time.Now()
	var row ModelPricing
	err := DB.First(&row, "model_id = ?", modelID).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "select", "model_pricing", err == nil)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			// Transient failure: report no override without caching the miss.
			return nil, nil
		}
		authCache.Set(pricingCacheKey(modelID), pricingCacheEntry{}, config.APIKeyCacheTTL)
		return nil, nil
	}

	entry := pricingCacheEntry{prompt: &row.PromptUSD, completion: &row.CompletionUSD}
	authCache.Set(pricingCacheKey(modelID), entry, config.APIKeyCacheTTL)
	return entry.prompt, entry.completion
}
