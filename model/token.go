package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/metrics"
)

// API key statuses.
const (
	APIKeyStatusEnabled  = 1
	APIKeyStatusDisabled = 2
)

// ErrAPIKeyNotFound marks a key that definitively does not exist, as
// opposed to a transient lookup failure.
var ErrAPIKeyNotFound = errors.New("api key not found")

// APIKey is a gateway-issued credential. The table keeps its historical
// name from the key-format migration.
type APIKey struct {
	Id         int64  `json:"id" gorm:"primaryKey"`
	UserId     int64  `json:"user_id" gorm:"index"`
	Key        string `json:"-" gorm:"column:api_key;size:64;uniqueIndex"`
	Name       string `json:"name" gorm:"size:128"`
	Status     int    `json:"status" gorm:"default:1"`
	IsTrial    bool   `json:"is_trial"`
	LastUsedAt int64  `json:"last_used_at" gorm:"bigint"`
	CreatedAt  int64  `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt  int64  `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// TableName keeps the post-migration table name.
func (APIKey) TableName() string { return "api_keys_new" }

// ValidateAPIKey resolves a bearer key to its record. Hits are cached;
// transient lookup failures are retried with linear backoff so a database
// blip does not bounce valid traffic, while a definitive miss fails fast.
func ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	if cached, ok := authCache.Get(apiKeyCacheKey(key)); ok {
		return cached.(*APIKey), nil
	}

	var lastErr error
	for attempt := 0; attempt < config.APIKeyLookupRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "api key lookup canceled")
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		start := time.Now()
		var apiKey APIKey
		err := DB.WithContext(ctx).First(&apiKey, "api_key = ?", key).Error
		metrics.GlobalRecorder.RecordDBQuery(start, "select", "api_keys_new", err == nil)

		if err == nil {
			if apiKey.Status != APIKeyStatusEnabled {
				return nil, ErrAPIKeyNotFound
			}
			authCache.Set(apiKeyCacheKey(key), &apiKey, config.APIKeyCacheTTL)
			go touchAPIKey(apiKey.Id)
			return &apiKey, nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAPIKeyNotFound
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "api key lookup failed")
}

// InvalidateAPIKeyCache drops a key from the cache after revocation.
func InvalidateAPIKeyCache(key string) {
	authCache.Delete(apiKeyCacheKey(key))
}

// touchAPIKey updates last_used_at out of band; failures are non-fatal.
func touchAPIKey(id int64) {
	db := DB
	if db == nil {
		return
	}
	_ = db.Model(&APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now().UnixMilli()).Error
}
