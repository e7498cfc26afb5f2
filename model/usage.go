package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/gatewayz/gatewayz/common/metrics"
)

// UsageRecord is the immutable accounting row written after every billable
// request.
type UsageRecord struct {
	Id        int64  `json:"id" gorm:"primaryKey"`
	UserId    int64  `json:"user_id" gorm:"index"`
	RequestId string `json:"request_id" gorm:"size:36;index"`
	Model     string `json:"model" gorm:"size:128;index"`
	Provider  string `json:"provider" gorm:"size:64"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	InputCostUSD  float64 `json:"input_cost_usd"`
	OutputCostUSD float64 `json:"output_cost_usd"`
	CostUSD       float64 `json:"cost_usd"`
	PriceSource   string  `json:"price_source" gorm:"size:16"`

	IsTrial   bool  `json:"is_trial"`
	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
}

// Insert writes the usage row, retrying once on a transient failure. A
// duplicate-key error is treated as success: the row already landed.
func (u *UsageRecord) Insert() error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		start := time.Now()
		err := DB.Create(u).Error
		metrics.GlobalRecorder.RecordDBQuery(start, "insert", "usage_records", err == nil)
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		lastErr = err
	}
	return errors.Wrap(lastErr, "insert usage record")
}

// DailyTokensUsed sums today's tokens for plan-limit enforcement. Midnight
// is computed in UTC.
func DailyTokensUsed(userID int64) (int64, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour).UnixMilli()

	start := time.Now()
	var total int64
	err := DB.Model(&UsageRecord{}).
		Where("user_id = ? AND created_at >= ?", userID, midnight).
		Select("COALESCE(SUM(total_tokens), 0)").
		Scan(&total).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "select", "usage_records", err == nil)
	if err != nil {
		return 0, errors.Wrapf(err, "sum daily tokens for user %d", userID)
	}
	return total, nil
}

// MonthlyRequestsUsed counts this calendar month's billable requests, from
// the first of the month UTC.
func MonthlyRequestsUsed(userID int64) (int64, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	start := time.Now()
	var count int64
	err := DB.Model(&UsageRecord{}).
		Where("user_id = ? AND created_at >= ?", userID, monthStart).
		Count(&count).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "select", "usage_records", err == nil)
	if err != nil {
		return 0, errors.Wrapf(err, "count monthly requests for user %d", userID)
	}
	return count, nil
}
