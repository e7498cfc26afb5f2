package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/metrics"
)

// Plan is a purchasable subscription tier.
type Plan struct {
	Id                  int64   `json:"id" gorm:"primaryKey"`
	Name                string  `json:"name" gorm:"size:64;uniqueIndex"`
	DailyTokenLimit     int64   `json:"daily_token_limit"`
	MonthlyRequestLimit int64   `json:"monthly_request_limit"`
	PriceUSD            float64 `json:"price_usd"`
	CreatedAt           int64   `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt           int64   `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// UserPlan links a user to an active plan.
type UserPlan struct {
	Id        int64 `json:"id" gorm:"primaryKey"`
	UserId    int64 `json:"user_id" gorm:"index"`
	PlanId    int64 `json:"plan_id"`
	Active    bool  `json:"active"`
	ExpiresAt int64 `json:"expires_at" gorm:"bigint"`
	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt int64 `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// Entitlements is the resolved limit set for one user.
type Entitlements struct {
	PlanName            string `json:"plan_name"`
	DailyTokenLimit     int64  `json:"daily_token_limit"`
	MonthlyRequestLimit int64  `json:"monthly_request_limit"`
	Unlimited           bool   `json:"unlimited"`
	SubscriptionActive  bool   `json:"subscription_active"`
}

// GetUserEntitlements resolves a user's plan limits. Admins are unlimited.
// Results are cached briefly so plan changes propagate within the cache TTL
// rather than per-request. In live environments the daily token allowance
// never resolves below the configured floor, protecting paying users from a
// misconfigured plan row.
func GetUserEntitlements(userID int64, isAdmin bool) (Entitlements, error) {
	if isAdmin {
		return Entitlements{PlanName: "admin", Unlimited: true, SubscriptionActive: true}, nil
	}

	if cached, ok := authCache.Get(planCacheKey(userID)); ok {
		return cached.(Entitlements), nil
	}

	start := time.Now()
	var row struct {
		Name                string
		DailyTokenLimit     int64
		MonthlyRequestLimit int64
	}
	err := DB.Table("user_plans").
		Select("plans.name, plans.daily_token_limit, plans.monthly_request_limit").
		Joins("JOIN plans ON plans.id = user_plans.plan_id").
		Where("user_plans.user_id = ? AND user_plans.active = ? AND (user_plans.expires_at = 0 OR user_plans.expires_at > ?)",
			userID, true, time.Now().UnixMilli()).
		Order("plans.daily_token_limit DESC").
		Limit(1).
		Scan(&row).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "select", "user_plans", err == nil)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Entitlements{}, errors.Wrapf(err, "resolve plan for user %d", userID)
	}

	ent := Entitlements{
		PlanName:            row.Name,
		DailyTokenLimit:     row.DailyTokenLimit,
		MonthlyRequestLimit: row.MonthlyRequestLimit,
		SubscriptionActive:  row.Name != "",
	}
	if ent.SubscriptionActive {
		if config.IsLiveEnv() {
			if ent.DailyTokenLimit < int64(config.LiveDailyTokenFloor) {
				ent.DailyTokenLimit = int64(config.LiveDailyTokenFloor)
			}
		} else {
			// Non-production environments run at half the paid limits.
			ent.DailyTokenLimit /= 2
			ent.MonthlyRequestLimit /= 2
		}
	}

	authCache.Set(planCacheKey(userID), ent, config.PlanCacheTTL)
	return ent, nil
}
