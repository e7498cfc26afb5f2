package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewayz/gatewayz/common/config"
)

func TestGetUserEntitlementsAdmin(t *testing.T) {
	setupTestDB(t)

	ent, err := GetUserEntitlements(1, true)
	require.NoError(t, err)
	assert.True(t, ent.Unlimited)
	assert.True(t, ent.SubscriptionActive)
}

func TestGetUserEntitlementsActivePlan(t *testing.T) {
	setupTestDB(t)

	plan := &Plan{Name: "pro", DailyTokenLimit: 2000000, MonthlyRequestLimit: 100000}
	require.NoError(t, DB.Create(plan).Error)
	require.NoError(t, DB.Create(&UserPlan{UserId: 10, PlanId: plan.Id, Active: true}).Error)

	ent, err := GetUserEntitlements(10, false)
	require.NoError(t, err)
	assert.Equal(t, "pro", ent.PlanName)
	assert.Equal(t, int64(2000000), ent.DailyTokenLimit)
	assert.True(t, ent.SubscriptionActive)
	assert.False(t, ent.Unlimited)
}

func TestGetUserEntitlementsExpiredPlan(t *testing.T) {
	setupTestDB(t)

	plan := &Plan{Name: "lapsed", DailyTokenLimit: 1000000}
	require.NoError(t, DB.Create(plan).Error)
	require.NoError(t, DB.Create(&UserPlan{
		UserId:    11,
		PlanId:    plan.Id,
		Active:    true,
		ExpiresAt: time.Now().Add(-time.Hour).UnixMilli(),
	}).Error)

	ent, err := GetUserEntitlements(11, false)
	require.NoError(t, err)
	assert.False(t, ent.SubscriptionActive)
	assert.Empty(t, ent.PlanName)
}

func TestGetUserEntitlementsDailyFloor(t *testing.T) {
	setupTestDB(t)

	plan := &Plan{Name: "tiny", DailyTokenLimit: 100}
	require.NoError(t, DB.Create(plan).Error)
	require.NoError(t, DB.Create(&UserPlan{UserId: 12, PlanId: plan.Id, Active: true}).Error)

	ent, err := GetUserEntitlements(12, false)
	require.NoError(t, err)
	if config.IsLiveEnv() {
		assert.Equal(t, int64(config.LiveDailyTokenFloor), ent.DailyTokenLimit)
	} else {
		// Non-live environments halve limits instead of applying the floor.
		assert.Equal(t, int64(50), ent.DailyTokenLimit)
	}
}

func TestGetUserEntitlementsCached(t *testing.T) {
	setupTestDB(t)

	plan := &Plan{Name: "cached", DailyTokenLimit: 500000}
	require.NoError(t, DB.Create(plan).Error)
	userPlan := &UserPlan{UserId: 13, PlanId: plan.Id, Active: true}
	require.NoError(t, DB.Create(userPlan).Error)

	first, err := GetUserEntitlements(13, false)
	require.NoError(t, err)
	require.True(t, first.SubscriptionActive)

	// Deactivate; the cached entitlements still serve until invalidated.
	require.NoError(t, DB.Model(userPlan).Update("active", false).Error)
	cached, err := GetUserEntitlements(13, false)
	require.NoError(t, err)
	assert.True(t, cached.SubscriptionActive)

	InvalidateUserCaches(13)
	fresh, err := GetUserEntitlements(13, false)
	require.NoError(t, err)
	assert.False(t, fresh.SubscriptionActive)
}
