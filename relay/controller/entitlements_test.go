package controller

import (
	"net/http"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/model"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// setNonLiveEnv pins a non-production environment so plan limits resolve at
// half the raw plan rows rather than being lifted to the live daily floor.
func setNonLiveEnv(t *testing.T) {
	t.Helper()
	old := config.Env
	config.Env = "staging"
	t.Cleanup(func() { config.Env = old })
}

// seedPlan attaches an active plan to the user. Limits are the raw plan rows;
// outside live environments the resolved entitlements run at half these
// values.
func seedPlan(t *testing.T, userID, dailyTokens, monthlyRequests int64) {
	t.Helper()
	plan := &model.Plan{
		Name:                "starter",
		DailyTokenLimit:     dailyTokens,
		MonthlyRequestLimit: monthlyRequests,
	}
	require.NoError(t, model.DB.Create(plan).Error)
	require.NoError(t, model.DB.Create(&model.UserPlan{
		UserId: userID,
		PlanId: plan.Id,
		Active: true,
	}).Error)
	t.Cleanup(func() { model.InvalidateUserCaches(userID) })
}

func seedUsageToday(t *testing.T, userID int64, tokens int, requests int) {
	t.Helper()
	per := tokens / requests
	for i := 0; i < requests; i++ {
		require.NoError(t, model.DB.Create(&model.UsageRecord{
			UserId:      userID,
			RequestId:   time.Now().Format("150405.000000000") + "-seed",
			Model:       "gpt-4o",
			TotalTokens: per,
		}).Error)
	}
}

func TestCheckEntitlementsNoPlanPasses(t *testing.T) {
	setupBillingDB(t)
	seedPaidUser(t, 501, 1.0)

	require.Nil(t, CheckEntitlements(501, false))
}

func TestCheckEntitlementsAdminUnlimited(t *testing.T) {
	setupBillingDB(t)

	require.Nil(t, CheckEntitlements(502, true))
}

func TestCheckEntitlementsDailyTokenCap(t *testing.T) {
	setNonLiveEnv(t)
	setupBillingDB(t)
	seedPaidUser(t, 503, 1.0)
	// Raw plan limit 1000 resolves to 500 outside live environments.
	seedPlan(t, 503, 1000, 0)
	seedUsageToday(t, 503, 600, 2)

	apiErr := CheckEntitlements(503, false)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, relaymodel.CodeRateLimited, apiErr.Code)
	assert.Equal(t, int64(500), apiErr.Details["daily_token_limit"])
}

func TestCheckEntitlementsMonthlyRequestCap(t *testing.T) {
	setNonLiveEnv(t)
	setupBillingDB(t)
	seedPaidUser(t, 504, 1.0)
	seedPlan(t, 504, 0, 10)
	seedUsageToday(t, 504, 50, 5)

	apiErr := CheckEntitlements(504, false)
	require.NotNil(t, apiErr)
	assert.Equal(t, relaymodel.CodeRateLimited, apiErr.Code)
	assert.Equal(t, int64(5), apiErr.Details["monthly_requests_used"])
}

func TestCheckEntitlementsUnderCapPasses(t *testing.T) {
	setNonLiveEnv(t)
	setupBillingDB(t)
	seedPaidUser(t, 505, 1.0)
	seedPlan(t, 505, 1000000, 1000)
	seedUsageToday(t, 505, 100, 1)

	require.Nil(t, CheckEntitlements(505, false))
}

func TestCompleteDailyCapRejectsBeforeProviderCall(t *testing.T) {
	setNonLiveEnv(t)
	useEncoder(t, nil, errors.New("no tokenizer data"))
	setupBillingDB(t)
	seedPaidUser(t, 506, 1.0)
	seedPlan(t, 506, 1000, 0)
	seedUsageToday(t, 506, 600, 2)

	primary := &scriptedAdaptor{name: "openai", response: okResponse("hi", 10, 10)}
	fallback := &scriptedAdaptor{name: "openrouter", response: okResponse("hi", 10, 10)}
	h := newTestHandler("gpt-4o", primary, fallback)

	c, _ := testGinContext(t, 506, false, false)
	_, apiErr := h.Complete(c, chatRequest("gpt-4o", "say hi"))
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Zero(t, primary.callCount())
	assert.Zero(t, fallback.callCount())
}
