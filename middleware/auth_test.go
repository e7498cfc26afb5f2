package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/ctxkey"
	"github.com/gatewayz/gatewayz/model"
)

func setupAuthDB(t *testing.T) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "auth_test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.APIKey{}, &model.Trial{},
		&model.Plan{}, &model.UserPlan{},
	))

	old := model.DB
	model.DB = db
	t.Cleanup(func() { model.DB = old })
}

func seedUserWithKey(t *testing.T, userID int64, status int, isTrial bool) string {
	t.Helper()

	key := fmt.Sprintf("%suser%d%s", config.TokenKeyPrefix, userID, strings.Repeat("f", 48))
	require.NoError(t, model.DB.Create(&model.User{
		Id:     userID,
		Email:  fmt.Sprintf("user%d@example.com", userID),
		Tier:   "free",
		Status: status,
	}).Error)
	require.NoError(t, model.DB.Create(&model.APIKey{
		UserId:  userID,
		Key:     key,
		Status:  model.APIKeyStatusEnabled,
		IsTrial: isTrial,
	}).Error)
	t.Cleanup(func() {
		model.InvalidateAPIKeyCache(key)
		model.InvalidateUserCaches(userID)
	})
	return key
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth())
	r.POST("/v1/chat/completions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":  c.GetInt64(ctxkey.UserId),
			"is_trial": c.GetBool(ctxkey.IsTrial),
			"tier":     c.GetString(ctxkey.UserTier),
		})
	})
	return r
}

func authRequest(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMissingKey(t *testing.T) {
	setupAuthDB(t)
	w := authRequest(authRouter(), "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_api_key")
}

func TestAuthMalformedKey(t *testing.T) {
	setupAuthDB(t)
	w := authRequest(authRouter(), "sk-not-our-format-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_api_key")
}

func TestAuthUnknownKey(t *testing.T) {
	setupAuthDB(t)
	w := authRequest(authRouter(), config.TokenKeyPrefix+strings.Repeat("0", 48))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthValidKey(t *testing.T) {
	setupAuthDB(t)
	key := seedUserWithKey(t, 101, model.UserStatusEnabled, false)

	w := authRequest(authRouter(), key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":101`)
	assert.Contains(t, w.Body.String(), `"is_trial":false`)
	assert.Contains(t, w.Body.String(), `"tier":"free"`)
}

func TestAuthDisabledUser(t *testing.T) {
	setupAuthDB(t)
	key := seedUserWithKey(t, 102, model.UserStatusDisabled, false)

	w := authRequest(authRouter(), key)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "account disabled")
}

func TestAuthTrialKeyValid(t *testing.T) {
	setupAuthDB(t)
	key := seedUserWithKey(t, 103, model.UserStatusEnabled, true)
	require.NoError(t, model.DB.Create(&model.Trial{
		UserId:       103,
		ExpiresAt:    time.Now().Add(24 * time.Hour).UnixMilli(),
		TokenLimit:   10000,
		RequestLimit: 100,
	}).Error)

	w := authRequest(authRouter(), key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_trial":true`)
}

func TestAuthTrialExpired(t *testing.T) {
	setupAuthDB(t)
	key := seedUserWithKey(t, 104, model.UserStatusEnabled, true)
	require.NoError(t, model.DB.Create(&model.Trial{
		UserId:     104,
		ExpiresAt:  time.Now().Add(-time.Hour).UnixMilli(),
		TokenLimit: 10000,
	}).Error)

	w := authRequest(authRouter(), key)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "trial_expired")
}

func TestAuthTrialExhausted(t *testing.T) {
	setupAuthDB(t)
	key := seedUserWithKey(t, 105, model.UserStatusEnabled, true)
	require.NoError(t, model.DB.Create(&model.Trial{
		UserId:     105,
		ExpiresAt:  time.Now().Add(24 * time.Hour).UnixMilli(),
		TokenLimit: 100,
		TokensUsed: 100,
	}).Error)

	w := authRequest(authRouter(), key)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "trial_limit_exceeded")
}

func TestAuthTrialMissing(t *testing.T) {
	setupAuthDB(t)
	key := seedUserWithKey(t, 106, model.UserStatusEnabled, true)

	w := authRequest(authRouter(), key)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "no active trial")
}

func TestAuthTrialKeyWithActiveSubscriptionTakesPaidPath(t *testing.T) {
	setupAuthDB(t)
	key := seedUserWithKey(t, 107, model.UserStatusEnabled, true)

	// The key still carries the trial flag from signup, but the user has since
	// subscribed. No trial row exists; the paid path must not require one.
	plan := &model.Plan{Name: "starter", DailyTokenLimit: 1000000, MonthlyRequestLimit: 10000}
	require.NoError(t, model.DB.Create(plan).Error)
	require.NoError(t, model.DB.Create(&model.UserPlan{UserId: 107, PlanId: plan.Id, Active: true}).Error)
	t.Cleanup(func() { model.InvalidateUserCaches(107) })

	w := authRequest(authRouter(), key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_trial":false`)
}

func TestAuthTrialKeyWithPaidTierTakesPaidPath(t *testing.T) {
	setupAuthDB(t)
	key := seedUserWithKey(t, 108, model.UserStatusEnabled, true)
	require.NoError(t, model.DB.Model(&model.User{}).Where("id = ?", 108).Update("tier", "pro").Error)
	model.InvalidateUserCaches(108)

	w := authRequest(authRouter(), key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_trial":false`)
	assert.Contains(t, w.Body.String(), `"tier":"pro"`)
}

func TestAuthTrialCreditsExhausted(t *testing.T) {
	setupAuthDB(t)
	key := seedUserWithKey(t, 109, model.UserStatusEnabled, true)
	require.NoError(t, model.DB.Create(&model.Trial{
		UserId:         109,
		ExpiresAt:      time.Now().Add(24 * time.Hour).UnixMilli(),
		TokenLimit:     100000,
		RequestLimit:   1000,
		CreditCapUSD:   0.25,
		CreditsUsedUSD: 0.30,
	}).Error)

	w := authRequest(authRouter(), key)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "trial_limit_exceeded")
}

func TestAuthDevBypassNonLive(t *testing.T) {
	setupAuthDB(t)
	oldEnv := config.Env
	config.Env = "development"
	defer func() { config.Env = oldEnv }()

	w := authRequest(authRouter(), "local-dev-bypass-key")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tier":"dev"`)
}

func TestAuthDevBypassRefusedInLive(t *testing.T) {
	setupAuthDB(t)
	oldEnv := config.Env
	config.Env = "live"
	defer func() { config.Env = oldEnv }()

	w := authRequest(authRouter(), "local-dev-bypass-key")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
