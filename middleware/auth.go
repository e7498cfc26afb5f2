package middleware

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/ctxkey"
	"github.com/gatewayz/gatewayz/common/helper"
	"github.com/gatewayz/gatewayz/common/metrics"
	"github.com/gatewayz/gatewayz/model"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// Tiers that always take the paid billing path regardless of what the key's
// trial flag says.
var paidTiers = map[string]bool{
	"pro":   true,
	"max":   true,
	"admin": true,
}

// Development bypass credentials, never honored in the live environment.
var devBypassKeys = map[string]bool{
	"local-dev-bypass-key": true,
	"anonymous":            true,
}

// Auth resolves the bearer key to a user and stamps the identity onto the
// context for the relay handler and billing pipeline.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractBearerKey(c)

		if !config.IsLiveEnv() && devBypassKeys[key] {
			c.Set(ctxkey.BypassAuth, true)
			c.Set(ctxkey.UserId, int64(0))
			c.Set(ctxkey.UserTier, "dev")
			c.Next()
			return
		}

		if !hasGatewayKeyShape(key) {
			metrics.GlobalRecorder.RecordTokenAuth(false)
			AbortWithError(c, http.StatusUnauthorized,
				relaymodel.NewError(http.StatusUnauthorized, relaymodel.CodeInvalidAPIKey,
					"invalid or missing API key"))
			return
		}

		apiKey, err := model.ValidateAPIKey(c.Request.Context(), key)
		if err != nil {
			metrics.GlobalRecorder.RecordTokenAuth(false)
			if errors.Is(err, model.ErrAPIKeyNotFound) {
				AbortWithError(c, http.StatusUnauthorized,
					relaymodel.NewError(http.StatusUnauthorized, relaymodel.CodeInvalidAPIKey,
						"invalid or missing API key"))
				return
			}
			AbortWithError(c, http.StatusInternalServerError,
				relaymodel.WrapError(err, http.StatusInternalServerError,
					relaymodel.CodeInternalError, "authentication temporarily unavailable"))
			return
		}

		user, err := model.GetUserById(apiKey.UserId)
		if err != nil {
			metrics.GlobalRecorder.RecordTokenAuth(false)
			AbortWithError(c, http.StatusUnauthorized,
				relaymodel.WrapError(err, http.StatusUnauthorized,
					relaymodel.CodeInvalidAPIKey, "invalid or missing API key"))
			return
		}
		if user.Status != model.UserStatusEnabled {
			metrics.GlobalRecorder.RecordTokenAuth(false)
			AbortWithError(c, http.StatusUnauthorized,
				relaymodel.NewError(http.StatusUnauthorized, relaymodel.CodeInvalidAPIKey,
					"account disabled"))
			return
		}

		ent, err := model.GetUserEntitlements(user.Id, user.IsAdmin)
		if err != nil {
			// Entitlements failing open would let limits slip, but failing the
			// whole request over a plan lookup hurts more. Serve with the
			// defaults and log.
			gmw.GetLogger(c).Warn("entitlements lookup failed, using defaults",
				zap.Int64("user_id", user.Id), zap.Error(err))
			ent = model.Entitlements{}
		}

		// A stale trial flag on the key must not demote someone who has since
		// paid: an active subscription or a paid tier forces the paid path.
		isTrial := apiKey.IsTrial && !user.IsAdmin && !ent.SubscriptionActive && !paidTiers[user.Tier]
		if isTrial {
			if _, terr := model.ValidateTrialAccess(user.Id); terr != nil {
				metrics.GlobalRecorder.RecordTokenAuth(false)
				abortTrial(c, terr)
				return
			}
		}

		metrics.GlobalRecorder.RecordTokenAuth(true)

		c.Set(ctxkey.UserId, user.Id)
		c.Set(ctxkey.ApiKeyId, apiKey.Id)
		c.Set(ctxkey.UserTier, user.Tier)
		c.Set(ctxkey.IsTrial, isTrial)
		c.Set(ctxkey.IsAdmin, user.IsAdmin)
		c.Set(ctxkey.SubscriptionActive, ent.SubscriptionActive)

		gmw.GetLogger(c).Debug("authenticated",
			zap.Int64("user_id", user.Id),
			zap.String("api_key", helper.MaskAPIKey(key)),
			zap.String("tier", user.Tier),
			zap.Bool("trial", isTrial))

		c.Next()
	}
}

// abortTrial maps trial sentinels onto the stable response codes.
func abortTrial(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrTrialExpired):
		AbortWithError(c, http.StatusForbidden,
			relaymodel.NewError(http.StatusForbidden, relaymodel.CodeTrialExpired,
				"trial period has ended, upgrade to continue"))
	case errors.Is(err, model.ErrTrialTokensExhausted),
		errors.Is(err, model.ErrTrialRequestsExhausted),
		errors.Is(err, model.ErrTrialCreditsExhausted):
		AbortWithError(c, http.StatusForbidden,
			relaymodel.NewError(http.StatusForbidden, relaymodel.CodeTrialLimitExceeded,
				"trial allowance exhausted, upgrade to continue"))
	case errors.Is(err, model.ErrTrialNotFound):
		AbortWithError(c, http.StatusUnauthorized,
			relaymodel.NewError(http.StatusUnauthorized, relaymodel.CodeInvalidAPIKey,
				"no active trial for this key"))
	default:
		AbortWithError(c, http.StatusInternalServerError,
			relaymodel.WrapError(err, http.StatusInternalServerError,
				relaymodel.CodeInternalError, "trial validation failed"))
	}
}
