package controller

import (
	"net/http"

	"github.com/gatewayz/gatewayz/model"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// CheckEntitlements rejects a paid request that would exceed the caller's
// plan allowances: the daily token budget and the monthly request count.
// Unlimited plans and plans without a configured cap pass through.
func CheckEntitlements(userID int64, isAdmin bool) *relaymodel.Error {
	ent, err := model.GetUserEntitlements(userID, isAdmin)
	if err != nil {
		return relaymodel.WrapError(err, http.StatusInternalServerError,
			relaymodel.CodeInternalError, "failed to resolve plan limits")
	}
	if ent.Unlimited {
		return nil
	}

	if ent.DailyTokenLimit > 0 {
		used, err := model.DailyTokensUsed(userID)
		if err != nil {
			return relaymodel.WrapError(err, http.StatusInternalServerError,
				relaymodel.CodeInternalError, "failed to resolve plan limits")
		}
		if used >= ent.DailyTokenLimit {
			return relaymodel.NewError(http.StatusTooManyRequests,
				relaymodel.CodeRateLimited, "daily token limit reached for your plan").
				WithDetail("plan", ent.PlanName).
				WithDetail("daily_token_limit", ent.DailyTokenLimit).
				WithDetail("daily_tokens_used", used)
		}
	}

	if ent.MonthlyRequestLimit > 0 {
		used, err := model.MonthlyRequestsUsed(userID)
		if err != nil {
			return relaymodel.WrapError(err, http.StatusInternalServerError,
				relaymodel.CodeInternalError, "failed to resolve plan limits")
		}
		if used >= ent.MonthlyRequestLimit {
			return relaymodel.NewError(http.StatusTooManyRequests,
				relaymodel.CodeRateLimited, "monthly request limit reached for your plan").
				WithDetail("plan", ent.PlanName).
				WithDetail("monthly_request_limit", ent.MonthlyRequestLimit).
				WithDetail("monthly_requests_used", used)
		}
	}

	return nil
}
