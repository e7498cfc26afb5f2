package controller

import (
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/common/metrics"
	"github.com/gatewayz/gatewayz/model"
	"github.com/gatewayz/gatewayz/relay/pricing"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// Charge is the settled cost breakdown for one request.
type Charge struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	InputCostUSD     float64
	OutputCostUSD    float64
	CostUSD          float64
	PriceSource      string
}

func buildCharge(price pricing.ModelPrice, usage relaymodel.Usage) Charge {
	total := usage.TotalTokens
	if total == 0 {
		total = usage.PromptTokens + usage.CompletionTokens
	}
	return Charge{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      total,
		InputCostUSD:     pricing.InputCost(price, usage.PromptTokens),
		OutputCostUSD:    pricing.OutputCost(price, usage.CompletionTokens),
		CostUSD:          pricing.Cost(price, usage.PromptTokens, usage.CompletionTokens),
		PriceSource:      price.Source,
	}
}

// withBillingRetry runs a billing write, retrying once after a short pause.
// Definitive failures (insufficient credits, missing trial) are returned
// immediately since retrying cannot change the outcome.
func withBillingRetry(op func() error) error {
	err := op()
	if err == nil ||
		errors.Is(err, model.ErrInsufficientCredits) ||
		errors.Is(err, model.ErrTrialNotFound) {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return op()
}

// ChargeUser settles a completed request: trial accounts consume trial
// allowance, paid accounts are debited the exact cost. Tokens already
// delivered are never refunded; a failure here is logged and surfaced but the
// response stands.
func ChargeUser(userID int64, isTrial bool, requestID, modelID, provider string, usage relaymodel.Usage, price pricing.ModelPrice) (Charge, error) {
	charge := buildCharge(price, usage)

	start := time.Now()
	var err error
	if isTrial {
		err = withBillingRetry(func() error {
			return model.TrackTrialUsage(userID, int64(charge.TotalTokens), charge.CostUSD)
		})
		metrics.GlobalRecorder.RecordBillingOperation(start, "trial_track", err == nil, userID, modelID, charge.CostUSD)
	} else {
		err = withBillingRetry(func() error {
			return model.DeductUserCredits(userID, charge.CostUSD)
		})
		metrics.GlobalRecorder.RecordBillingOperation(start, "deduct", err == nil, userID, modelID, charge.CostUSD)
	}
	if err != nil {
		logger.Logger.Error("billing write failed",
			zap.Int64("user_id", userID),
			zap.String("request_id", requestID),
			zap.Bool("is_trial", isTrial),
			zap.Float64("cost_usd", charge.CostUSD),
			zap.Error(err))
		return charge, errors.Wrap(err, "charge user")
	}

	record := &model.UsageRecord{
		UserId:           userID,
		RequestId:        requestID,
		Model:            modelID,
		Provider:         provider,
		PromptTokens:     charge.PromptTokens,
		CompletionTokens: charge.CompletionTokens,
		TotalTokens:      charge.TotalTokens,
		InputCostUSD:     charge.InputCostUSD,
		OutputCostUSD:    charge.OutputCostUSD,
		CostUSD:          charge.CostUSD,
		PriceSource:      charge.PriceSource,
		IsTrial:          isTrial,
	}
	if err := record.Insert(); err != nil {
		// The balance was already adjusted; the missing audit row is logged
		// rather than unwinding the charge.
		logger.Logger.Error("usage record write failed",
			zap.String("request_id", requestID), zap.Error(err))
	}

	return charge, nil
}
