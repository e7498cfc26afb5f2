package controller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common/ctxkey"
	"github.com/gatewayz/gatewayz/common/helper"
	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/common/metrics"
	"github.com/gatewayz/gatewayz/model"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
	"github.com/gatewayz/gatewayz/relay/pricing"
	"github.com/gatewayz/gatewayz/relay/router"
)

// Handler is the single inference entry point shared by streaming and
// non-streaming chat completions.
type Handler struct {
	resolver *pricing.Resolver
	multi    *router.MultiProvider
	code     *router.CodeRouter
	general  *router.GeneralRouter

	// persistence tracks background audit writes for graceful shutdown.
	persistence sync.WaitGroup
}

// NewHandler wires the inference handler.
func NewHandler(resolver *pricing.Resolver, multi *router.MultiProvider, code *router.CodeRouter, general *router.GeneralRouter) *Handler {
	return &Handler{
		resolver: resolver,
		multi:    multi,
		code:     code,
		general:  general,
	}
}

// Shutdown waits for in-flight audit writes, bounded by ctx.
func (h *Handler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.persistence.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callerContext is the authenticated caller state stamped by the middleware
// chain.
type callerContext struct {
	userID    int64
	isTrial   bool
	isAdmin   bool
	bypass    bool
	tier      string
	requestID string
}

func callerFrom(c *gin.Context) callerContext {
	return callerContext{
		userID:    c.GetInt64(ctxkey.UserId),
		isTrial:   c.GetBool(ctxkey.IsTrial),
		isAdmin:   c.GetBool(ctxkey.IsAdmin),
		bypass:    c.GetBool(ctxkey.BypassAuth),
		tier:      c.GetString(ctxkey.UserTier),
		requestID: c.GetString(helper.RequestIdKey),
	}
}

// resolveModel turns the request's model field into a concrete canonical
// model id, applying router directives when present.
func (h *Handler) resolveModel(ctx context.Context, req *relaymodel.ChatRequest) (string, *relaymodel.Error) {
	directive, ok, err := router.ParseDirective(req.Model)
	if !ok {
		return req.Model, nil
	}
	if err != nil {
		return "", relaymodel.WrapError(err, http.StatusBadRequest,
			relaymodel.CodeValidationError, "unrecognized router directive")
	}

	switch directive.Kind {
	case router.KindCode:
		sel := h.code.Route(req.Messages, directive.Mode)
		logger.Logger.Debug("code router selection",
			zap.String("category", sel.Category),
			zap.Float64("confidence", sel.Confidence),
			zap.Int("tier", sel.Tier),
			zap.String("model", sel.Model))
		return sel.Model, nil
	default:
		sel := h.general.Route(ctx, req.Messages, directive.Mode, nil)
		logger.Logger.Debug("general router selection",
			zap.String("mode", sel.Mode),
			zap.String("model", sel.Model),
			zap.String("fallback_reason", sel.FallbackReason))
		return sel.Model, nil
	}
}

// Complete executes a non-streaming chat completion end to end: routing,
// pre-flight credit check, provider failover, usage extraction, charging,
// and async audit persistence.
func (h *Handler) Complete(c *gin.Context, req *relaymodel.ChatRequest) (*relaymodel.ChatResponse, *relaymodel.Error) {
	start := time.Now()
	caller := callerFrom(c)
	ctx := c.Request.Context()

	modelID, apiErr := h.resolveModel(ctx, req)
	if apiErr != nil {
		return nil, apiErr
	}

	var precheck *PrecheckResult
	if !caller.bypass && !caller.isTrial {
		if apiErr = CheckEntitlements(caller.userID, caller.isAdmin); apiErr != nil {
			return nil, apiErr
		}
		precheck, apiErr = PrecheckCredits(ctx, h.resolver, caller.userID, modelID, req)
		if apiErr != nil {
			return nil, apiErr
		}
	}

	result, err := h.multi.Execute(ctx, modelID, req)
	if err != nil {
		h.persistAsync(&model.ChatCompletionRequest{
			RequestId: caller.requestID,
			UserId:    caller.userID,
			Model:     modelID,
			Status:    model.RequestStatusFailed,
			LatencyMs: time.Since(start).Milliseconds(),
			ErrorCode: errorCode(err),
		})
		return nil, coerceAPIError(err)
	}
	resp := result.Response

	if resp.Usage.PromptTokens == 0 && resp.Usage.CompletionTokens == 0 {
		// A provider that completed without usage cannot be billed; treat it
		// as a provider fault rather than serving free tokens.
		h.persistAsync(&model.ChatCompletionRequest{
			RequestId: caller.requestID,
			UserId:    caller.userID,
			Model:     modelID,
			Provider:  result.Provider,
			Status:    model.RequestStatusFailed,
			LatencyMs: time.Since(start).Milliseconds(),
			ErrorCode: relaymodel.CodeProviderError,
		})
		return nil, relaymodel.NewError(http.StatusBadGateway,
			relaymodel.CodeProviderError, "provider returned no usage accounting").
			WithDetail("provider", result.Provider)
	}

	price := h.priceFor(ctx, precheck, modelID)
	charge := Charge{PriceSource: price.Source}
	if !caller.bypass {
		charge, err = ChargeUser(caller.userID, caller.isTrial, caller.requestID, modelID, result.Provider, resp.Usage, price)
		if err != nil {
			// The provider call already succeeded, so the audit trail keeps a
			// failed row even though the caller sees an accounting error.
			h.persistAsync(&model.ChatCompletionRequest{
				RequestId:        caller.requestID,
				UserId:           caller.userID,
				Model:            modelID,
				Provider:         result.Provider,
				Status:           model.RequestStatusFailed,
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				LatencyMs:        time.Since(start).Milliseconds(),
				ErrorCode:        relaymodel.CodeInternalError,
			})
			return nil, relaymodel.WrapError(err, http.StatusInternalServerError,
				relaymodel.CodeInternalError, "billing failed").
				WithDetail("operation", "credit_deduction")
		}
	} else {
		charge = buildCharge(price, resp.Usage)
	}

	elapsed := time.Since(start)
	resp.Model = modelID
	resp.CostUSD = charge.CostUSD
	resp.InputCostUSD = charge.InputCostUSD
	resp.OutputCostUSD = charge.OutputCostUSD
	resp.ProcessingTimeMS = elapsed.Milliseconds()

	metrics.GlobalRecorder.RecordRelayRequest(start, result.Provider, modelID, caller.tier, true,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, charge.CostUSD)

	h.persistAsync(&model.ChatCompletionRequest{
		RequestId:        caller.requestID,
		UserId:           caller.userID,
		Model:            modelID,
		Provider:         result.Provider,
		Status:           model.RequestStatusCompleted,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          charge.CostUSD,
		LatencyMs:        elapsed.Milliseconds(),
	})

	return resp, nil
}

// priceFor reuses the pre-flight price resolution when available.
func (h *Handler) priceFor(ctx context.Context, precheck *PrecheckResult, modelID string) pricing.ModelPrice {
	if precheck != nil {
		return precheck.Price
	}
	return h.resolver.PriceFor(ctx, modelID)
}

// persistAsync writes an audit row in the background; the row must never
// delay or fail the response it describes.
func (h *Handler) persistAsync(row *model.ChatCompletionRequest) {
	h.persistence.Add(1)
	go func() {
		defer h.persistence.Done()
		if err := row.Insert(); err != nil {
			logger.Logger.Error("audit row write failed",
				zap.String("request_id", row.RequestId), zap.Error(err))
		}
	}()
}

// coerceAPIError keeps structured provider errors and wraps everything else
// as an internal fault.
func coerceAPIError(err error) *relaymodel.Error {
	var apiErr *relaymodel.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return relaymodel.WrapError(err, http.StatusInternalServerError,
		relaymodel.CodeInternalError, "inference failed")
}

func errorCode(err error) string {
	var apiErr *relaymodel.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return relaymodel.CodeInternalError
}
