package controller

import (
	"encoding/json"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common"
	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/common/metrics"
	"github.com/gatewayz/gatewayz/model"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// Stream executes a streaming chat completion. Provider selection reuses the
// failover policy but only for the initial connection: once chunks flow the
// stream is never moved to another provider.
//
// A non-nil return means nothing was written yet and the caller may render a
// normal error response. Failures after the first chunk are delivered as a
// terminal SSE error event instead.
func (h *Handler) Stream(c *gin.Context, req *relaymodel.ChatRequest) *relaymodel.Error {
	start := time.Now()
	caller := callerFrom(c)
	ctx := c.Request.Context()

	modelID, apiErr := h.resolveModel(ctx, req)
	if apiErr != nil {
		return apiErr
	}

	var precheck *PrecheckResult
	if !caller.bypass && !caller.isTrial {
		if apiErr = CheckEntitlements(caller.userID, caller.isAdmin); apiErr != nil {
			return apiErr
		}
		precheck, apiErr = PrecheckCredits(ctx, h.resolver, caller.userID, modelID, req)
		if apiErr != nil {
			return apiErr
		}
	}

	events, provider, err := h.multi.ExecuteStream(ctx, modelID, req)
	if err != nil {
		h.persistAsync(&model.ChatCompletionRequest{
			RequestId: caller.requestID,
			UserId:    caller.userID,
			Model:     modelID,
			Provider:  provider,
			Status:    model.RequestStatusFailed,
			Streamed:  true,
			LatencyMs: time.Since(start).Milliseconds(),
			ErrorCode: errorCode(err),
		})
		return coerceAPIError(err)
	}

	common.SetEventStreamHeaders(c)

	var (
		usage        relaymodel.Usage
		contentChars int
		terminal     bool
		streamErr    error
		clientGone   bool
	)

consume:
	for event := range events {
		if event.Err != nil {
			streamErr = event.Err
			break
		}
		chunk := event.Chunk

		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		// Nothing but a trailing usage snapshot may follow the terminal
		// chunk, and it is forwarded exactly once.
		if terminal && chunk.Usage == nil {
			continue
		}

		contentChars += chunk.ContentChars()
		if chunk.FinishReason() != "" {
			terminal = true
		}

		if writeErr := writeChunk(c, chunk); writeErr != nil {
			clientGone = true
			break
		}
		if terminal && chunk.Usage != nil {
			break
		}

		select {
		case <-ctx.Done():
			clientGone = true
			break consume
		default:
		}
	}

	// Providers that never report usage are billed on the chars/4
	// reconstruction of both sides.
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage.PromptTokens = estimateFromChars(req.PromptChars())
		usage.CompletionTokens = estimateFromChars(contentChars)
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	status := model.RequestStatusCompleted
	switch {
	case streamErr != nil:
		status = model.RequestStatusFailed
	case clientGone:
		status = model.RequestStatusPartial
	}

	var charge Charge
	price := h.priceFor(ctx, precheck, modelID)
	if !caller.bypass && status != model.RequestStatusFailed {
		// Delivered tokens are billed even when the client walked away.
		charge, err = ChargeUser(caller.userID, caller.isTrial, caller.requestID, modelID, provider, usage, price)
		if err != nil {
			logger.Logger.Error("stream billing failed",
				zap.String("request_id", caller.requestID), zap.Error(err))
		}
	} else {
		charge = buildCharge(price, usage)
	}

	elapsed := time.Since(start)
	metrics.GlobalRecorder.RecordRelayRequest(start, provider, modelID, caller.tier,
		status == model.RequestStatusCompleted,
		usage.PromptTokens, usage.CompletionTokens, charge.CostUSD)

	row := &model.ChatCompletionRequest{
		RequestId:        caller.requestID,
		UserId:           caller.userID,
		Model:            modelID,
		Provider:         provider,
		Status:           status,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          charge.CostUSD,
		LatencyMs:        elapsed.Milliseconds(),
		Streamed:         true,
	}
	if streamErr != nil {
		row.ErrorCode = errorCode(streamErr)
	}
	h.persistAsync(row)

	if streamErr != nil {
		writeStreamError(c, streamErr)
		return nil
	}
	if !clientGone {
		writeDone(c)
	}
	return nil
}

func estimateFromChars(chars int) int {
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func writeChunk(c *gin.Context, chunk *relaymodel.StreamChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := c.Writer.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Writer.Write(payload); err != nil {
		return err
	}
	if _, err := c.Writer.Write([]byte("\n\n")); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// writeStreamError surfaces a mid-stream failure as a final SSE event; the
// HTTP status is already committed so the envelope travels in-band.
func writeStreamError(c *gin.Context, err error) {
	apiErr := coerceAPIError(err)
	payload, merr := json.Marshal(gin.H{"error": apiErr})
	if merr != nil {
		return
	}
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func writeDone(c *gin.Context) {
	_, _ = c.Writer.Write([]byte("data: [DONE]\n\n"))
	c.Writer.Flush()
}
