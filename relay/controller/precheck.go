package controller

import (
	"context"
	"net/http"
	"sync"

	"github.com/Laisky/zap"
	"github.com/pkoukk/tiktoken-go"

	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/model"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
	"github.com/gatewayz/gatewayz/relay/pricing"
)

// Output budget assumed when the request does not cap max_tokens. Chosen to
// keep the worst-case cost bound meaningful without rejecting open-ended
// requests outright.
const defaultMaxOutputTokens = 4096

type promptEncoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

var (
	encoderOnce sync.Once
	encoder     promptEncoder

	// newEncoder is swappable in tests to force the heuristic path.
	newEncoder = func() (promptEncoder, error) {
		return tiktoken.GetEncoding("cl100k_base")
	}
)

func promptEncoderOrNil() promptEncoder {
	encoderOnce.Do(func() {
		enc, err := newEncoder()
		if err != nil {
			logger.Logger.Warn("tokenizer unavailable, falling back to chars/4 estimate",
				zap.Error(err))
			return
		}
		encoder = enc
	})
	return encoder
}

// EstimatePromptTokens counts prompt tokens with the BPE tokenizer when it
// is available and a ceil(chars/4) heuristic otherwise. A small per-message
// overhead approximates role and framing tokens.
func EstimatePromptTokens(req *relaymodel.ChatRequest) int {
	const perMessageOverhead = 4

	total := 3 // assistant reply priming
	enc := promptEncoderOrNil()
	for i := range req.Messages {
		total += perMessageOverhead
		text := req.Messages[i].ContentString()
		if enc != nil {
			total += len(enc.Encode(text, nil, nil))
		} else {
			total += (len(text) + 3) / 4
		}
	}
	if total < 1 {
		total = 1
	}
	return total
}

// PrecheckResult carries the pre-flight numbers forward so billing does not
// re-estimate.
type PrecheckResult struct {
	InputTokens     int
	MaxOutputTokens int
	MaxCostUSD      float64
	Price           pricing.ModelPrice
}

// PrecheckCredits rejects a paid request whose worst-case cost exceeds the
// user's balance. The bound assumes every estimated input token plus the full
// output budget at the resolved price.
func PrecheckCredits(ctx context.Context, resolver *pricing.Resolver, userID int64, modelID string, req *relaymodel.ChatRequest) (*PrecheckResult, *relaymodel.Error) {
	inputTokens := EstimatePromptTokens(req)
	maxOut := req.MaxTokens
	if maxOut <= 0 {
		maxOut = defaultMaxOutputTokens
	}

	maxCost, price := resolver.MaxCost(ctx, modelID, inputTokens, maxOut)
	result := &PrecheckResult{
		InputTokens:     inputTokens,
		MaxOutputTokens: maxOut,
		MaxCostUSD:      maxCost,
		Price:           price,
	}
	if maxCost <= 0 {
		return result, nil
	}

	credits, err := model.GetUserCredits(userID)
	if err != nil {
		return nil, relaymodel.WrapError(err, http.StatusInternalServerError,
			relaymodel.CodeInternalError, "failed to check balance")
	}
	if credits < maxCost {
		return nil, relaymodel.NewError(http.StatusPaymentRequired,
			relaymodel.CodeInsufficientCredits, "insufficient credits for this request").
			WithDetail("max_cost", maxCost).
			WithDetail("max_output_tokens", maxOut).
			WithDetail("input_tokens", inputTokens)
	}
	return result, nil
}
