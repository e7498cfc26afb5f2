package model

import (
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/gatewayz/gatewayz/common/metrics"
)

// Terminal request statuses.
const (
	RequestStatusCompleted = "completed"
	RequestStatusFailed    = "failed"
	// RequestStatusPartial marks a stream the client abandoned mid-flight;
	// tokens delivered before the disconnect are still billed.
	RequestStatusPartial = "partial"
)

// ChatCompletionRequest is the per-request audit row.
type ChatCompletionRequest struct {
	Id        int64  `json:"id" gorm:"primaryKey"`
	RequestId string `json:"request_id" gorm:"size:36;uniqueIndex"`
	UserId    int64  `json:"user_id" gorm:"index"`
	Model     string `json:"model" gorm:"size:128"`
	Provider  string `json:"provider" gorm:"size:64"`
	Status    string `json:"status" gorm:"size:16;index"`

	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	LatencyMs        int64   `json:"latency_ms"`
	Streamed         bool    `json:"streamed"`
	ErrorCode        string  `json:"error_code" gorm:"size:64"`

	CreatedAt int64 `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
}

// Insert writes the audit row; failures are reported but must never fail
// the request they describe.
func (r *ChatCompletionRequest) Insert() error {
	start := time.Now()
	err := DB.Create(r).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "insert", "chat_completion_requests", err == nil)
	return errors.Wrap(err, "insert chat completion request")
}

// GetRequestByRequestId loads one audit row.
func GetRequestByRequestId(requestID string) (*ChatCompletionRequest, error) {
	var row ChatCompletionRequest
	start := time.Now()
	err := DB.First(&row, "request_id = ?", requestID).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "select", "chat_completion_requests", err == nil)
	if err != nil {
		return nil, errors.Wrapf(err, "get request %s", requestID)
	}
	return &row, nil
}
