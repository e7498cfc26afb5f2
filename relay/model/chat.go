package model

import "encoding/json"

// Message is the gateway-neutral chat message shape shared by every
// endpoint adaptor and upstream client.
type Message struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	Name       *string    `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ContentString flattens the message content into plain text. Structured
// parts contribute their "text" fields; non-text parts are skipped.
func (m *Message) ContentString() string {
	switch v := m.Content.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, part := range v {
			p, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := p["text"].(string); ok {
				out += t
			}
		}
		return out
	default:
		return ""
	}
}

// ToolCall mirrors the OpenAI tool_calls entry.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Index    *int         `json:"index,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool invocation payload.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Tool declares a callable tool to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the schema half of a Tool declaration.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponseFormat requests structured output from the model.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is the internal chat-completion request accepted from every
// endpoint adaptor after protocol normalization.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Stop             any      `json:"stop,omitempty"`

	Tools          []Tool          `json:"tools,omitempty"`
	ToolChoice     any             `json:"tool_choice,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	User   string `json:"user,omitempty"`
	Stream bool   `json:"stream,omitempty"`
}

// PromptChars counts characters of textual content across all messages,
// used by the chars/4 token estimation fallback.
func (r *ChatRequest) PromptChars() int {
	total := 0
	for i := range r.Messages {
		total += len(r.Messages[i].ContentString())
	}
	return total
}

// Usage carries upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion alternative in a non-streaming response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ChatResponse is the internal chat-completion response returned to every
// endpoint adaptor, including gateway-side accounting fields.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`

	CostUSD          float64 `json:"cost_usd"`
	InputCostUSD     float64 `json:"input_cost_usd"`
	OutputCostUSD    float64 `json:"output_cost_usd"`
	ProviderUsed     string  `json:"provider_used,omitempty"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
}

// Delta is the incremental payload of one streaming chunk choice.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkChoice is one choice slot of a streaming chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// StreamChunk is the internal streaming chunk shape. Usage, when present,
// travels on the terminal chunk.
type StreamChunk struct {
	ID      string        `json:"id,omitempty"`
	Object  string        `json:"object,omitempty"`
	Created int64         `json:"created,omitempty"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// FinishReason returns the first non-nil finish reason across choices, or
// empty when the chunk is not terminal.
func (c *StreamChunk) FinishReason() string {
	for i := range c.Choices {
		if fr := c.Choices[i].FinishReason; fr != nil && *fr != "" {
			return *fr
		}
	}
	return ""
}

// ContentChars counts delta content characters across choices, feeding the
// chars/4 usage reconstruction when the provider omits usage.
func (c *StreamChunk) ContentChars() int {
	total := 0
	for i := range c.Choices {
		total += len(c.Choices[i].Delta.Content)
	}
	return total
}
