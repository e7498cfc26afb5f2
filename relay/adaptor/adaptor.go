package adaptor

import (
	"context"

	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// StreamEvent is one item of a streaming completion: a chunk, or the error
// that terminated the stream. The channel is closed after the last event.
type StreamEvent struct {
	Chunk *relaymodel.StreamChunk
	Err   error
}

// Adaptor is an upstream provider capable of serving chat completions.
type Adaptor interface {
	// Name returns the provider slug used in logs, metrics, and accounting.
	Name() string

	// ChatCompletion performs a blocking completion request.
	ChatCompletion(ctx context.Context, req *relaymodel.ChatRequest) (*relaymodel.ChatResponse, error)

	// ChatCompletionStream starts a streaming completion. The returned
	// channel yields chunks in upstream order and is closed when the stream
	// ends; a trailing event with Err set reports mid-stream failure.
	ChatCompletionStream(ctx context.Context, req *relaymodel.ChatRequest) (<-chan StreamEvent, error)
}
