package openai_compatible

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/client"
	"github.com/gatewayz/gatewayz/common/helper"
	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/relay/adaptor"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// doneSentinel terminates an SSE completion stream.
const doneSentinel = "[DONE]"

// Config describes one OpenAI-shaped upstream.
type Config struct {
	// Slug identifies the provider in logs, metrics, and accounting.
	Slug string

	// ChatURL is the absolute chat-completions endpoint.
	ChatURL string

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string

	// AuthHeader defaults to "Authorization"; AuthPrefix to "Bearer ".
	AuthHeader string
	AuthPrefix string

	// ExtraHeaders are set verbatim on every request (version pins etc).
	ExtraHeaders map[string]string

	// Client defaults to the shared relay client.
	Client *http.Client
}

// Adaptor speaks the OpenAI chat-completions dialect shared by most
// gateways. One instance per provider.
type Adaptor struct {
	cfg Config
}

var _ adaptor.Adaptor = (*Adaptor)(nil)

// New builds an adaptor, filling config defaults.
func New(cfg Config) *Adaptor {
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
		if cfg.AuthPrefix == "" {
			cfg.AuthPrefix = "Bearer "
		}
	}
	return &Adaptor{cfg: cfg}
}

// Name implements adaptor.Adaptor.Name.
func (a *Adaptor) Name() string { return a.cfg.Slug }

func (a *Adaptor) httpClient() *http.Client {
	if a.cfg.Client != nil {
		return a.cfg.Client
	}
	if client.HTTPClient != nil {
		return client.HTTPClient
	}
	return http.DefaultClient
}

func (a *Adaptor) buildRequest(ctx context.Context, req *relaymodel.ChatRequest, stream bool) (*http.Request, error) {
	payload := *req
	payload.Stream = stream

	body, err := json.Marshal(&payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal chat request")
	}
	if stream {
		// Ask for usage on the final chunk; providers that do not support
		// stream_options ignore unknown fields.
		body, err = withStreamUsageOption(body)
		if err != nil {
			return nil, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ChatURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", a.cfg.Slug)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	if a.cfg.APIKeyEnv != "" {
		key := strings.TrimSpace(os.Getenv(a.cfg.APIKeyEnv))
		if key == "" {
			return nil, errors.Errorf("no API key configured for %s", a.cfg.Slug)
		}
		httpReq.Header.Set(a.cfg.AuthHeader, a.cfg.AuthPrefix+key)
	}
	for k, v := range a.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func withStreamUsageOption(body []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, errors.Wrap(err, "reparse chat request")
	}
	m["stream_options"] = json.RawMessage(`{"include_usage":true}`)
	out, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshal chat request with stream options")
	}
	return out, nil
}

// ChatCompletion implements adaptor.Adaptor.ChatCompletion.
func (a *Adaptor) ChatCompletion(ctx context.Context, req *relaymodel.ChatRequest) (*relaymodel.ChatResponse, error) {
	httpReq, err := a.buildRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient().Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "%s chat completion", a.cfg.Slug)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s response", a.cfg.Slug)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, a.upstreamError(resp.StatusCode, resp.Header, body)
	}

	var out relaymodel.ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrapf(err, "decode %s response", a.cfg.Slug)
	}
	if len(out.Choices) == 0 {
		return nil, relaymodel.NewError(http.StatusBadGateway, relaymodel.CodeProviderError,
			a.cfg.Slug+" returned no choices")
	}
	out.ProviderUsed = a.cfg.Slug
	return &out, nil
}

// ChatCompletionStream implements adaptor.Adaptor.ChatCompletionStream.
func (a *Adaptor) ChatCompletionStream(ctx context.Context, req *relaymodel.ChatRequest) (<-chan adaptor.StreamEvent, error) {
	httpReq, err := a.buildRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient().Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "%s chat stream", a.cfg.Slug)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		return nil, a.upstreamError(resp.StatusCode, resp.Header, body)
	}

	events := make(chan adaptor.StreamEvent)
	go a.pumpStream(ctx, resp.Body, events)
	return events, nil
}

// pumpStream reads SSE lines off the upstream body and forwards decoded
// chunks until the DONE sentinel, an error, or context cancellation.
func (a *Adaptor) pumpStream(ctx context.Context, body io.ReadCloser, events chan<- adaptor.StreamEvent) {
	defer close(events)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	helper.ConfigureScannerBuffer(scanner)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == doneSentinel {
			return
		}

		var chunk relaymodel.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Logger.Warn("dropping malformed stream chunk",
				zap.String("provider", a.cfg.Slug), zap.Error(err))
			continue
		}

		select {
		case events <- adaptor.StreamEvent{Chunk: &chunk}:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case events <- adaptor.StreamEvent{Err: errors.Wrapf(err, "%s stream read", a.cfg.Slug)}:
		case <-ctx.Done():
		}
	}
}

// upstreamErrorBody is the error envelope most providers return.
type upstreamErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
	Message string `json:"message"`
}

// upstreamError converts a non-200 upstream response into the gateway error
// shape, preserving the upstream status for transient-retry classification.
func (a *Adaptor) upstreamError(status int, headers http.Header, body []byte) *relaymodel.Error {
	message := strings.TrimSpace(string(body))
	var parsed upstreamErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error.Message != "" {
			message = parsed.Error.Message
		} else if parsed.Message != "" {
			message = parsed.Message
		}
	}
	if len(message) > 512 {
		message = message[:512]
	}

	code := relaymodel.CodeProviderError
	if status == http.StatusServiceUnavailable || status == http.StatusBadGateway {
		code = relaymodel.CodeProviderUnavailable
	}
	apiErr := relaymodel.NewError(status, code, a.cfg.Slug+": "+message)
	apiErr.Details = map[string]any{
		"provider":        a.cfg.Slug,
		"upstream_status": status,
	}
	if v := headers.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			apiErr.Details["retry_after_seconds"] = seconds
		}
	}
	return apiErr
}
