// Package anthropic implements the provider contract for the Anthropic
// messages API, single-shot and streamed. Anthropic has no moderation
// endpoint, so the adapter is not a Moderator and callers fail open.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Luneo19/luneo-platform-sub016/internal/pricing"
	"github.com/Luneo19/luneo-platform-sub016/internal/resilience"
	"github.com/Luneo19/luneo-platform-sub016/services/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Adapter implements TextProvider for Anthropic.
type Adapter struct {
	config     providers.Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New creates an Anthropic adapter.
func New(config providers.Config) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Adapter{
		config:     config,
		httpClient: &http.Client{},
		breaker:    resilience.NewBreaker("anthropic"),
	}
}

// Name returns the provider key.
func (a *Adapter) Name() string {
	return "anthropic"
}

// Available reports whether an API key is configured. No network call.
func (a *Adapter) Available() bool {
	return a.config.APIKey != ""
}

// Complete performs a messages API request.
func (a *Adapter) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResult, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	body, err := json.Marshal(buildMessagesRequest(req, false))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	call := func() (*messagesResponse, error) {
		var resp messagesResponse
		err := resilience.Retry(ctx, a.config.MaxRetries, func() error {
			return a.postJSON(ctx, "/messages", body, &resp)
		})
		if err != nil {
			return nil, err
		}
		return &resp, nil
	}

	resp, err := resilience.Execute(a.breaker, call)
	if err != nil {
		return nil, a.wrapBreakerErr(err)
	}

	if len(resp.Content) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "no content in response", 0, false, nil)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &providers.CompletionResult{
		Content:      content.String(),
		TokensIn:     resp.Usage.InputTokens,
		TokensOut:    resp.Usage.OutputTokens,
		Model:        resp.Model,
		Provider:     a.Name(),
		Latency:      time.Since(startTime),
		CostUSD:      pricing.Cost(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens),
		FinishReason: resp.StopReason,
	}, nil
}

// Stream performs a streaming messages request. message_start carries
// the input token count, message_delta snapshots carry the running
// output count; the last snapshot before message_stop is authoritative.
func (a *Adapter) Stream(ctx context.Context, req *providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	body, err := json.Marshal(buildMessagesRequest(req, true))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "failed to create request", 0, false, err)
	}
	a.setHeaders(httpReq)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "stream request failed", 0, true, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, a.errorFromResponse(resp.StatusCode, respBody)
	}

	events := make(chan providers.StreamEvent, 16)
	go a.consumeStream(ctx, resp.Body, events, req.Model, time.Now())
	return events, nil
}

func (a *Adapter) consumeStream(ctx context.Context, body io.ReadCloser, events chan<- providers.StreamEvent, model string, startTime time.Time) {
	defer close(events)
	defer body.Close()

	var (
		content   strings.Builder
		tokensIn  int
		tokensOut int
	)

	emit := func(ev providers.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				tokensIn = ev.Message.Usage.InputTokens
				tokensOut = ev.Message.Usage.OutputTokens
				if ev.Message.Model != "" {
					model = ev.Message.Model
				}
			}
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Text != "" {
				content.WriteString(ev.Delta.Text)
				if !emit(providers.StreamEvent{Type: providers.StreamDelta, Delta: ev.Delta.Text}) {
					return
				}
			}
		case "message_delta":
			if ev.Usage != nil {
				tokensOut = ev.Usage.OutputTokens
			}
		case "message_stop":
			emit(providers.StreamEvent{
				Type:      providers.StreamDone,
				Content:   content.String(),
				TokensIn:  tokensIn,
				TokensOut: tokensOut,
				Latency:   time.Since(startTime),
				CostUSD:   pricing.Cost(model, tokensIn, tokensOut),
				Provider:  a.Name(),
			})
			return
		case "error":
			message := "anthropic stream error"
			if ev.Error != nil {
				message = ev.Error.Message
			}
			emit(providers.StreamEvent{Type: providers.StreamError, Error: message})
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		emit(providers.StreamEvent{Type: providers.StreamError, Error: fmt.Sprintf("anthropic stream read failed: %v", err)})
		return
	}
	if ctx.Err() != nil {
		return
	}
	emit(providers.StreamEvent{Type: providers.StreamError, Error: "anthropic stream ended unexpectedly"})
}

func (a *Adapter) postJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return providers.NewProviderError(a.Name(), "REQUEST_ERROR", "failed to create request", 0, false, err)
	}
	a.setHeaders(httpReq)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return providers.NewProviderError(a.Name(), "HTTP_ERROR", "request failed", 0, true, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.NewProviderError(a.Name(), "READ_ERROR", "failed to read response", resp.StatusCode, false, err)
	}
	if resp.StatusCode != http.StatusOK {
		return a.errorFromResponse(resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "failed to unmarshal response", resp.StatusCode, false, err)
	}
	return nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.config.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
}

func (a *Adapter) errorFromResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	message := string(body)
	code := "API_ERROR"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if errResp.Error.Type != "" {
			code = errResp.Error.Type
		}
	}
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests
	return providers.NewProviderError(a.Name(), code, message, statusCode, retryable, nil)
}

func (a *Adapter) wrapBreakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return providers.NewProviderError(a.Name(), "CIRCUIT_OPEN", "circuit breaker open", 0, false, err)
	}
	return err
}

// buildMessagesRequest converts the canonical request to the Anthropic
// wire format. The system message travels in its own field, not in the
// messages array.
func buildMessagesRequest(req *providers.CompletionRequest, stream bool) messagesRequest {
	out := messagesRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = &req.Temperature
	}
	if req.TopP > 0 {
		out.TopP = &req.TopP
	}
	if len(req.Stop) > 0 {
		out.StopSequences = req.Stop
	}

	for _, msg := range req.Messages {
		if msg.Role == providers.RoleSystem {
			if out.System != "" {
				out.System += "\n"
			}
			out.System += msg.Content
			continue
		}
		out.Messages = append(out.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

// Anthropic wire types.

type messagesRequest struct {
	Model         string        `json:"model"`
	MaxTokens     int           `json:"max_tokens"`
	System        string        `json:"system,omitempty"`
	Messages      []chatMessage `json:"messages"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string `json:"model"`
		Usage usage  `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Usage *usage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
