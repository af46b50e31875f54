// Package mistral implements the provider contract for the Mistral
// chat completions API. The wire format is OpenAI-compatible but the
// adapter keeps its own types since the two vendors drift.
package mistral

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

const defaultBaseURL = "https://api.mistral.ai/v1"

// Adapter implements TextProvider for Mistral.
type Adapter struct {
	config     providers.Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New creates a Mistral adapter.
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
		breaker:    resilience.NewBreaker("mistral"),
	}
}

// Name returns the provider key.
func (a *Adapter) Name() string {
	return "mistral"
}

// Available reports whether an API key is configured. No network call.
func (a *Adapter) Available() bool {
	return a.config.APIKey != ""
}

// Complete performs a chat completion request.
func (a *Adapter) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResult, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	body, err := json.Marshal(buildChatRequest(req, false))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	call := func() (*chatResponse, error) {
		var resp chatResponse
		err := resilience.Retry(ctx, a.config.MaxRetries, func() error {
			return a.postJSON(ctx, "/chat/completions", body, &resp)
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

	if len(resp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "no choices in response", 0, false, nil)
	}

	choice := resp.Choices[0]
	return &providers.CompletionResult{
		Content:      choice.Message.Content,
		TokensIn:     resp.Usage.PromptTokens,
		TokensOut:    resp.Usage.CompletionTokens,
		Model:        resp.Model,
		Provider:     a.Name(),
		Latency:      time.Since(startTime),
		CostUSD:      pricing.Cost(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		FinishReason: choice.FinishReason,
	}, nil
}

// Stream performs a streaming chat completion. Mistral terminates the
// event stream with the same [DONE] sentinel as OpenAI; usage rides on
// the final chunk.
func (a *Adapter) Stream(ctx context.Context, req *providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	body, err := json.Marshal(buildChatRequest(req, true))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(body))
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
		payload := strings.TrimPrefix(line, "data: ")

		if payload == "[DONE]" {
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
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			tokensIn = chunk.Usage.PromptTokens
			tokensOut = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			delta := chunk.Choices[0].Delta.Content
			content.WriteString(delta)
			if !emit(providers.StreamEvent{Type: providers.StreamDelta, Delta: delta}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		emit(providers.StreamEvent{Type: providers.StreamError, Error: fmt.Sprintf("mistral stream read failed: %v", err)})
		return
	}
	if ctx.Err() != nil {
		return
	}
	emit(providers.StreamEvent{Type: providers.StreamError, Error: "mistral stream ended unexpectedly"})
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
	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
}

func (a *Adapter) errorFromResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		message = errResp.Message
	}
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests
	return providers.NewProviderError(a.Name(), "API_ERROR", message, statusCode, retryable, nil)
}

func (a *Adapter) wrapBreakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return providers.NewProviderError(a.Name(), "CIRCUIT_OPEN", "circuit breaker open", 0, false, err)
	}
	return err
}

func buildChatRequest(req *providers.CompletionRequest, stream bool) chatRequest {
	out := chatRequest{
		Model:  req.Model,
		Stream: stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = &req.Temperature
	}
	if req.TopP > 0 {
		out.TopP = &req.TopP
	}
	if len(req.Stop) > 0 {
		out.Stop = req.Stop
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

// Mistral wire types.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usage `json:"usage,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
