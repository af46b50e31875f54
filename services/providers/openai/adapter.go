// Package openai implements the provider contract for the OpenAI API:
// chat completions (single-shot and streamed), DALL·E image generation,
// and native prompt moderation.
package openai

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
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultImageModel = "dall-e-3"
)

// Adapter implements TextProvider, ImageProvider and Moderator.
type Adapter struct {
	config     providers.Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New creates an OpenAI adapter.
func New(config providers.Config) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Adapter{
		config: config,
		// No client-level timeout: streams are long-lived. Single-shot
		// calls get a per-call context deadline instead.
		httpClient: &http.Client{},
		breaker:    resilience.NewBreaker("openai"),
	}
}

// Name returns the provider key.
func (a *Adapter) Name() string {
	return "openai"
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

	var openaiResp chatResponse
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

	respPtr, err := resilience.Execute(a.breaker, call)
	if err != nil {
		return nil, a.wrapBreakerErr(err)
	}
	openaiResp = *respPtr

	if len(openaiResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "no choices in response", 0, false, nil)
	}

	usage := openaiResp.Usage
	return &providers.CompletionResult{
		Content:      openaiResp.Choices[0].Message.Content,
		TokensIn:     usage.PromptTokens,
		TokensOut:    usage.CompletionTokens,
		Model:        openaiResp.Model,
		Provider:     a.Name(),
		Latency:      time.Since(startTime),
		CostUSD:      pricing.Cost(openaiResp.Model, usage.PromptTokens, usage.CompletionTokens),
		FinishReason: openaiResp.Choices[0].FinishReason,
	}, nil
}

// Stream performs a streaming chat completion. Each SSE fragment becomes
// one Delta event in arrival order; the final usage chunk is authoritative
// for token accounting.
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

// consumeStream reads SSE lines until the vendor signals completion.
// Exactly one terminal event is emitted on the graceful or error path;
// cancellation closes the channel without a Done event.
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
		if chunk.Usage != nil {
			tokensIn = chunk.Usage.PromptTokens
			tokensOut = chunk.Usage.CompletionTokens
		}
		if chunk.Model != "" {
			model = chunk.Model
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
		emit(providers.StreamEvent{Type: providers.StreamError, Error: fmt.Sprintf("openai stream read failed: %v", err)})
		return
	}
	if ctx.Err() != nil {
		return
	}

	// Vendor closed the stream without a [DONE] marker.
	emit(providers.StreamEvent{Type: providers.StreamError, Error: "openai stream ended unexpectedly"})
}

// GenerateImage produces images through the DALL·E endpoint.
func (a *Adapter) GenerateImage(ctx context.Context, opts *providers.GenerationOptions) (*providers.GenerationResult, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	model := opts.Model
	if model == "" {
		model = defaultImageModel
	}
	size := opts.Size
	if size == "" {
		size = "1024x1024"
	}
	numImages := opts.NumImages
	if numImages <= 0 {
		numImages = 1
	}

	imgReq := imageRequest{
		Model:   model,
		Prompt:  opts.Prompt,
		N:       numImages,
		Size:    size,
		Quality: opts.Quality,
		Style:   opts.Style,
	}
	body, err := json.Marshal(imgReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	var imgResp imageResponse
	call := func() (*imageResponse, error) {
		var resp imageResponse
		err := resilience.Retry(ctx, a.config.MaxRetries, func() error {
			return a.postJSON(ctx, "/images/generations", body, &resp)
		})
		if err != nil {
			return nil, err
		}
		return &resp, nil
	}
	respPtr, err := resilience.Execute(a.breaker, call)
	if err != nil {
		return nil, a.wrapBreakerErr(err)
	}
	imgResp = *respPtr

	width, height, _ := pricing.ParseSize(size)
	images := make([]providers.GeneratedImage, 0, len(imgResp.Data))
	sentPrompt := opts.Prompt
	for _, d := range imgResp.Data {
		images = append(images, providers.GeneratedImage{URL: d.URL, Width: width, Height: height})
		if d.RevisedPrompt != "" {
			sentPrompt = d.RevisedPrompt
		}
	}

	return &providers.GenerationResult{
		Images:    images,
		Provider:  a.Name(),
		Model:     model,
		Duration:  time.Since(startTime),
		Prompt:    sentPrompt,
		CostCents: pricing.ImageCostCents(model, size, opts.Quality) * len(images),
	}, nil
}

// EstimateCost is a pure per-image cost calculation. No network call.
func (a *Adapter) EstimateCost(opts *providers.GenerationOptions) int {
	model := opts.Model
	if model == "" {
		model = defaultImageModel
	}
	numImages := opts.NumImages
	if numImages <= 0 {
		numImages = 1
	}
	return pricing.ImageCostCents(model, opts.Size, opts.Quality) * numImages
}

// ModeratePrompt checks a prompt against the OpenAI moderation endpoint.
func (a *Adapter) ModeratePrompt(ctx context.Context, text string) (*providers.ModerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	body, err := json.Marshal(moderationRequest{Input: text})
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	var modResp moderationResponse
	if err := a.postJSON(ctx, "/moderations", body, &modResp); err != nil {
		return nil, err
	}
	if len(modResp.Results) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "no moderation results", 0, false, nil)
	}

	result := modResp.Results[0]
	if !result.Flagged {
		return &providers.ModerationResult{Approved: true, Confidence: 0.95}, nil
	}

	var categories []string
	maxScore := 0.0
	for category, flagged := range result.Categories {
		if !flagged {
			continue
		}
		categories = append(categories, category)
		if score, ok := result.CategoryScores[category]; ok && score > maxScore {
			maxScore = score
		}
	}
	if maxScore == 0 {
		maxScore = 0.9
	}

	return &providers.ModerationResult{
		Approved:   false,
		Reason:     "flagged by moderation: " + strings.Join(categories, ", "),
		Confidence: maxScore,
		Categories: categories,
	}, nil
}

// postJSON executes one POST attempt and decodes a 200 response into out.
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

// errorFromResponse maps a non-2xx vendor response to a ProviderError.
// 429 and 5xx are retryable.
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

// wrapBreakerErr converts an open-breaker rejection into a ProviderError
// so the router can fall back like any other vendor failure.
func (a *Adapter) wrapBreakerErr(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return providers.NewProviderError(a.Name(), "CIRCUIT_OPEN", "circuit breaker open", 0, false, err)
	}
	return err
}

// buildChatRequest converts the canonical request to the OpenAI wire
// format.
func buildChatRequest(req *providers.CompletionRequest, stream bool) chatRequest {
	out := chatRequest{
		Model:    req.Model,
		Messages: make([]chatMessage, len(req.Messages)),
		Stream:   stream,
	}
	for i, msg := range req.Messages {
		out.Messages[i] = chatMessage{Role: string(msg.Role), Content: msg.Content}
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
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
	if req.FrequencyPenalty != 0 {
		out.FrequencyPenalty = &req.FrequencyPenalty
	}
	if req.PresencePenalty != 0 {
		out.PresencePenalty = &req.PresencePenalty
	}
	return out
}

// OpenAI wire types.

type chatRequest struct {
	Model            string         `json:"model"`
	Messages         []chatMessage  `json:"messages"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	Stream           bool           `json:"stream,omitempty"`
	StreamOptions    *streamOptions `json:"stream_options,omitempty"`
	Stop             []string       `json:"stop,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   usage        `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
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
	Usage *usage `json:"usage"`
}

type imageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
	Style   string `json:"style,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
