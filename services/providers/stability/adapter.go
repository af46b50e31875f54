// Package stability implements image generation with Stable Diffusion
// XL hosted on Replicate. Replicate's predictions API is asynchronous,
// so the adapter creates a prediction and polls it to completion.
package stability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Luneo19/luneo-platform-sub016/internal/pricing"
	"github.com/Luneo19/luneo-platform-sub016/internal/resilience"
	"github.com/Luneo19/luneo-platform-sub016/services/providers"
)

const (
	defaultBaseURL = "https://api.replicate.com/v1"
	defaultModel   = "stable-diffusion-xl"

	// sdxlVersion pins the Replicate model version the adapter runs.
	sdxlVersion = "39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"

	pollInterval = 2 * time.Second
	pollTimeout  = 3 * time.Minute
)

// Adapter implements ImageProvider on top of Replicate.
type Adapter struct {
	config     providers.Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New creates a stability adapter.
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
		breaker:    resilience.NewBreaker("stability"),
	}
}

// Name returns the provider key.
func (a *Adapter) Name() string {
	return "stability"
}

// Available reports whether an API token is configured. No network call.
func (a *Adapter) Available() bool {
	return a.config.APIKey != ""
}

// GenerateImage creates a prediction and polls until it reaches a
// terminal status. Polling honors ctx so callers can bail early.
func (a *Adapter) GenerateImage(ctx context.Context, opts *providers.GenerationOptions) (*providers.GenerationResult, error) {
	startTime := time.Now()

	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	width, height, ok := pricing.ParseSize(opts.Size)
	if !ok {
		width, height = 1024, 1024
	}
	numImages := opts.NumImages
	if numImages <= 0 {
		numImages = 1
	}

	input := predictionInput{
		Prompt:        opts.Prompt,
		Width:         width,
		Height:        height,
		NumOutputs:    numImages,
		NumSteps:      inferenceSteps(opts.Quality),
		Scheduler:     "K_EULER",
		GuidanceScale: 7.5,
	}
	body, err := json.Marshal(predictionRequest{Version: sdxlVersion, Input: input})
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	create := func() (*prediction, error) {
		var pred prediction
		err := resilience.Retry(ctx, a.config.MaxRetries, func() error {
			return a.doJSON(ctx, http.MethodPost, "/predictions", body, &pred)
		})
		if err != nil {
			return nil, err
		}
		return &pred, nil
	}

	pred, err := resilience.Execute(a.breaker, create)
	if err != nil {
		return nil, a.wrapBreakerErr(err)
	}

	pred, err = a.waitForPrediction(ctx, pred)
	if err != nil {
		return nil, err
	}

	images := make([]providers.GeneratedImage, 0, len(pred.Output))
	for _, url := range pred.Output {
		images = append(images, providers.GeneratedImage{URL: url, Width: width, Height: height})
	}
	if len(images) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "prediction produced no images", 0, false, nil)
	}

	return &providers.GenerationResult{
		Images:    images,
		Provider:  a.Name(),
		Model:     model,
		Duration:  time.Since(startTime),
		Prompt:    opts.Prompt,
		CostCents: pricing.ImageCostCents(model, opts.Size, opts.Quality) * len(images),
	}, nil
}

// EstimateCost returns the expected cost in cents. Pure, no network.
func (a *Adapter) EstimateCost(opts *providers.GenerationOptions) int {
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	numImages := opts.NumImages
	if numImages <= 0 {
		numImages = 1
	}
	return pricing.ImageCostCents(model, opts.Size, opts.Quality) * numImages
}

// waitForPrediction polls the prediction until it succeeds, fails, or
// the poll budget runs out.
func (a *Adapter) waitForPrediction(ctx context.Context, pred *prediction) (*prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		switch pred.Status {
		case "succeeded":
			return pred, nil
		case "failed", "canceled":
			message := pred.Error
			if message == "" {
				message = "prediction " + pred.Status
			}
			return nil, providers.NewProviderError(a.Name(), "PREDICTION_FAILED", message, 0, false, nil)
		}

		select {
		case <-ctx.Done():
			return nil, providers.NewProviderError(a.Name(), "PREDICTION_TIMEOUT", "prediction did not finish in time", 0, true, ctx.Err())
		case <-ticker.C:
		}

		var next prediction
		if err := a.doJSON(ctx, http.MethodGet, "/predictions/"+pred.ID, nil, &next); err != nil {
			return nil, err
		}
		pred = &next
	}
}

func (a *Adapter) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
	if err != nil {
		return providers.NewProviderError(a.Name(), "REQUEST_ERROR", "failed to create request", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+a.config.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return providers.NewProviderError(a.Name(), "HTTP_ERROR", "request failed", 0, true, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.NewProviderError(a.Name(), "READ_ERROR", "failed to read response", resp.StatusCode, false, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return a.errorFromResponse(resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "failed to unmarshal response", resp.StatusCode, false, err)
	}
	return nil
}

func (a *Adapter) errorFromResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
		message = errResp.Detail
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

// inferenceSteps maps the quality tier to diffusion step counts.
func inferenceSteps(quality string) int {
	switch quality {
	case "hd", "ultra":
		return 50
	default:
		return 30
	}
}

// Replicate wire types.

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Prompt        string  `json:"prompt"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
	NumOutputs    int     `json:"num_outputs,omitempty"`
	NumSteps      int     `json:"num_inference_steps,omitempty"`
	Scheduler     string  `json:"scheduler,omitempty"`
	GuidanceScale float64 `json:"guidance_scale,omitempty"`
}

type prediction struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output"`
	Error  string   `json:"error"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}
