package providers

import (
	"context"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role Role `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// CompletionRequest represents a unified text completion request.
// It is constructed per call and never shared between requests.
type CompletionRequest struct {
	// Model identifier (e.g., "gpt-4o", "claude-3-5-sonnet")
	Model string `json:"model"`

	// Messages in the conversation, in order
	Messages []Message `json:"messages"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64 `json:"temperature,omitempty"`

	// TopP controls nucleus sampling
	TopP float64 `json:"top_p,omitempty"`

	// Stop sequences
	Stop []string `json:"stop,omitempty"`

	// FrequencyPenalty reduces repetition (-2.0 to 2.0)
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`

	// PresencePenalty encourages new topics (-2.0 to 2.0)
	PresencePenalty float64 `json:"presence_penalty,omitempty"`

	// Provider forces a specific provider, bypassing the routing rules.
	// The caller accepts responsibility for its availability.
	Provider string `json:"provider,omitempty"`

	// FallbackProviders are tried in order when the primary call fails.
	FallbackProviders []string `json:"fallback_providers,omitempty"`

	// RequestID correlates logs and audit records for this call.
	RequestID string `json:"request_id,omitempty"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CompletionResult represents a unified completion response. Immutable,
// returned once per successful call.
type CompletionResult struct {
	// Content is the generated text
	Content string `json:"content"`

	// TokensIn is the vendor-reported prompt token count
	TokensIn int `json:"tokens_in"`

	// TokensOut is the vendor-reported completion token count
	TokensOut int `json:"tokens_out"`

	// Model actually used for the completion
	Model string `json:"model"`

	// Provider that handled the request
	Provider string `json:"provider"`

	// Latency of the vendor call
	Latency time.Duration `json:"latency"`

	// CostUSD is the realized cost computed from the usage above
	CostUSD float64 `json:"cost_usd"`

	// FinishReason indicates why the completion finished
	FinishReason string `json:"finish_reason,omitempty"`
}

// GenerationOptions represents an image generation request.
type GenerationOptions struct {
	// Prompt describes the image to generate
	Prompt string `json:"prompt"`

	// Model identifier (e.g., "dall-e-3", "stable-diffusion-xl")
	Model string `json:"model,omitempty"`

	// Size as "WIDTHxHEIGHT" (e.g., "1024x1024")
	Size string `json:"size,omitempty"`

	// Quality tier: "standard" or "hd"
	Quality string `json:"quality,omitempty"`

	// Style hint passed through to vendors that support it
	Style string `json:"style,omitempty"`

	// NumImages to generate (default 1)
	NumImages int `json:"num_images,omitempty"`
}

// GeneratedImage describes one produced image asset.
type GeneratedImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int64  `json:"bytes,omitempty"`
}

// GenerationResult is the outcome of an image generation call.
// CostCents always reflects the executing provider's cost model,
// never the pre-flight estimate.
type GenerationResult struct {
	Images []GeneratedImage `json:"images"`

	// Provider that executed the generation
	Provider string `json:"provider"`

	// Model actually used
	Model string `json:"model"`

	// Duration of the vendor call
	Duration time.Duration `json:"duration"`

	// Prompt actually sent to the vendor (post-template, post-sanitize)
	Prompt string `json:"prompt"`

	// CostCents is the realized cost in cents
	CostCents int `json:"cost_cents"`
}

// ModerationResult is the outcome of a prompt moderation check.
type ModerationResult struct {
	Approved   bool     `json:"approved"`
	Reason     string   `json:"reason,omitempty"`
	Confidence float64  `json:"confidence"`
	Categories []string `json:"categories,omitempty"`
}

// Descriptor holds static per-adapter metadata. Owned by the Registry
// and immutable after process start.
type Descriptor struct {
	// Name is the unique provider key
	Name string

	// Enabled gates the provider regardless of credentials
	Enabled bool

	// Priority orders providers, lower is preferred
	Priority int

	// CostPerUnitCents is the flat per-unit cost used for last-resort estimates
	CostPerUnitCents int

	// MaxRetries for vendor-transient failures inside the adapter
	MaxRetries int

	// Timeout enforced by the adapter on each vendor call
	Timeout time.Duration
}

// Config holds the common per-adapter configuration supplied at startup.
type Config struct {
	// APIKey for vendor authentication; empty means not configured
	APIKey string

	// BaseURL overrides the vendor endpoint (tests, proxies)
	BaseURL string

	// Timeout for each single-shot vendor call
	Timeout time.Duration

	// MaxRetries for vendor-transient failures
	MaxRetries int
}

// DefaultConfig returns sensible adapter defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// Provider is the minimal contract every adapter implements.
type Provider interface {
	// Name returns the unique provider key (e.g., "openai", "anthropic")
	Name() string

	// Available reports whether required credentials are configured.
	// Must be cheap and must not perform network I/O.
	Available() bool
}

// TextProvider is the capability set for chat/text completion vendors.
type TextProvider interface {
	Provider

	// Complete performs a single-shot completion. Fails with *ProviderError
	// on vendor HTTP failure, timeout, or non-2xx response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)

	// Stream performs an incremental completion. Events arrive in strict
	// order; exactly one Done or Error event terminates the channel, after
	// which it is closed. Cancelling ctx aborts the vendor call and closes
	// the channel without a Done event.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error)
}

// ImageProvider is the capability set for image generation vendors.
type ImageProvider interface {
	Provider

	// GenerateImage produces one or more image assets.
	GenerateImage(ctx context.Context, opts *GenerationOptions) (*GenerationResult, error)

	// EstimateCost returns the expected cost in cents. Pure, no network.
	EstimateCost(opts *GenerationOptions) int
}

// Moderator is implemented by adapters with a native moderation endpoint.
// Adapters without one are simply not Moderators; callers fail open.
type Moderator interface {
	// ModeratePrompt checks a prompt against the vendor's moderation model.
	ModeratePrompt(ctx context.Context, prompt string) (*ModerationResult, error)
}
