// Package generation orchestrates image generation: prompt safety,
// provider selection by stage, budget enforcement, and dispatch to the
// selected adapter.
package generation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub016/internal/observability"
	"github.com/Luneo19/luneo-platform-sub016/services/prompt"
	"github.com/Luneo19/luneo-platform-sub016/services/providers"
)

// Generation stages. Exploration and preview optimize for cost, final
// optimizes for quality.
const (
	StageExploration = "exploration"
	StagePreview     = "preview"
	StageFinal       = "final"
)

// Strategy directs provider selection and budget checks for one
// generation call.
type Strategy struct {
	// Stage is one of the Stage* constants; unknown values behave as final.
	Stage string

	// BudgetCapCents caps the estimated cost; zero means no cap.
	BudgetCapCents int

	// PreferredProvider is tried first when it is available.
	PreferredProvider string
}

// Ledger records and checks tenant spend. CheckBudget runs before any
// vendor call; EnforceBudget records realized cost after delivery.
type Ledger interface {
	// CheckBudget reports whether the tenant can spend the given amount.
	CheckBudget(ctx context.Context, tenant string, cents int) (bool, error)

	// EnforceBudget records realized spend against the tenant.
	EnforceBudget(ctx context.Context, tenant string, cents int) error
}

// BudgetExceededError is returned when the pre-flight check rejects the
// estimated cost. No vendor call has been made when this is returned.
type BudgetExceededError struct {
	Tenant         string
	EstimatedCents int
	CapCents       int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("tenant %s: estimated cost %d cents exceeds budget (cap %d)",
		e.Tenant, e.EstimatedCents, e.CapCents)
}

// QualityPolicy ranks image providers for final-stage work. It returns
// true when candidate should be preferred over current.
type QualityPolicy func(candidate, current providers.ImageProvider) bool

// defaultQualityPolicy prefers OpenAI output for finals. Selection
// still falls back to priority order when OpenAI is unavailable.
func defaultQualityPolicy(candidate, current providers.ImageProvider) bool {
	return candidate.Name() == "openai" && current.Name() != "openai"
}

// Orchestrator coordinates moderation, budget, routing and generation.
type Orchestrator struct {
	registry      *providers.Registry
	ledger        Ledger
	logger        *zap.Logger
	metrics       *observability.Metrics
	qualityPolicy QualityPolicy
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithQualityPolicy overrides the final-stage ranking.
func WithQualityPolicy(p QualityPolicy) Option {
	return func(o *Orchestrator) { o.qualityPolicy = p }
}

// WithMetrics replaces the metric instrument set.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator over a frozen registry.
func NewOrchestrator(registry *providers.Registry, ledger Ledger, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:      registry,
		ledger:        ledger,
		logger:        logger,
		metrics:       observability.Default(),
		qualityPolicy: defaultQualityPolicy,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RouteToProvider selects an image provider for the strategy:
// the preferred provider when available, the cheapest estimate for
// exploration and preview, the quality policy's pick for final, and
// priority order as the last tiebreak.
func (o *Orchestrator) RouteToProvider(strategy Strategy, opts *providers.GenerationOptions) (providers.ImageProvider, error) {
	candidates := o.registry.ImageProviders()
	if len(candidates) == 0 {
		return nil, providers.ErrNoProviderAvailable
	}

	if strategy.PreferredProvider != "" {
		for _, c := range candidates {
			if c.Name() == strategy.PreferredProvider {
				return c, nil
			}
		}
		o.logger.Warn("preferred provider unavailable, selecting by stage",
			zap.String("preferred", strategy.PreferredProvider),
			zap.String("stage", strategy.Stage))
	}

	switch strategy.Stage {
	case StageExploration, StagePreview:
		best := candidates[0]
		bestCost := best.EstimateCost(opts)
		for _, c := range candidates[1:] {
			if cost := c.EstimateCost(opts); cost < bestCost {
				best, bestCost = c, cost
			}
		}
		return best, nil
	default:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if o.qualityPolicy(c, best) {
				best = c
			}
		}
		return best, nil
	}
}

// GenerateImage runs the full pipeline for one tenant request. The
// budget check is fail-closed and happens before any vendor call; the
// post-delivery EnforceBudget records realized cost and never unwinds a
// delivered result.
func (o *Orchestrator) GenerateImage(ctx context.Context, tenant string, opts *providers.GenerationOptions, strategy Strategy) (*providers.GenerationResult, error) {
	sanitized := prompt.Sanitize(opts.Prompt, prompt.Options{MaxLength: prompt.DefaultImageMaxLength})
	if sanitized.Blocked {
		return nil, fmt.Errorf("prompt rejected: %v", sanitized.Reasons)
	}
	opts.Prompt = sanitized.Prompt

	moderation, err := o.ModeratePrompt(ctx, opts.Prompt)
	if err != nil {
		return nil, err
	}
	if !moderation.Approved {
		return nil, fmt.Errorf("prompt failed moderation: %s", moderation.Reason)
	}

	provider, err := o.RouteToProvider(strategy, opts)
	if err != nil {
		return nil, err
	}

	estimate := provider.EstimateCost(opts)
	if strategy.BudgetCapCents > 0 && estimate > strategy.BudgetCapCents {
		return nil, &BudgetExceededError{Tenant: tenant, EstimatedCents: estimate, CapCents: strategy.BudgetCapCents}
	}
	allowed, err := o.ledger.CheckBudget(ctx, tenant, estimate)
	if err != nil {
		// Fail closed: an unreachable ledger blocks spend.
		return nil, fmt.Errorf("budget check failed: %w", err)
	}
	if !allowed {
		return nil, &BudgetExceededError{Tenant: tenant, EstimatedCents: estimate, CapCents: strategy.BudgetCapCents}
	}

	result, err := provider.GenerateImage(ctx, opts)
	if err != nil {
		o.logger.Warn("image generation failed",
			zap.String("tenant", tenant),
			zap.String("provider", provider.Name()),
			zap.String("stage", strategy.Stage),
			zap.Error(err))
		o.recordImage(ctx, tenant, opts.Model, provider.Name(), nil, "error")
		return nil, err
	}

	if err := o.ledger.EnforceBudget(ctx, tenant, result.CostCents); err != nil {
		// The images are already delivered; record the discrepancy
		// instead of failing the call.
		o.logger.Error("budget enforcement failed after delivery",
			zap.String("tenant", tenant),
			zap.String("provider", result.Provider),
			zap.Int("cost_cents", result.CostCents),
			zap.Error(err))
	}

	o.logger.Info("image generated",
		zap.String("tenant", tenant),
		zap.String("provider", result.Provider),
		zap.String("model", result.Model),
		zap.String("stage", strategy.Stage),
		zap.Int("images", len(result.Images)),
		zap.Int("estimated_cents", estimate),
		zap.Int("cost_cents", result.CostCents),
		zap.Duration("duration", result.Duration),
		zap.String("prompt_hash", prompt.HashPrompt(result.Prompt)))

	o.recordImage(ctx, tenant, result.Model, result.Provider, result, "success")
	return result, nil
}

// ModeratePrompt runs the prompt through the first available native
// moderator. With no moderator configured, or a moderator failure, the
// check fails open with reduced confidence so generation still works in
// partially configured deployments.
func (o *Orchestrator) ModeratePrompt(ctx context.Context, text string) (*providers.ModerationResult, error) {
	moderators := o.registry.Moderators()
	if len(moderators) == 0 {
		o.logger.Warn("no moderator configured, approving with reduced confidence")
		return &providers.ModerationResult{Approved: true, Confidence: 0.5}, nil
	}

	result, err := moderators[0].ModeratePrompt(ctx, text)
	if err != nil {
		o.logger.Warn("moderation call failed, approving with reduced confidence",
			zap.Error(err))
		return &providers.ModerationResult{Approved: true, Confidence: 0.5}, nil
	}
	return result, nil
}

func (o *Orchestrator) recordImage(ctx context.Context, tenant, model, provider string, result *providers.GenerationResult, status string) {
	labels := observability.RequestLabels{
		Tenant:   tenant,
		Model:    model,
		Provider: provider,
		Status:   status,
	}
	o.metrics.RecordRequest(ctx, labels)
	if result != nil {
		o.metrics.RecordLatency(ctx, result.Duration, labels)
		o.metrics.RecordCost(ctx, float64(result.CostCents), labels)
	}
}
