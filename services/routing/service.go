// Package routing resolves model identifiers to providers and executes
// completions with ordered fallback. It owns no vendor knowledge beyond
// the prefix rules; everything vendor-specific lives in the adapters.
package routing

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub016/internal/observability"
	"github.com/Luneo19/luneo-platform-sub016/services/providers"
)

// Rule maps a model id prefix to a provider name. Rules are evaluated
// in order; the first match wins.
type Rule struct {
	Prefix   string
	Provider string
}

// DefaultRules routes the well-known model families.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "gpt-", Provider: "openai"},
		{Prefix: "dall-e", Provider: "openai"},
		{Prefix: "claude-", Provider: "anthropic"},
		{Prefix: "mistral-", Provider: "mistral"},
		{Prefix: "open-mistral", Provider: "mistral"},
		{Prefix: "stable-diffusion", Provider: "stability"},
	}
}

// UnresolvedModelError is returned when no routing rule matches and no
// explicit provider was requested.
type UnresolvedModelError struct {
	Model string
}

func (e *UnresolvedModelError) Error() string {
	return fmt.Sprintf("no provider resolves model %q", e.Model)
}

// Service routes completion requests to providers.
type Service struct {
	registry         *providers.Registry
	rules            []Rule
	defaultFallbacks []string
	logger           *zap.Logger
	metrics          *observability.Metrics
}

// Option configures the routing service.
type Option func(*Service)

// WithRules replaces the default prefix rules.
func WithRules(rules []Rule) Option {
	return func(s *Service) { s.rules = rules }
}

// WithDefaultFallbacks sets the fallback chain used when a request does
// not carry its own.
func WithDefaultFallbacks(names []string) Option {
	return func(s *Service) { s.defaultFallbacks = names }
}

// WithMetrics replaces the metric instrument set.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a routing service over a frozen registry.
func NewService(registry *providers.Registry, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		rules:    DefaultRules(),
		// Mistral small models are the cheapest text tier, so they are
		// the last-resort fallback for every family.
		defaultFallbacks: []string{"mistral"},
		logger:           logger,
		metrics:          observability.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveProvider returns the provider name for a request. An explicit
// request.Provider is honored verbatim, without checking registration
// or availability; the caller owns that risk. Otherwise the prefix
// rules are consulted in order.
func (s *Service) ResolveProvider(req *providers.CompletionRequest) (string, error) {
	if req.Provider != "" {
		return req.Provider, nil
	}
	for _, rule := range s.rules {
		if strings.HasPrefix(req.Model, rule.Prefix) {
			return rule.Provider, nil
		}
	}
	return "", &UnresolvedModelError{Model: req.Model}
}

// Complete resolves the primary provider, calls it, and on failure
// walks the fallback chain in order. When every attempt fails the
// caller receives the PRIMARY provider's error, not the last fallback's:
// the primary failure is the one that explains what went wrong with the
// requested route.
func (s *Service) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResult, error) {
	primary, err := s.ResolveProvider(req)
	if err != nil {
		return nil, err
	}

	var primaryErr error
	for i, name := range s.attemptOrder(primary, req) {
		result, attemptErr := s.attempt(ctx, name, req)
		if attemptErr == nil {
			if i > 0 {
				s.logger.Info("completion served by fallback",
					zap.String("request_id", req.RequestID),
					zap.String("primary", primary),
					zap.String("provider", name))
			}
			s.record(ctx, req, result, "success")
			return result, nil
		}

		s.logger.Warn("completion attempt failed",
			zap.String("request_id", req.RequestID),
			zap.String("provider", name),
			zap.String("model", req.Model),
			zap.Bool("is_primary", i == 0),
			zap.Error(attemptErr))

		if i == 0 {
			primaryErr = attemptErr
		}
	}

	s.record(ctx, req, nil, "error")
	if primaryErr == nil {
		// The primary name never produced an attempt (unknown or text-
		// incapable provider) and no fallback succeeded.
		primaryErr = &providers.UnavailableError{Provider: primary, Model: req.Model}
	}
	return nil, primaryErr
}

// Stream resolves the primary provider and opens a stream on it. There
// is no fallback: once deltas may have been delivered, switching
// providers mid-response would splice two different completions.
func (s *Service) Stream(ctx context.Context, req *providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	name, err := s.ResolveProvider(req)
	if err != nil {
		return nil, err
	}

	tp, err := s.textProvider(name, req.Model)
	if err != nil {
		return nil, err
	}

	events, err := tp.Stream(ctx, req)
	if err != nil {
		s.logger.Warn("stream open failed",
			zap.String("request_id", req.RequestID),
			zap.String("provider", name),
			zap.String("model", req.Model),
			zap.Error(err))
		s.record(ctx, req, nil, "error")
		return nil, err
	}
	return events, nil
}

// attemptOrder returns the primary followed by the fallback chain, with
// duplicates of already-listed names removed.
func (s *Service) attemptOrder(primary string, req *providers.CompletionRequest) []string {
	fallbacks := req.FallbackProviders
	if len(fallbacks) == 0 {
		fallbacks = s.defaultFallbacks
	}

	order := []string{primary}
	seen := map[string]struct{}{primary: {}}
	for _, name := range fallbacks {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}
	return order
}

func (s *Service) attempt(ctx context.Context, name string, req *providers.CompletionRequest) (*providers.CompletionResult, error) {
	tp, err := s.textProvider(name, req.Model)
	if err != nil {
		return nil, err
	}
	return tp.Complete(ctx, req)
}

func (s *Service) textProvider(name, model string) (providers.TextProvider, error) {
	p, desc, err := s.registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}
	tp, ok := p.(providers.TextProvider)
	if !ok {
		return nil, &providers.UnavailableError{Provider: name, Model: model}
	}
	if !desc.Enabled || !p.Available() {
		return nil, &providers.UnavailableError{Provider: name, Model: model}
	}
	return tp, nil
}

func (s *Service) record(ctx context.Context, req *providers.CompletionRequest, result *providers.CompletionResult, status string) {
	labels := observability.RequestLabels{
		Tenant: req.Metadata["tenant"],
		Model:  req.Model,
		Status: status,
	}
	if result != nil {
		labels.Provider = result.Provider
	}

	s.metrics.RecordRequest(ctx, labels)
	if result != nil {
		s.metrics.RecordLatency(ctx, result.Latency, labels)
		s.metrics.RecordTokens(ctx, result.TokensIn, result.TokensOut, labels)
		s.metrics.RecordCost(ctx, result.CostUSD*100, labels)
	}
}
