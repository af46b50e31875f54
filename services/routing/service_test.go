package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub016/services/providers"
)

type stubText struct {
	name        string
	completeErr error
	streamErr   error
	calls       int
}

func (s *stubText) Name() string    { return s.name }
func (s *stubText) Available() bool { return true }

func (s *stubText) Complete(_ context.Context, req *providers.CompletionRequest) (*providers.CompletionResult, error) {
	s.calls++
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	return &providers.CompletionResult{Content: "from " + s.name, Provider: s.name, Model: req.Model}, nil
}

func (s *stubText) Stream(context.Context, *providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	s.calls++
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	ch := make(chan providers.StreamEvent, 1)
	ch <- providers.StreamEvent{Type: providers.StreamDone, Provider: s.name}
	close(ch)
	return ch, nil
}

func newTestRegistry(t *testing.T, stubs ...*stubText) *providers.Registry {
	t.Helper()
	r := providers.NewRegistry(zap.NewNop())
	for i, s := range stubs {
		require.NoError(t, r.Register(s, providers.Descriptor{Enabled: true, Priority: i}))
	}
	r.Freeze()
	return r
}

func TestService_ResolveProvider(t *testing.T) {
	s := NewService(newTestRegistry(t), zap.NewNop())

	t.Run("explicit provider wins verbatim", func(t *testing.T) {
		name, err := s.ResolveProvider(&providers.CompletionRequest{
			Model:    "gpt-4o",
			Provider: "not-even-registered",
		})

		require.NoError(t, err)
		assert.Equal(t, "not-even-registered", name)
	})

	rules := []struct {
		model    string
		provider string
	}{
		{"gpt-4o", "openai"},
		{"gpt-3.5-turbo", "openai"},
		{"dall-e-3", "openai"},
		{"claude-3-5-sonnet", "anthropic"},
		{"mistral-large-latest", "mistral"},
		{"open-mistral-7b", "mistral"},
		{"stable-diffusion-xl", "stability"},
	}
	for _, tt := range rules {
		t.Run("routes "+tt.model, func(t *testing.T) {
			name, err := s.ResolveProvider(&providers.CompletionRequest{Model: tt.model})

			require.NoError(t, err)
			assert.Equal(t, tt.provider, name)
		})
	}

	t.Run("unknown model is unresolved", func(t *testing.T) {
		_, err := s.ResolveProvider(&providers.CompletionRequest{Model: "llama-70b"})

		var unresolved *UnresolvedModelError
		require.ErrorAs(t, err, &unresolved)
		assert.Equal(t, "llama-70b", unresolved.Model)
	})

	t.Run("first matching rule wins", func(t *testing.T) {
		custom := NewService(newTestRegistry(t), zap.NewNop(), WithRules([]Rule{
			{Prefix: "gpt-4", Provider: "special"},
			{Prefix: "gpt-", Provider: "openai"},
		}))

		name, err := custom.ResolveProvider(&providers.CompletionRequest{Model: "gpt-4o"})
		require.NoError(t, err)
		assert.Equal(t, "special", name)
	})
}

func TestService_Complete(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		primary := &stubText{name: "openai"}
		fallback := &stubText{name: "mistral"}
		s := NewService(newTestRegistry(t, primary, fallback), zap.NewNop())

		result, err := s.Complete(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})

		require.NoError(t, err)
		assert.Equal(t, "openai", result.Provider)
		assert.Equal(t, 1, primary.calls)
		assert.Zero(t, fallback.calls)
	})

	t.Run("fallback serves when primary fails", func(t *testing.T) {
		primary := &stubText{name: "openai", completeErr: errors.New("vendor down")}
		fallback := &stubText{name: "mistral"}
		s := NewService(newTestRegistry(t, primary, fallback), zap.NewNop())

		result, err := s.Complete(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})

		require.NoError(t, err)
		assert.Equal(t, "mistral", result.Provider)
		assert.Equal(t, 1, primary.calls)
		assert.Equal(t, 1, fallback.calls)
	})

	t.Run("all attempts fail returns primary error", func(t *testing.T) {
		primaryErr := providers.NewProviderError("openai", "SERVER_ERROR", "primary exploded", 500, true, nil)
		primary := &stubText{name: "openai", completeErr: primaryErr}
		fallback := &stubText{name: "mistral", completeErr: errors.New("fallback also down")}
		s := NewService(newTestRegistry(t, primary, fallback), zap.NewNop())

		_, err := s.Complete(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})

		require.Error(t, err)
		assert.ErrorIs(t, err, primaryErr)
		assert.Equal(t, 1, primary.calls)
		assert.Equal(t, 1, fallback.calls)
	})

	t.Run("request fallback chain overrides the default", func(t *testing.T) {
		primary := &stubText{name: "openai", completeErr: errors.New("down")}
		anthropicStub := &stubText{name: "anthropic"}
		mistralStub := &stubText{name: "mistral"}
		s := NewService(newTestRegistry(t, primary, anthropicStub, mistralStub), zap.NewNop())

		result, err := s.Complete(context.Background(), &providers.CompletionRequest{
			Model:             "gpt-4o",
			FallbackProviders: []string{"anthropic"},
		})

		require.NoError(t, err)
		assert.Equal(t, "anthropic", result.Provider)
		assert.Zero(t, mistralStub.calls)
	})

	t.Run("primary duplicated in fallbacks is attempted once", func(t *testing.T) {
		primary := &stubText{name: "openai", completeErr: errors.New("down")}
		s := NewService(newTestRegistry(t, primary), zap.NewNop(),
			WithDefaultFallbacks([]string{"openai"}))

		_, err := s.Complete(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})

		require.Error(t, err)
		assert.Equal(t, 1, primary.calls)
	})

	t.Run("unknown explicit provider with working fallback", func(t *testing.T) {
		mistralStub := &stubText{name: "mistral"}
		s := NewService(newTestRegistry(t, mistralStub), zap.NewNop())

		result, err := s.Complete(context.Background(), &providers.CompletionRequest{
			Model:    "gpt-4o",
			Provider: "ghost",
		})

		require.NoError(t, err)
		assert.Equal(t, "mistral", result.Provider)
	})

	t.Run("unresolved model fails before any call", func(t *testing.T) {
		stub := &stubText{name: "openai"}
		s := NewService(newTestRegistry(t, stub), zap.NewNop())

		_, err := s.Complete(context.Background(), &providers.CompletionRequest{Model: "llama-70b"})

		var unresolved *UnresolvedModelError
		require.ErrorAs(t, err, &unresolved)
		assert.Zero(t, stub.calls)
	})
}

func TestService_Stream(t *testing.T) {
	t.Run("streams from the primary", func(t *testing.T) {
		primary := &stubText{name: "openai"}
		s := NewService(newTestRegistry(t, primary), zap.NewNop())

		events, err := s.Stream(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})
		require.NoError(t, err)

		ev := <-events
		assert.Equal(t, providers.StreamDone, ev.Type)
		assert.Equal(t, "openai", ev.Provider)
	})

	t.Run("does not fall back on stream failure", func(t *testing.T) {
		primary := &stubText{name: "openai", streamErr: errors.New("stream refused")}
		fallback := &stubText{name: "mistral"}
		s := NewService(newTestRegistry(t, primary, fallback), zap.NewNop())

		_, err := s.Stream(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})

		require.Error(t, err)
		assert.Equal(t, 1, primary.calls)
		assert.Zero(t, fallback.calls)
	})

	t.Run("unresolved model", func(t *testing.T) {
		s := NewService(newTestRegistry(t), zap.NewNop())

		_, err := s.Stream(context.Background(), &providers.CompletionRequest{Model: "llama-70b"})

		var unresolved *UnresolvedModelError
		assert.ErrorAs(t, err, &unresolved)
	})
}
