package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luneo19/luneo-platform-sub016/services/providers"
)

func testConfig(baseURL string) providers.Config {
	return providers.Config{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: 0,
	}
}

func TestAdapter_Available(t *testing.T) {
	t.Run("with key", func(t *testing.T) {
		a := New(testConfig(""))
		assert.True(t, a.Available())
	})

	t.Run("without key", func(t *testing.T) {
		a := New(providers.Config{})
		assert.False(t, a.Available())
	})
}

func TestAdapter_Complete(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "gpt-4o", req.Model)
			assert.False(t, req.Stream)

			json.NewEncoder(w).Encode(chatResponse{
				Model: "gpt-4o-2024-08-06",
				Choices: []chatChoice{{
					Message:      chatMessage{Role: "assistant", Content: "Hello there."},
					FinishReason: "stop",
				}},
				Usage: usage{PromptTokens: 12, CompletionTokens: 5},
			})
		}))
		defer srv.Close()

		a := New(testConfig(srv.URL))
		result, err := a.Complete(context.Background(), &providers.CompletionRequest{
			Model:    "gpt-4o",
			Messages: []providers.Message{{Role: providers.RoleUser, Content: "Hi"}},
		})

		require.NoError(t, err)
		assert.Equal(t, "Hello there.", result.Content)
		assert.Equal(t, "openai", result.Provider)
		assert.Equal(t, "gpt-4o-2024-08-06", result.Model)
		assert.Equal(t, 12, result.TokensIn)
		assert.Equal(t, 5, result.TokensOut)
		assert.Equal(t, "stop", result.FinishReason)
		assert.Greater(t, result.CostUSD, 0.0)
	})

	t.Run("vendor error becomes provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"Incorrect API key","type":"invalid_request_error"}}`)
		}))
		defer srv.Close()

		a := New(testConfig(srv.URL))
		_, err := a.Complete(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})

		var provErr *providers.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, "openai", provErr.Provider)
		assert.Equal(t, http.StatusUnauthorized, provErr.StatusCode)
		assert.Contains(t, provErr.Message, "Incorrect API key")
		assert.False(t, provErr.Retryable)
	})

	t.Run("rate limit is retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
		}))
		defer srv.Close()

		a := New(testConfig(srv.URL))
		_, err := a.Complete(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})

		assert.True(t, providers.IsRetryable(err))
	})

	t.Run("empty choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"model":"gpt-4o","choices":[]}`)
		}))
		defer srv.Close()

		a := New(testConfig(srv.URL))
		_, err := a.Complete(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})

		var provErr *providers.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, "EMPTY_RESPONSE", provErr.Code)
	})
}

func TestAdapter_Stream(t *testing.T) {
	t.Run("deltas arrive in order and done carries the concatenation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.True(t, req.Stream)
			require.NotNil(t, req.StreamOptions)
			assert.True(t, req.StreamOptions.IncludeUsage)

			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
			fmt.Fprint(w, "data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
			fmt.Fprint(w, "data: {\"model\":\"gpt-4o\",\"choices\":[],\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":2}}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
		}))
		defer srv.Close()

		a := New(testConfig(srv.URL))
		events, err := a.Stream(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})
		require.NoError(t, err)

		var got []providers.StreamEvent
		for ev := range events {
			got = append(got, ev)
		}

		require.Len(t, got, 3)
		assert.Equal(t, providers.StreamDelta, got[0].Type)
		assert.Equal(t, "Hel", got[0].Delta)
		assert.Equal(t, providers.StreamDelta, got[1].Type)
		assert.Equal(t, "lo", got[1].Delta)

		done := got[2]
		assert.Equal(t, providers.StreamDone, done.Type)
		assert.Equal(t, "Hello", done.Content)
		assert.Equal(t, 4, done.TokensIn)
		assert.Equal(t, 2, done.TokensOut)
		assert.Greater(t, done.CostUSD, 0.0)
	})

	t.Run("missing done marker is a stream error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		}))
		defer srv.Close()

		a := New(testConfig(srv.URL))
		events, err := a.Stream(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})
		require.NoError(t, err)

		var got []providers.StreamEvent
		for ev := range events {
			got = append(got, ev)
		}

		require.Len(t, got, 2)
		assert.Equal(t, providers.StreamDelta, got[0].Type)
		assert.Equal(t, providers.StreamError, got[1].Type)
	})

	t.Run("cancellation closes the channel without a done event", func(t *testing.T) {
		blockUntilClosed := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			close(blockUntilClosed)
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		a := New(testConfig(srv.URL))
		events, err := a.Stream(ctx, &providers.CompletionRequest{Model: "gpt-4o"})
		require.NoError(t, err)

		first := <-events
		assert.Equal(t, providers.StreamDelta, first.Type)

		cancel()

		for ev := range events {
			assert.NotEqual(t, providers.StreamDone, ev.Type, "no Done after cancellation")
		}

		select {
		case <-blockUntilClosed:
		case <-time.After(5 * time.Second):
			t.Fatal("server never observed the cancellation")
		}
	})

	t.Run("non-200 fails before returning a channel", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
		}))
		defer srv.Close()

		a := New(testConfig(srv.URL))
		_, err := a.Stream(context.Background(), &providers.CompletionRequest{Model: "gpt-4o"})

		var provErr *providers.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.True(t, provErr.Retryable)
	})
}

func TestAdapter_GenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)

		var req imageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dall-e-3", req.Model)
		assert.Equal(t, 1, req.N)

		fmt.Fprint(w, `{"data":[{"url":"https://cdn.example/img.png","revised_prompt":"A refined fox"}]}`)
	}))
	defer srv.Close()

	a := New(testConfig(srv.URL))
	result, err := a.GenerateImage(context.Background(), &providers.GenerationOptions{
		Prompt: "A fox",
		Size:   "1024x1024",
	})

	require.NoError(t, err)
	require.Len(t, result.Images, 1)
	assert.Equal(t, "https://cdn.example/img.png", result.Images[0].URL)
	assert.Equal(t, 1024, result.Images[0].Width)
	assert.Equal(t, "A refined fox", result.Prompt)
	assert.Equal(t, "dall-e-3", result.Model)
	assert.Equal(t, 12, result.CostCents)
}

func TestAdapter_EstimateCost(t *testing.T) {
	a := New(testConfig(""))

	tests := []struct {
		name string
		opts providers.GenerationOptions
		want int
	}{
		{"default model standard", providers.GenerationOptions{}, 12},
		{"hd doubles", providers.GenerationOptions{Quality: "hd"}, 24},
		{"two images", providers.GenerationOptions{NumImages: 2}, 24},
		{"explicit sdxl", providers.GenerationOptions{Model: "stable-diffusion-xl"}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.EstimateCost(&tt.opts))
		})
	}
}

func TestAdapter_ModeratePrompt(t *testing.T) {
	t.Run("clean prompt approved with native confidence", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/moderations", r.URL.Path)
			fmt.Fprint(w, `{"results":[{"flagged":false,"categories":{},"category_scores":{}}]}`)
		}))
		defer srv.Close()

		a := New(testConfig(srv.URL))
		result, err := a.ModeratePrompt(context.Background(), "a watercolor fox")

		require.NoError(t, err)
		assert.True(t, result.Approved)
		assert.Equal(t, 0.95, result.Confidence)
	})

	t.Run("flagged prompt rejected with category detail", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"results":[{"flagged":true,"categories":{"violence":true,"hate":false},"category_scores":{"violence":0.87,"hate":0.01}}]}`)
		}))
		defer srv.Close()

		a := New(testConfig(srv.URL))
		result, err := a.ModeratePrompt(context.Background(), "something grim")

		require.NoError(t, err)
		assert.False(t, result.Approved)
		assert.Contains(t, result.Categories, "violence")
		assert.Equal(t, 0.87, result.Confidence)
	})

	t.Run("endpoint failure surfaces as error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		a := New(testConfig(srv.URL))
		_, err := a.ModeratePrompt(context.Background(), "a fox")

		var provErr *providers.ProviderError
		assert.ErrorAs(t, err, &provErr)
	})
}
