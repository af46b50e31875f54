package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		price, ok := Lookup("gpt-4o")
		require.True(t, ok)
		assert.Equal(t, 5.0, price.InputPerMillion)
	})

	t.Run("longest prefix wins", func(t *testing.T) {
		price, ok := Lookup("gpt-4o-mini-2024-07-18")
		require.True(t, ok)
		assert.Equal(t, 0.15, price.InputPerMillion)
	})

	t.Run("versioned claude resolves to family", func(t *testing.T) {
		price, ok := Lookup("claude-3-opus-20240229")
		require.True(t, ok)
		assert.Equal(t, 15.0, price.InputPerMillion)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, ok := Lookup("llama-70b")
		assert.False(t, ok)
	})
}

func TestCost(t *testing.T) {
	t.Run("known model", func(t *testing.T) {
		// gpt-4o: $5/M input, $15/M output
		cost := Cost("gpt-4o", 1_000_000, 1_000_000)
		assert.InDelta(t, 20.0, cost, 1e-9)
	})

	t.Run("unknown model costs zero", func(t *testing.T) {
		assert.Zero(t, Cost("llama-70b", 1_000_000, 1_000_000))
	})

	t.Run("zero usage costs zero", func(t *testing.T) {
		assert.Zero(t, Cost("gpt-4o", 0, 0))
	})

	t.Run("monotonic in output tokens", func(t *testing.T) {
		small := Cost("claude-3-5-sonnet", 100, 100)
		large := Cost("claude-3-5-sonnet", 100, 10_000)
		assert.Greater(t, large, small)
	})
}

func TestImageCostCents(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		size    string
		quality string
		want    int
	}{
		{"sdxl standard", "stable-diffusion-xl", "1024x1024", "standard", 8},
		{"dall-e-3 standard", "dall-e-3", "1024x1024", "standard", 12},
		{"midjourney standard", "midjourney-v6", "1024x1024", "standard", 15},
		{"hd doubles", "dall-e-3", "1024x1024", "hd", 24},
		{"ultra doubles", "stable-diffusion-xl", "1024x1024", "ultra", 16},
		{"large size multiplies", "dall-e-3", "1792x1024", "standard", 18},
		{"hd and large stack", "dall-e-3", "1792x1024", "hd", 36},
		{"unknown model costs zero", "imagen-3", "1024x1024", "standard", 0},
		{"malformed size uses base", "dall-e-3", "big", "standard", 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ImageCostCents(tt.model, tt.size, tt.quality))
		})
	}
}

func TestParseSize(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		w, h, ok := ParseSize("1792x1024")
		require.True(t, ok)
		assert.Equal(t, 1792, w)
		assert.Equal(t, 1024, h)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, size := range []string{"", "1024", "x1024", "1024x", "axb", "-1x100"} {
			_, _, ok := ParseSize(size)
			assert.False(t, ok, "size %q should not parse", size)
		}
	})
}
