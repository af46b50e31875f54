// Package pricing maps model identifiers and usage counts to monetary
// cost. It backs both pre-flight estimation and post-hoc accounting and
// never fails: unknown models price at zero rather than blocking a
// response.
package pricing

import (
	"strconv"
	"strings"
)

// ModelPrice holds USD prices per million tokens.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// modelPrices is the static text pricing table, keyed by model id.
// Entries also act as prefixes for longest-prefix fallback, so versioned
// ids like "claude-3-opus-20240229" resolve to "claude-3-opus".
var modelPrices = map[string]ModelPrice{
	// OpenAI
	"gpt-4":         {InputPerMillion: 30, OutputPerMillion: 60},
	"gpt-4-turbo":   {InputPerMillion: 10, OutputPerMillion: 30},
	"gpt-4o":        {InputPerMillion: 5, OutputPerMillion: 15},
	"gpt-4o-mini":   {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-3.5-turbo": {InputPerMillion: 0.50, OutputPerMillion: 1.50},

	// Anthropic
	"claude-3-opus":     {InputPerMillion: 15, OutputPerMillion: 75},
	"claude-3-5-sonnet": {InputPerMillion: 3, OutputPerMillion: 15},
	"claude-3-sonnet":   {InputPerMillion: 3, OutputPerMillion: 15},
	"claude-3-haiku":    {InputPerMillion: 0.25, OutputPerMillion: 1.25},

	// Mistral
	"mistral-large":  {InputPerMillion: 4, OutputPerMillion: 12},
	"mistral-medium": {InputPerMillion: 2.7, OutputPerMillion: 8.1},
	"mistral-small":  {InputPerMillion: 1, OutputPerMillion: 3},
	"open-mistral":   {InputPerMillion: 0.25, OutputPerMillion: 0.25},
}

// imageBaseCents is the flat per-image cost by model at standard quality,
// 1024x1024 and below.
var imageBaseCents = map[string]int{
	"stable-diffusion-xl": 8,
	"dall-e-3":            12,
	"midjourney-v6":       15,
}

// Lookup returns the price entry for a model id: exact match first, then
// the longest registered prefix. The second return is false when nothing
// matches.
func Lookup(model string) (ModelPrice, bool) {
	if price, ok := modelPrices[model]; ok {
		return price, true
	}

	var best string
	for prefix := range modelPrices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return modelPrices[best], true
}

// Cost returns the USD cost of a completion. Unknown models cost zero;
// absence of pricing data must not block a response.
func Cost(model string, tokensIn, tokensOut int) float64 {
	price, ok := Lookup(model)
	if !ok {
		return 0
	}
	return float64(tokensIn)/1e6*price.InputPerMillion +
		float64(tokensOut)/1e6*price.OutputPerMillion
}

// ImageCostCents returns the flat per-image cost in cents for a model,
// size and quality tier. Unknown models cost zero.
func ImageCostCents(model, size, quality string) int {
	base, ok := imageBaseCents[model]
	if !ok {
		var best string
		for prefix := range imageBaseCents {
			if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
				best = prefix
			}
		}
		if best == "" {
			return 0
		}
		base = imageBaseCents[best]
	}

	cents := base
	if quality == "hd" || quality == "ultra" {
		cents *= 2
	}
	if isLargeSize(size) {
		cents = cents * 3 / 2
	}
	return cents
}

// isLargeSize reports whether either dimension exceeds 1024.
func isLargeSize(size string) bool {
	w, h, ok := ParseSize(size)
	if !ok {
		return false
	}
	return w > 1024 || h > 1024
}

// ParseSize splits a "WIDTHxHEIGHT" string. Returns ok=false on any
// malformed input.
func ParseSize(size string) (width, height int, ok bool) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	width, werr := strconv.Atoi(parts[0])
	height, herr := strconv.Atoi(parts[1])
	if werr != nil || herr != nil || width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}
