package providers

import "time"

// StreamEventType tags the variant of a StreamEvent.
type StreamEventType string

const (
	// StreamDelta carries one incremental content fragment.
	StreamDelta StreamEventType = "delta"

	// StreamDone terminates a stream after graceful completion. Content is
	// the concatenation of all prior deltas.
	StreamDone StreamEventType = "done"

	// StreamError terminates a stream after any failure, including
	// mid-stream network failure.
	StreamError StreamEventType = "error"
)

// StreamEvent is the uniform incremental output shape for all vendors.
// Any number of Delta events precede exactly one Done or Error event;
// the channel is closed after the terminal event.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// Delta is the content fragment (Delta events only)
	Delta string `json:"delta,omitempty"`

	// Content is the full accumulated text (Done events only)
	Content string `json:"content,omitempty"`

	// TokensIn/TokensOut are the last vendor-reported usage counts
	// (Done events only)
	TokensIn  int `json:"tokens_in,omitempty"`
	TokensOut int `json:"tokens_out,omitempty"`

	// Latency of the whole stream (Done events only)
	Latency time.Duration `json:"latency,omitempty"`

	// CostUSD is the realized cost (Done events only)
	CostUSD float64 `json:"cost_usd,omitempty"`

	// Provider that produced the stream (Done events only)
	Provider string `json:"provider,omitempty"`

	// Error is the failure description (Error events only)
	Error string `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == StreamDone || e.Type == StreamError
}
