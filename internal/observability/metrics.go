package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all router metrics.
const meterName = "github.com/Luneo19/luneo-platform-sub016"

// RequestLabels contains the metric dimensions attached to every
// recorded request.
type RequestLabels struct {
	Tenant   string
	Model    string
	Provider string
	Status   string
}

func (l RequestLabels) attributes() metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("tenant", l.Tenant),
		attribute.String("model", l.Model),
		attribute.String("provider", l.Provider),
		attribute.String("status", l.Status),
	)
}

// latencyBuckets are histogram boundaries in seconds, sized for LLM and
// image generation latencies.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// Metrics holds the OpenTelemetry instruments for the routing core.
// All instruments are safe for concurrent use.
type Metrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	tokens   metric.Int64Counter
	cost     metric.Float64Counter
}

// NewMetrics creates the instrument set on the given meter provider.
// Tests should pass a manual-reader provider to avoid cross-test
// pollution; production callers can pass otel.GetMeterProvider().
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.requests, err = m.Int64Counter("airouter.requests",
		metric.WithDescription("Total routed requests by tenant, model, provider, and status."),
	); err != nil {
		return nil, err
	}
	if met.latency, err = m.Float64Histogram("airouter.request.duration",
		metric.WithDescription("Latency of provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.tokens, err = m.Int64Counter("airouter.tokens",
		metric.WithDescription("Total tokens by direction (attribute \"direction\": input|output)."),
	); err != nil {
		return nil, err
	}
	if met.cost, err = m.Float64Counter("airouter.cost.cents",
		metric.WithDescription("Realized cost in cents."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Default returns a Metrics instance backed by the globally installed
// meter provider. When no SDK is installed this records to no-op
// instruments, so callers never need to nil-check.
func Default() *Metrics {
	met, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		// The no-op provider never fails instrument creation; a real SDK
		// failing here means a duplicate-instrument bug worth surfacing.
		panic(err)
	}
	return met
}

// RecordRequest counts one routed request.
func (m *Metrics) RecordRequest(ctx context.Context, labels RequestLabels) {
	m.requests.Add(ctx, 1, labels.attributes())
}

// RecordLatency records one provider call duration.
func (m *Metrics) RecordLatency(ctx context.Context, d time.Duration, labels RequestLabels) {
	m.latency.Record(ctx, d.Seconds(), labels.attributes())
}

// RecordTokens records vendor-reported usage for one call.
func (m *Metrics) RecordTokens(ctx context.Context, input, output int, labels RequestLabels) {
	m.tokens.Add(ctx, int64(input), labels.attributes(),
		metric.WithAttributes(attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(output), labels.attributes(),
		metric.WithAttributes(attribute.String("direction", "output")))
}

// RecordCost records the realized cost of one call, in cents.
func (m *Metrics) RecordCost(ctx context.Context, cents float64, labels RequestLabels) {
	m.cost.Add(ctx, cents, labels.attributes())
}
