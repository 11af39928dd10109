// Package observe provides the observability primitives for Voxa:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware.
//
// Metrics go through the OpenTelemetry Metrics API. [InitProvider] installs a
// Prometheus exporter bridge so they can be scraped from /metrics. Components
// take a *[Metrics]; production code uses [DefaultMetrics] and tests build
// their own with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all Voxa metrics.
const meterName = "github.com/MrWong99/voxa"

// Metrics holds every instrument the assistant records. Safe for concurrent
// use; a nil *Metrics records nothing.
type Metrics struct {
	// RecognitionDuration is the time from a recognition start to its result.
	RecognitionDuration metric.Float64Histogram

	// SynthesisDuration is the time from submitting an utterance to its end.
	SynthesisDuration metric.Float64Histogram

	// Recognitions counts finished recognition attempts by outcome:
	//   attribute.String("outcome", "result"|"error"|"start_failed")
	Recognitions metric.Int64Counter

	// Intents counts matched transcripts by category:
	//   attribute.String("category", ...)
	Intents metric.Int64Counter

	// Utterances counts utterance lifecycle events:
	//   attribute.String("status", "started"|"ended"|"error"|"cancelled")
	Utterances metric.Int64Counter

	// SessionErrors counts controller-visible errors:
	//   attribute.String("kind", ...), attribute.String("code", ...)
	SessionErrors metric.Int64Counter

	// ProviderRequests counts backend calls:
	//   attribute.String("provider", ...), attribute.String("kind", "stt"|"tts"), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend failures:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ActiveClients tracks connected browser pages.
	ActiveClients metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP handler latency:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for spoken
// interaction rather than request/response traffic.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RecognitionDuration, err = m.Float64Histogram("voxa.recognition.duration",
		metric.WithDescription("Time from recognition start to final result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("voxa.synthesis.duration",
		metric.WithDescription("Time from utterance submission to end of playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Recognitions, err = m.Int64Counter("voxa.recognitions",
		metric.WithDescription("Recognition attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Intents, err = m.Int64Counter("voxa.intents",
		metric.WithDescription("Matched transcripts by intent category."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxa.utterances",
		metric.WithDescription("Utterance lifecycle events by status."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voxa.session.errors",
		metric.WithDescription("Session errors by kind and platform error code."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxa.provider.requests",
		metric.WithDescription("Provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxa.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveClients, err = m.Int64UpDownCounter("voxa.active_clients",
		metric.WithDescription("Number of connected browser clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxa.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first call
// from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the exporting provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRecognition counts one finished recognition and, for results, its
// latency.
func (m *Metrics) RecordRecognition(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Recognitions.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	if outcome == "result" && d > 0 {
		m.RecognitionDuration.Record(ctx, d.Seconds())
	}
}

// RecordIntent counts one matched category.
func (m *Metrics) RecordIntent(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.Intents.Add(ctx, 1, metric.WithAttributes(Attr("category", category)))
}

// RecordUtterance counts an utterance event. A positive d is recorded as the
// synthesis duration.
func (m *Metrics) RecordUtterance(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Utterances.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
	if d > 0 {
		m.SynthesisDuration.Record(ctx, d.Seconds())
	}
}

// RecordSessionError counts one error surfaced by the session controller.
func (m *Metrics) RecordSessionError(ctx context.Context, kind, code string) {
	if m == nil {
		return
	}
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind), Attr("code", code)))
}

// RecordProviderRequest counts one backend call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordProviderError counts one backend failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}

// RecordActiveClients adjusts the connected client count by delta.
func (m *Metrics) RecordActiveClients(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveClients.Add(ctx, delta)
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}
