// Package observe provides observability primitives for Loba: OpenTelemetry
// metrics and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through a Prometheus bridge (see [InitProvider]) so they can be scraped
// from the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Loba metrics.
const meterName = "github.com/lobacast/loba"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TranslateDuration tracks caption translation latency.
	TranslateDuration metric.Float64Histogram

	// SegmentDuration tracks the audio duration of finalized utterances.
	SegmentDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksDropped counts audio chunks discarded because the intake queue
	// was full.
	ChunksDropped metric.Int64Counter

	// SegmentsFinalized counts utterances emitted by the segmenter. Use with
	// attribute: attribute.String("reason", "silence"|"max_length"|"forced")
	SegmentsFinalized metric.Int64Counter

	// SegmentsDiscarded counts segments dropped after finalization. Use with
	// attribute: attribute.String("reason", "stt_error"|"translate_error"|
	// "empty"|"duplicate"|"stale")
	SegmentsDiscarded metric.Int64Counter

	// StaleResults counts worker results suppressed by an epoch mismatch.
	StaleResults metric.Int64Counter

	// EventsPublished counts caption events broadcast to subscribers. Use
	// with attribute: attribute.String("type", "final"|"partial"|"clear")
	EventsPublished metric.Int64Counter

	// ProviderErrors counts STT/translate backend errors. Use with
	// attributes: attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSubscribers tracks the number of connected overlay clients.
	ActiveSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for caption-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("loba.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("loba.translate.duration",
		metric.WithDescription("Latency of caption translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("loba.segment.duration",
		metric.WithDescription("Audio duration of finalized utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksDropped, err = m.Int64Counter("loba.chunks.dropped",
		metric.WithDescription("Audio chunks discarded because the intake queue was full."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsFinalized, err = m.Int64Counter("loba.segments.finalized",
		metric.WithDescription("Utterances emitted by the segmenter, by finalization reason."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("loba.segments.discarded",
		metric.WithDescription("Finalized segments dropped before broadcast, by reason."),
	); err != nil {
		return nil, err
	}
	if met.StaleResults, err = m.Int64Counter("loba.results.stale",
		metric.WithDescription("Worker results suppressed by an epoch mismatch."),
	); err != nil {
		return nil, err
	}
	if met.EventsPublished, err = m.Int64Counter("loba.events.published",
		metric.WithDescription("Caption events broadcast to subscribers, by type."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("loba.provider.errors",
		metric.WithDescription("STT and translation backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("loba.active_subscribers",
		metric.WithDescription("Number of connected overlay clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("loba.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegmentFinalized records one finalized utterance with its
// finalization reason and audio duration in seconds.
func (m *Metrics) RecordSegmentFinalized(ctx context.Context, reason string, durationSec float64) {
	m.SegmentsFinalized.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.SegmentDuration.Record(ctx, durationSec)
}

// RecordSegmentDiscarded records one segment dropped before broadcast.
func (m *Metrics) RecordSegmentDiscarded(ctx context.Context, reason string) {
	m.SegmentsDiscarded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordEventPublished records one broadcast caption event by type.
func (m *Metrics) RecordEventPublished(ctx context.Context, eventType string) {
	m.EventsPublished.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordProviderError records one backend error by provider and kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
