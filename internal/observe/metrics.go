// Package observe provides application-wide observability primitives for
// babelvox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics go through the OpenTelemetry API. [Init] bridges them to a
// dedicated Prometheus registry served on /metrics. Tests build their own
// instruments with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/babelvox"

// Pipeline stage names used as the "stage" attribute.
const (
	StageTranscription = "transcription"
	StageTranslation   = "translation"
	StagePhonetic      = "phonetic"
	StageSynthesis     = "synthesis"
)

// Metrics is the set of instruments babelvox records on. Attribute keys are
// listed per field.
type Metrics struct {
	StageDuration metric.Float64Histogram // stage, status

	ProviderRequests   metric.Int64Counter // provider, kind, status
	ProviderErrors     metric.Int64Counter // provider, kind
	BreakerTransitions metric.Int64Counter // breaker, state

	// PipelineRuns outcomes: ok, error, superseded, limited, cancelled.
	PipelineRuns metric.Int64Counter
	// CaptureSessions outcomes: transcribed, empty, denied, failed, cancelled.
	CaptureSessions metric.Int64Counter

	WaveformFrames metric.Int64Counter
	PlaybackStarts metric.Int64Counter
	PlaybackErrors metric.Int64Counter
	Exports        metric.Int64Counter // format

	ActiveSessions metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram // method, route, status
}

// remoteCallBuckets are histogram bounds in seconds sized for hosted model
// calls, which routinely take several seconds.
var remoteCallBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// NewMetrics creates every instrument on mp's babelvox meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		opts []metric.Float64HistogramOption
	}{
		{&m.StageDuration, "babelvox.stage.duration", []metric.Float64HistogramOption{
			metric.WithDescription("Latency of pipeline stages."),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(remoteCallBuckets...),
		}},
		{&m.HTTPRequestDuration, "babelvox.http.request.duration", []metric.Float64HistogramOption{
			metric.WithDescription("HTTP request latency by route."),
			metric.WithUnit("s"),
		}},
	}
	for _, h := range histograms {
		if *h.dst, err = meter.Float64Histogram(h.name, h.opts...); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ProviderRequests, "babelvox.provider.requests", "Provider calls by provider, kind and status."},
		{&m.ProviderErrors, "babelvox.provider.errors", "Failed provider calls by provider and kind."},
		{&m.BreakerTransitions, "babelvox.provider.breaker_transitions", "Circuit breaker state changes."},
		{&m.PipelineRuns, "babelvox.pipeline.runs", "Translation runs by outcome."},
		{&m.CaptureSessions, "babelvox.capture.sessions", "Finished microphone captures by outcome."},
		{&m.WaveformFrames, "babelvox.capture.waveform_frames", "Rendered waveform frames."},
		{&m.PlaybackStarts, "babelvox.playback.starts", "Playbacks handed to the engine."},
		{&m.PlaybackErrors, "babelvox.playback.errors", "Playbacks that failed in the engine."},
		{&m.Exports, "babelvox.exports", "Downloaded audio artifacts by format."},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	m.ActiveSessions, err = meter.Int64UpDownCounter("babelvox.active_sessions",
		metric.WithDescription("Connected browser sessions."))
	if err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instruments, created on first use
// from [otel.GetMeterProvider]. Call it after [Init] so the instruments land
// on the Prometheus bridge.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// StatusOf maps an error to the "status" attribute value.
func StatusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// labels turns alternating key, value strings into a measurement option.
func labels(kv ...string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(attrs...)
}

// RecordStage records one stage latency.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	m.StageDuration.Record(ctx, d.Seconds(), labels("stage", stage, "status", StatusOf(err)))
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, labels("provider", provider, "kind", kind, "status", status))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, labels("provider", provider, "kind", kind))
}

func (m *Metrics) RecordRun(ctx context.Context, outcome string) {
	m.PipelineRuns.Add(ctx, 1, labels("outcome", outcome))
}

func (m *Metrics) RecordCapture(ctx context.Context, outcome string) {
	m.CaptureSessions.Add(ctx, 1, labels("outcome", outcome))
}

func (m *Metrics) RecordExport(ctx context.Context, format string) {
	m.Exports.Add(ctx, 1, labels("format", format))
}

func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1, labels("breaker", breaker, "state", state))
}
