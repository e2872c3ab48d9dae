package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// restoreGlobals puts back the OTel globals replaced by Init.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp, prop := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestInit_ServesBridgedMetrics(t *testing.T) {
	restoreGlobals(t)

	tel, err := Init(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer tel.Shutdown(context.Background())

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.Exports.Add(context.Background(), 1)

	body := scrape(t, tel.Handler())
	for _, want := range []string{"babelvox_exports", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output lacks %q", want)
		}
	}
}

func TestInit_InstallsProviders(t *testing.T) {
	restoreGlobals(t)

	exp := tracetest.NewInMemoryExporter()
	tel, err := Init(context.Background(), ProviderConfig{TraceExporter: exp, SampleRatio: 1})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := StartSpan(context.Background(), "export")
	if !span.SpanContext().IsSampled() {
		t.Error("span not sampled with ratio 1")
	}
	span.End()

	if _, ok := otel.GetTextMapPropagator().(propagation.TraceContext); !ok {
		t.Errorf("propagator = %T, want TraceContext", otel.GetTextMapPropagator())
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported spans = %d, want 1", len(spans))
	}
	res := spans[0].Resource
	if res.SchemaURL() != semconv.SchemaURL {
		t.Errorf("resource schema = %q, want %q", res.SchemaURL(), semconv.SchemaURL)
	}
	if v, _ := res.Set().Value(semconv.ServiceNameKey); v.AsString() != "babelvox" {
		t.Errorf("service.name = %q, want babelvox", v.AsString())
	}
}

func TestInit_HonoursSampledParent(t *testing.T) {
	restoreGlobals(t)

	tel, err := Init(context.Background(), ProviderConfig{SampleRatio: 0.0000001})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer tel.Shutdown(context.Background())

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)
	_, span := StartSpan(ctx, "child")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Error("child of a sampled parent was dropped")
	}
}
