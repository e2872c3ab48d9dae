package observe

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// RouteOther labels requests for paths the server does not serve. Keeping
// unknown paths under one label bounds metric cardinality.
const RouteOther = "other"

// routes are the paths reported verbatim as the "route" label.
var routes = map[string]bool{
	"/session":   true,
	"/export":    true,
	"/voices":    true,
	"/languages": true,
	"/metrics":   true,
	"/healthz":   true,
	"/readyz":    true,
}

// quietRoutes are polled by infrastructure and logged at debug.
var quietRoutes = map[string]bool{
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
}

// Route returns the label used for path in spans, metrics and logs.
func Route(path string) string {
	if routes[path] {
		return path
	}
	return RouteOther
}

// responseObserver captures the status code written by the downstream
// handler. A handler that writes a body without a header reports 200.
type responseObserver struct {
	http.ResponseWriter
	status int
}

func (o *responseObserver) WriteHeader(code int) {
	if o.status == 0 {
		o.status = code
	}
	o.ResponseWriter.WriteHeader(code)
}

func (o *responseObserver) Write(b []byte) (int, error) {
	if o.status == 0 {
		o.status = http.StatusOK
	}
	return o.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to [http.ResponseController], which the
// WebSocket upgrade uses to hijack the connection.
func (o *responseObserver) Unwrap() http.ResponseWriter {
	return o.ResponseWriter
}

func (o *responseObserver) code() int {
	if o.status == 0 {
		return http.StatusOK
	}
	return o.status
}

// Middleware returns an [http.Handler] wrapper that continues or starts a W3C
// trace for each request, echoes the trace ID as X-Correlation-ID, records
// [Metrics.HTTPRequestDuration] per method, route and status, and logs the
// outcome. For an upgraded /session request the recorded duration is the
// lifetime of the page session.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := Route(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			obs := &responseObserver{ResponseWriter: w}
			next.ServeHTTP(obs, r.WithContext(ctx))

			status := obs.code()
			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.Int("status", status),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			logRequest(ctx, r.Method, route, status, elapsed)
		})
	}
}

func logRequest(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	level, msg := slog.LevelInfo, "request completed"
	switch {
	case status == http.StatusSwitchingProtocols:
		msg = "session closed"
	case status >= http.StatusInternalServerError:
		level = slog.LevelWarn
	case quietRoutes[route]:
		level = slog.LevelDebug
	}
	Logger(ctx).LogAttrs(ctx, level, msg,
		slog.String("method", method),
		slog.String("route", route),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
	)
}
