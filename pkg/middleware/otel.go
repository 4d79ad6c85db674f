package middleware

import (
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for SockJS servers.
const defaultTracerName = "sockline"

// TracingConfig configures the OpenTelemetry middleware.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "sockline").
	TracerName string

	// IncludeSessionID includes the URL session id in spans.
	// Enabled by default; ids are random and carry no user data.
	IncludeSessionID bool

	// Filter determines which requests to trace.
	// Return true to trace the request, false to skip.
	// If nil, all requests are traced.
	Filter func(r *http.Request) bool

	// AttributeExtractor extracts custom attributes from the request.
	// Called for each traced request.
	AttributeExtractor func(r *http.Request) []attribute.KeyValue

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// TracingOption configures the OpenTelemetry middleware.
type TracingOption func(*TracingConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) {
		c.TracerName = name
	}
}

// WithIncludeSessionID enables or disables session ids in spans.
func WithIncludeSessionID(include bool) TracingOption {
	return func(c *TracingConfig) {
		c.IncludeSessionID = include
	}
}

// WithRequestFilter sets a filter function for requests.
func WithRequestFilter(filter func(r *http.Request) bool) TracingOption {
	return func(c *TracingConfig) {
		c.Filter = filter
	}
}

// WithRequestAttributes sets a custom attribute extractor.
func WithRequestAttributes(extractor func(r *http.Request) []attribute.KeyValue) TracingOption {
	return func(c *TracingConfig) {
		c.AttributeExtractor = extractor
	}
}

// defaultTracingConfig returns the default tracing configuration.
func defaultTracingConfig() TracingConfig {
	return TracingConfig{
		TracerName:       defaultTracerName,
		IncludeSessionID: true,
		Filter:           nil,
	}
}

// Tracing creates HTTP middleware that traces every SockJS exchange.
//
// The middleware:
//   - Creates a span per exchange named after the transport
//   - Tags spans with the transport, method, path and session id
//   - Injects the span context into the request for downstream calls
//   - Marks spans with server errors as failed
//
// The tracer comes from the global OpenTelemetry tracer provider. Configure
// it in your main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(
//	    sdktrace.WithBatcher(exporter),
//	    sdktrace.WithResource(resource.NewWithAttributes(
//	        semconv.SchemaURL,
//	        semconv.ServiceName("my-app"),
//	    )),
//	)
//	otel.SetTracerProvider(tp)
func Tracing(opts ...TracingOption) func(http.Handler) http.Handler {
	config := defaultTracingConfig()
	for _, opt := range opts {
		opt(&config)
	}

	// Resolve tracer from global provider
	config.tracer = otel.Tracer(config.TracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Filter != nil && !config.Filter(r) {
				next.ServeHTTP(w, r)
				return
			}

			label := transportLabel(r.URL.Path)
			attrs := []attribute.KeyValue{
				attribute.String("sockjs.transport", label),
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			}
			if config.IncludeSessionID {
				if sid := sessionIDFromPath(r.URL.Path); sid != "" {
					attrs = append(attrs, attribute.String("sockjs.session_id", sid))
				}
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(r)...)
			}

			spanCtx, span := config.tracer.Start(
				r.Context(),
				"sockjs "+label,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(spanCtx))

			code := ww.Status()
			if code == 0 {
				code = http.StatusSwitchingProtocols
			}
			span.SetAttributes(attribute.Int("http.status_code", code))
			if code >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(code))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// sessionIDFromPath extracts the session id segment from a transport URL,
// or "" when the path has some other shape. The raw websocket endpoint
// carries no id.
func sessionIDFromPath(path string) string {
	switch transportLabel(path) {
	case "greeting", "info", "iframe", "other":
		return ""
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}
