package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sockline-dev/sockline/pkg/server"
)

func resetGlobalMetricsForTest() {
	globalMetricsMu.Lock()
	globalMetrics = nil
	globalMetricsMu.Unlock()
}

// waitService signals the lifecycle events its callbacks observe, so tests
// can assert counters only after the instrumented hook has run.
type waitService struct {
	opened chan struct{}
	msgs   chan string
}

func newWaitService() *waitService {
	return &waitService{
		opened: make(chan struct{}, 4),
		msgs:   make(chan string, 16),
	}
}

func (s *waitService) OnOpen(sess *server.Session)              { s.opened <- struct{}{} }
func (s *waitService) OnMessage(sess *server.Session, m string) { s.msgs <- m }
func (s *waitService) OnClose(sess *server.Session)             {}

func waitSignal[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

// newSockJSHandler builds a quiet handler around svc and tears its sessions
// down with the test.
func newSockJSHandler(t *testing.T, svc server.Service) *server.Handler {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := server.NewHandler(svc, cfg)
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Registry().ShutdownWithContext(ctx)
	})
	return h
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

// captureProvider records started spans through a minimal tracer, standing in
// for an SDK the tests do not need.
type captureProvider struct {
	embedded.TracerProvider
	tracer *captureTracer
}

func (p *captureProvider) Tracer(name string, _ ...trace.TracerOption) trace.Tracer {
	p.tracer.mu.Lock()
	p.tracer.name = name
	p.tracer.mu.Unlock()
	return p.tracer
}

type captureTracer struct {
	embedded.Tracer

	mu    sync.Mutex
	name  string
	spans []*captureSpan
}

func (c *captureTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &captureSpan{name: name, kind: cfg.SpanKind(), attrs: cfg.Attributes()}
	c.mu.Lock()
	c.spans = append(c.spans, s)
	c.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

func (c *captureTracer) recorded() []*captureSpan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*captureSpan(nil), c.spans...)
}

// installCaptureTracer swaps the global tracer provider for the duration of
// the test and returns the tracer that collects spans. The original global
// provider is a delegate that cannot be reinstalled, so cleanup leaves a
// noop provider behind instead.
func installCaptureTracer(t *testing.T) *captureTracer {
	t.Helper()
	tracer := &captureTracer{}
	otel.SetTracerProvider(&captureProvider{tracer: tracer})
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	return tracer
}

type captureSpan struct {
	embedded.Span

	mu         sync.Mutex
	name       string
	kind       trace.SpanKind
	attrs      []attribute.KeyValue
	statusCode codes.Code
	statusDesc string
	ended      bool
}

func (s *captureSpan) End(...trace.SpanEndOption) {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

func (s *captureSpan) AddEvent(string, ...trace.EventOption) {}

func (s *captureSpan) IsRecording() bool { return true }

func (s *captureSpan) RecordError(error, ...trace.EventOption) {}

func (s *captureSpan) SpanContext() trace.SpanContext { return trace.SpanContext{} }

func (s *captureSpan) SetStatus(code codes.Code, desc string) {
	s.mu.Lock()
	s.statusCode, s.statusDesc = code, desc
	s.mu.Unlock()
}

func (s *captureSpan) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *captureSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	s.attrs = append(s.attrs, kv...)
	s.mu.Unlock()
}

func (s *captureSpan) TracerProvider() trace.TracerProvider { return nil }

// attrValue returns the recorded string form of the attribute named key,
// or "" when the span never saw it.
func (s *captureSpan) attrValue(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range s.attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func (s *captureSpan) status() (codes.Code, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCode, s.statusDesc
}
