package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sockline-dev/sockline/pkg/server"
)

func TestTransportLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "greeting"},
		{"/echo/", "greeting"},
		{"/info", "info"},
		{"/echo/info", "info"},
		{"/iframe.html", "iframe"},
		{"/iframe-1.2.3.html", "iframe"},
		{"/000/abc123/xhr", "xhr"},
		{"/000/abc123/xhr_send", "xhr_send"},
		{"/000/abc123/xhr_streaming", "xhr_streaming"},
		{"/000/abc123/eventsource", "eventsource"},
		{"/000/abc123/jsonp", "jsonp"},
		{"/000/abc123/jsonp_send", "jsonp_send"},
		{"/000/abc123/htmlfile", "htmlfile"},
		{"/000/abc123/websocket", "websocket"},
		{"/websocket", "websocket"},
		{"/000/abc123/bogus", "other"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := transportLabel(tt.path); got != tt.want {
				t.Errorf("transportLabel(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMetricsConfig(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		config := defaultMetricsConfig()
		if config.Namespace != "sockline" {
			t.Errorf("Namespace = %q, want %q", config.Namespace, "sockline")
		}
		if config.Subsystem != "" {
			t.Errorf("Subsystem = %q, want empty", config.Subsystem)
		}
		if config.Registry != prometheus.DefaultRegisterer {
			t.Error("Registry should be DefaultRegisterer")
		}
	})

	t.Run("with options", func(t *testing.T) {
		config := defaultMetricsConfig()
		WithNamespace("myapp")(&config)
		WithSubsystem("edge")(&config)
		WithBuckets([]float64{0.1, 0.5, 1.0})(&config)
		WithConstLabels(prometheus.Labels{"region": "eu"})(&config)

		if config.Namespace != "myapp" {
			t.Errorf("Namespace = %q, want %q", config.Namespace, "myapp")
		}
		if config.Subsystem != "edge" {
			t.Errorf("Subsystem = %q, want %q", config.Subsystem, "edge")
		}
		if len(config.Buckets) != 3 {
			t.Errorf("len(Buckets) = %d, want 3", len(config.Buckets))
		}
		if config.ConstLabels["region"] != "eu" {
			t.Errorf("ConstLabels[region] = %q, want %q", config.ConstLabels["region"], "eu")
		}
	})
}

func TestPrometheusMiddleware_CountsExchanges(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()

	h := newSockJSHandler(t, server.ServiceFunc(func(*server.Session, string) {}))
	mw := Prometheus(WithRegistry(reg))(h)

	serve(mw, http.MethodGet, "/", "")
	serve(mw, http.MethodPost, "/000/metrics1/xhr", "")
	serve(mw, http.MethodPost, "/000/metrics1/xhr_send", `["x"]`)
	serve(mw, http.MethodPost, "/000/missing/xhr_send", `["x"]`)

	c := GetMetrics()
	if c == nil {
		t.Fatal("expected GetMetrics to return collector after initialization")
	}

	counts := []struct {
		transport string
		code      string
		want      float64
	}{
		{"greeting", "200", 1},
		{"xhr", "200", 1},
		{"xhr_send", "204", 1},
		{"xhr_send", "404", 1},
	}
	for _, tt := range counts {
		if got := metricCounterValue(t, c.requestsTotal.WithLabelValues(tt.transport, tt.code)); got != tt.want {
			t.Errorf("requests_total(%s,%s)=%v, want %v", tt.transport, tt.code, got, tt.want)
		}
	}

	if got := metricHistogramCount(t, c.requestDuration.WithLabelValues("xhr")); got != 1 {
		t.Errorf("request_duration_seconds(xhr) sample count = %d, want 1", got)
	}
	if got := metricHistogramCount(t, c.requestDuration.WithLabelValues("xhr_send")); got != 2 {
		t.Errorf("request_duration_seconds(xhr_send) sample count = %d, want 2", got)
	}
}

func TestPrometheusMiddleware_WebSocketUpgradeCountsAs101(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()

	h := newSockJSHandler(t, server.ServiceFunc(func(*server.Session, string) {}))
	srv := httptest.NewServer(Prometheus(WithRegistry(reg))(h))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/000/wsmetrics/websocket"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) failed: %v", url, err)
	}
	resp.Body.Close()
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("reading open frame failed: %v", err)
	}
	conn.Close()

	// The middleware observes only after the upgraded handler returns.
	c := GetMetrics()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if metricCounterValue(t, c.requestsTotal.WithLabelValues("websocket", "101")) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("requests_total(websocket,101) never reached 1")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInstrumentService_SessionLifecycle(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()
	_ = Prometheus(WithRegistry(reg)) // initialize global metrics

	inner := newWaitService()
	h := newSockJSHandler(t, InstrumentService(inner))

	serve(h, http.MethodPost, "/000/lifecycle1/xhr", "")
	waitSignal(t, inner.opened, "OnOpen")

	c := GetMetrics()
	if got := metricCounterValue(t, c.sessionsOpened); got != 1 {
		t.Fatalf("sessions_opened_total=%v, want 1", got)
	}
	if got := metricGaugeValue(t, c.sessionsActive); got != 1 {
		t.Fatalf("sessions_active=%v, want 1", got)
	}

	serve(h, http.MethodPost, "/000/lifecycle1/xhr_send", `["one"]`)
	serve(h, http.MethodPost, "/000/lifecycle1/xhr_send", `["two","three"]`)
	for i := 0; i < 3; i++ {
		waitSignal(t, inner.msgs, "OnMessage")
	}
	if got := metricCounterValue(t, c.messagesReceived); got != 3 {
		t.Fatalf("messages_received_total=%v, want 3", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Registry().ShutdownWithContext(ctx); err != nil {
		t.Fatalf("ShutdownWithContext failed: %v", err)
	}

	if got := metricCounterValue(t, c.sessionsClosed); got != 1 {
		t.Fatalf("sessions_closed_total=%v, want 1", got)
	}
	if got := metricGaugeValue(t, c.sessionsActive); got != 0 {
		t.Fatalf("sessions_active=%v, want 0 after shutdown", got)
	}
}

func TestMetricsRecordFunctions_WithInitializedMetrics(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()

	_ = Prometheus(WithRegistry(reg)) // initialize global metrics
	c := GetMetrics()
	if c == nil {
		t.Fatal("expected GetMetrics to return collector after initialization")
	}

	RecordSessionOpen()
	RecordSessionOpen()
	RecordSessionClose()
	RecordMessagesReceived(3)
	RecordMessagesSent(5)
	RecordSendError("closed")

	if got := metricCounterValue(t, c.sessionsOpened); got != 2 {
		t.Fatalf("sessions_opened_total=%v, want 2", got)
	}
	if got := metricCounterValue(t, c.sessionsClosed); got != 1 {
		t.Fatalf("sessions_closed_total=%v, want 1", got)
	}
	if got := metricGaugeValue(t, c.sessionsActive); got != 1 {
		t.Fatalf("sessions_active=%v, want 1 (two opens, one close)", got)
	}
	if got := metricCounterValue(t, c.messagesReceived); got != 3 {
		t.Fatalf("messages_received_total=%v, want 3", got)
	}
	if got := metricCounterValue(t, c.messagesSent); got != 5 {
		t.Fatalf("messages_sent_total=%v, want 5", got)
	}
	if got := metricCounterValue(t, c.sendErrors.WithLabelValues("closed")); got != 1 {
		t.Fatalf("send_errors_total(closed)=%v, want 1", got)
	}
}

func TestMetricsRecordFunctions_NilSafe(t *testing.T) {
	resetGlobalMetricsForTest()

	// None of these may panic before the middleware has initialized metrics.
	RecordSessionOpen()
	RecordSessionClose()
	RecordMessagesReceived(1)
	RecordMessagesSent(1)
	RecordSendError("closed")
}

func TestGetMetrics_NilBeforeInit(t *testing.T) {
	resetGlobalMetricsForTest()

	if GetMetrics() != nil {
		t.Error("GetMetrics() should return nil when not initialized")
	}
}
