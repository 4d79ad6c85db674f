package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sockline-dev/sockline/pkg/server"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "sockline").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for exchange duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:   "sockline",
		Subsystem:   "",
		ConstLabels: nil,
		Buckets:     prometheus.DefBuckets,
		Registry:    prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus metrics for a SockJS server.
type metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	sessionsOpened   prometheus.Counter
	sessionsClosed   prometheus.Counter
	sessionsActive   prometheus.Gauge
	messagesReceived prometheus.Counter
	messagesSent     prometheus.Counter
	sendErrors       *prometheus.CounterVec
}

// globalMetrics is the singleton metrics instance.
// Created on the first call to Prometheus().
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

// initMetrics initializes the Prometheus metrics.
func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of SockJS exchanges by transport and status code",
			ConstLabels: config.ConstLabels,
		}, []string{"transport", "code"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "SockJS exchange duration in seconds, park time included for receiver exchanges",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"transport"}),

		sessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_opened_total",
			Help:        "Total number of sessions opened",
			ConstLabels: config.ConstLabels,
		}),

		sessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_closed_total",
			Help:        "Total number of sessions closed",
			ConstLabels: config.ConstLabels,
		}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_active",
			Help:        "Number of sessions currently open",
			ConstLabels: config.ConstLabels,
		}),

		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_received_total",
			Help:        "Total application messages received from clients",
			ConstLabels: config.ConstLabels,
		}),

		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_sent_total",
			Help:        "Total application messages sent to clients",
			ConstLabels: config.ConstLabels,
		}),

		sendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "send_errors_total",
			Help:        "Total failed sends by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),
	}
}

// Prometheus creates HTTP middleware that collects Prometheus metrics for
// every SockJS exchange.
//
// Metrics collected:
//   - sockline_requests_total: Counter of exchanges by transport and status code
//   - sockline_request_duration_seconds: Histogram of exchange duration by transport
//   - sockline_sessions_opened_total: Counter of sessions opened (via InstrumentService)
//   - sockline_sessions_closed_total: Counter of sessions closed (via InstrumentService)
//   - sockline_sessions_active: Gauge of open sessions (via InstrumentService)
//   - sockline_messages_received_total: Counter of inbound messages (via InstrumentService)
//   - sockline_messages_sent_total: Counter of outbound messages (via RecordMessagesSent)
//   - sockline_send_errors_total: Counter of failed sends (via RecordSendError)
//
// Example:
//
//	handler, _ := server.NewHandler(middleware.InstrumentService(svc), nil)
//	http.Handle("/echo/", http.StripPrefix("/echo", middleware.Prometheus()(handler)))
//
//	// Expose the metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) func(http.Handler) http.Handler {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	// Initialize metrics once
	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			label := transportLabel(r.URL.Path)
			m.requestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

			code := ww.Status()
			if code == 0 {
				// A hijacked exchange never writes through the wrapper; the
				// only hijacker here is the websocket upgrade.
				code = http.StatusSwitchingProtocols
			}
			m.requestsTotal.WithLabelValues(label, strconv.Itoa(code)).Inc()
		})
	}
}

// transportLabel classifies a request path into a closed label set, keyed on
// the transport segment. An open set would let clients mint label values.
func transportLabel(path string) string {
	seg := path[strings.LastIndexByte(path, '/')+1:]
	switch seg {
	case "xhr", "xhr_send", "xhr_streaming",
		"eventsource", "jsonp", "jsonp_send", "htmlfile", "websocket":
		return seg
	case "info":
		return "info"
	case "":
		return "greeting"
	}
	if strings.HasPrefix(seg, "iframe") && strings.HasSuffix(seg, ".html") {
		return "iframe"
	}
	return "other"
}

// InstrumentService wraps svc so session lifecycle and inbound messages feed
// the session metrics. Wrap before handing the service to the server:
//
//	srv, err := server.New(middleware.InstrumentService(svc), cfg)
func InstrumentService(svc server.Service) server.Service {
	return &instrumentedService{svc: svc}
}

type instrumentedService struct {
	svc server.Service
}

func (i *instrumentedService) OnOpen(s *server.Session) {
	RecordSessionOpen()
	i.svc.OnOpen(s)
}

func (i *instrumentedService) OnMessage(s *server.Session, msg string) {
	RecordMessagesReceived(1)
	i.svc.OnMessage(s, msg)
}

func (i *instrumentedService) OnClose(s *server.Session) {
	RecordSessionClose()
	i.svc.OnClose(s)
}

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordSessionOpen records a session opening.
func RecordSessionOpen() {
	if globalMetrics != nil {
		globalMetrics.sessionsOpened.Inc()
		globalMetrics.sessionsActive.Inc()
	}
}

// RecordSessionClose records a session closing.
func RecordSessionClose() {
	if globalMetrics != nil {
		globalMetrics.sessionsClosed.Inc()
		globalMetrics.sessionsActive.Dec()
	}
}

// RecordMessagesReceived records inbound application messages.
func RecordMessagesReceived(count int) {
	if globalMetrics != nil {
		globalMetrics.messagesReceived.Add(float64(count))
	}
}

// RecordMessagesSent records outbound application messages.
// Call this from your service around Session.Send.
func RecordMessagesSent(count int) {
	if globalMetrics != nil {
		globalMetrics.messagesSent.Add(float64(count))
	}
}

// RecordSendError records a failed send. The reason should come from a small
// fixed set, e.g. "closed" or "queue_full".
func RecordSendError(reason string) {
	if globalMetrics != nil {
		globalMetrics.sendErrors.WithLabelValues(reason).Inc()
	}
}

// =============================================================================
// Metrics Collector
// =============================================================================

// Collector exposes the initialized metrics for custom recording alongside
// other application metrics.
type Collector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	sessionsOpened   prometheus.Counter
	sessionsClosed   prometheus.Counter
	sessionsActive   prometheus.Gauge
	messagesReceived prometheus.Counter
	messagesSent     prometheus.Counter
	sendErrors       *prometheus.CounterVec
}

// GetMetrics returns the global metrics collector.
// Returns nil if Prometheus middleware has not been initialized.
func GetMetrics() *Collector {
	if globalMetrics == nil {
		return nil
	}
	return &Collector{
		requestsTotal:    globalMetrics.requestsTotal,
		requestDuration:  globalMetrics.requestDuration,
		sessionsOpened:   globalMetrics.sessionsOpened,
		sessionsClosed:   globalMetrics.sessionsClosed,
		sessionsActive:   globalMetrics.sessionsActive,
		messagesReceived: globalMetrics.messagesReceived,
		messagesSent:     globalMetrics.messagesSent,
		sendErrors:       globalMetrics.sendErrors,
	}
}
