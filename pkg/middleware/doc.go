// Package middleware provides observability middleware for SockJS servers.
//
// This package includes:
//   - Prometheus metrics middleware and a Service instrumentation decorator
//   - OpenTelemetry distributed tracing middleware
//
// # Prometheus Metrics
//
// The Prometheus middleware counts and times every transport exchange, and
// InstrumentService feeds the session-level metrics:
//   - sockline_requests_total: Exchanges by transport and status code
//   - sockline_request_duration_seconds: Exchange duration histogram
//   - sockline_sessions_active: Current number of open sessions
//   - sockline_sessions_opened_total, sockline_sessions_closed_total
//   - sockline_messages_received_total, sockline_messages_sent_total
//
//	handler, _ := server.NewHandler(middleware.InstrumentService(svc), cfg)
//	mux.Mount("/echo", middleware.Prometheus()(handler))
//
// Then expose metrics on a separate port:
//
//	http.Handle("/metrics", promhttp.Handler())
//	go http.ListenAndServe(":9090", nil)
//
// # OpenTelemetry Tracing
//
// The Tracing middleware creates one span per exchange, named after the
// transport and tagged with the session id:
//
//	mux.Mount("/echo", middleware.Tracing(
//	    middleware.WithTracerName("my-app"),
//	    middleware.WithRequestFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/healthz"
//	    }),
//	)(handler))
//
// # Context Propagation
//
// Tracing injects the span context into the request context, so long polls
// parked on the request and anything downstream of it inherit the trace:
//
//	req, _ := http.NewRequestWithContext(r.Context(), "GET", url, nil)
package middleware
