package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sockline-dev/sockline/internal/config"
	"github.com/sockline-dev/sockline/pkg/middleware"
	"github.com/sockline-dev/sockline/pkg/server"
)

type serveOptions struct {
	addr            string
	prefix          string
	configPath      string
	heartbeat       time.Duration
	disconnectDelay time.Duration
	responseLimit   int
	noWebSocket     bool
	cookieNeeded    bool
	logLevel        string
	metricsAddr     string
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SockJS echo server",
		Long: `Run a SockJS server fronting the built-in echo service.

The server speaks every SockJS 0.3.3 transport: websocket, xhr
streaming and polling, eventsource, htmlfile and jsonp. Protocol
defaults follow the reference test suite; sockline.json and flags
tune them, with flags taking precedence.

Examples:
  sockline serve
  sockline serve --addr=:8081 --prefix=/echo
  sockline serve --config=./sockline.json --log-level=debug
  sockline serve --metrics-addr=:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "", "Listen address (default from sockline.json, else :8081)")
	flags.StringVar(&opts.prefix, "prefix", "", "URL prefix to mount the handler under (default /echo)")
	flags.StringVar(&opts.configPath, "config", "", "Path to sockline.json (default: search upward from the working directory)")
	flags.DurationVar(&opts.heartbeat, "heartbeat", 0, "Idle heartbeat interval (default 25s)")
	flags.DurationVar(&opts.disconnectDelay, "disconnect-delay", 0, "How long a session survives without a receiver (default 5s)")
	flags.IntVar(&opts.responseLimit, "response-limit", 0, "Byte budget of one streaming response (default 131072)")
	flags.BoolVar(&opts.noWebSocket, "no-websocket", false, "Disable the websocket transports")
	flags.BoolVar(&opts.cookieNeeded, "cookie-needed", false, "Advertise JSESSIONID sticky sessions")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address")

	return cmd
}

func runServe(opts serveOptions) error {
	fileCfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	srvCfg, err := fileCfg.ServerConfig()
	if err != nil {
		return err
	}

	// Flags override file values.
	if opts.addr != "" {
		srvCfg.Address = opts.addr
	}
	if opts.prefix != "" {
		srvCfg.Prefix = opts.prefix
	}
	if opts.heartbeat > 0 {
		srvCfg.HeartbeatInterval = opts.heartbeat
	}
	if opts.disconnectDelay > 0 {
		srvCfg.DisconnectDelay = opts.disconnectDelay
	}
	if opts.responseLimit > 0 {
		srvCfg.ResponseLimit = opts.responseLimit
	}
	if opts.noWebSocket {
		srvCfg.WebSocket = false
	}
	if opts.cookieNeeded {
		srvCfg.CookieNeeded = true
	}
	if err := srvCfg.Validate(); err != nil {
		return err
	}

	level, err := fileCfg.Level()
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
			return fmt.Errorf("log level %q: %w", opts.logLevel, err)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	srvCfg.Logger = logger

	if fileCfg.Path() != "" {
		logger.Info("config loaded", "path", fileCfg.Path())
	}

	svc := middleware.InstrumentService(&echoService{logger: logger.With("component", "echo")})
	h, err := server.NewHandler(svc, srvCfg)
	if err != nil {
		return err
	}

	root := chi.NewRouter()
	root.Use(middleware.Prometheus())
	prefix := strings.TrimSuffix(srvCfg.Prefix, "/")
	if prefix == "" {
		prefix = "/"
	}
	root.Mount(prefix, h)

	if opts.metricsAddr != "" {
		go serveMetrics(logger, opts.metricsAddr)
	}

	// No server-wide write timeout; streaming responses hold the
	// connection open far longer than any sane value.
	httpServer := &http.Server{
		Addr:              srvCfg.Address,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", srvCfg.Address, "prefix", srvCfg.Prefix)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-shutdown:
		logger.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
		defer cancel()

		// Sessions first: close frames must go out while handlers still run.
		if err := h.Registry().ShutdownWithContext(ctx); err != nil {
			logger.Warn("session drain incomplete", "error", err)
		}
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
			return err
		}
		logger.Info("server shutdown complete")
		return nil
	}
}

// loadConfig reads sockline.json from an explicit path, or walks up from the
// working directory. A missing file is not an error; defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFrom(wd)
	if errors.Is(err, config.ErrNotFound) {
		return config.New(), nil
	}
	return cfg, err
}

// serveMetrics exposes Prometheus metrics on their own listener, keeping the
// scrape surface off the public address.
func serveMetrics(logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("metrics listening", "address", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}

// echoService echoes every message back on the session it arrived on, which
// is the service the SockJS protocol test suite expects to talk to.
type echoService struct {
	logger *slog.Logger
}

func (e *echoService) OnOpen(s *server.Session) {
	e.logger.Debug("session open", "session_id", s.ID())
}

func (e *echoService) OnMessage(s *server.Session, msg string) {
	// Send only fails once the session is closing; the message is moot then.
	if err := s.Send(msg); err != nil {
		middleware.RecordSendError("closed")
		e.logger.Debug("echo send failed", "session_id", s.ID(), "error", err)
		return
	}
	middleware.RecordMessagesSent(1)
}

func (e *echoService) OnClose(s *server.Session) {
	e.logger.Debug("session closed", "session_id", s.ID())
}
