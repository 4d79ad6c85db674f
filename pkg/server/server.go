package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	// readHeaderTimeout bounds how long a client may dribble request headers.
	readHeaderTimeout = 10 * time.Second

	// idleTimeout reaps keep-alive connections between polls.
	idleTimeout = 60 * time.Second
)

// Server binds a Handler to an HTTP listener with the prefix mounted and
// lifecycle management around it. Applications that bring their own listener
// or router can skip it and mount a Handler directly.
type Server struct {
	config  *Config
	logger  *slog.Logger
	handler *Handler
	root    chi.Router

	httpServer *http.Server
}

// New creates a server for svc. A nil cfg uses defaults.
func New(svc Service, cfg *Config) (*Server, error) {
	h, err := NewHandler(svc, cfg)
	if err != nil {
		return nil, err
	}

	root := chi.NewRouter()
	prefix := strings.TrimSuffix(h.config.Prefix, "/")
	if prefix == "" {
		prefix = "/"
	}
	root.Mount(prefix, h)

	return &Server{
		config:  h.config,
		logger:  h.logger,
		handler: h,
		root:    root,
	}, nil
}

// Handler returns the prefix-mounted handler for use with an external
// listener or router.
func (s *Server) Handler() http.Handler {
	return s.root
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.root.ServeHTTP(w, r)
}

// Stats returns the session registry counters.
func (s *Server) Stats() RegistryStats {
	return s.handler.registry.Stats()
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Run starts the listener and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func (s *Server) Run() error {
	// No server-wide write timeout: streaming responses outlive any sane
	// value, and per-write deadlines already bound each frame.
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.root,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address, "prefix", s.config.Prefix)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes all sessions with the go-away frame, then stops the HTTP
// server. Bounded by the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	// Sessions first: their close frames must go out while handlers still run.
	if err := s.handler.registry.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("session drain incomplete", "error", err)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
