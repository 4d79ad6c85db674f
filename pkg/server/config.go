package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultSockJSURL is the client script embedded in the iframe page when no
// other URL is configured.
const DefaultSockJSURL = "https://cdn.jsdelivr.net/npm/sockjs-client@1/dist/sockjs.min.js"

// Config holds configuration for a SockJS server. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// Address is the address Run listens on (e.g., ":8081").
	// Default: ":8081".
	Address string

	// Prefix is the URL prefix Run mounts the handler under. Handler()
	// itself is prefix-agnostic and can be mounted anywhere.
	// Default: "/echo".
	Prefix string

	// Timers

	// HeartbeatInterval is the idle time after which a heartbeat frame is
	// sent on an attached receiver, keeping intermediaries from timing the
	// connection out. Default: 25 seconds.
	HeartbeatInterval time.Duration

	// DisconnectDelay is how long a session may sit without any attached
	// receiver before it is closed. It also covers sessions no receiver ever
	// attached to. Default: 5 seconds.
	DisconnectDelay time.Duration

	// WriteTimeout is the per-write deadline on websocket connections.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ShutdownTimeout is the maximum time Run waits for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Limits

	// ResponseLimit caps the frame bytes written to one streaming response.
	// When reached, the response is closed to force the client to reconnect,
	// which keeps proxies from buffering without bound. Default: 128KB.
	ResponseLimit int

	// MaxMessageSize is the maximum size of an incoming websocket message.
	// Default: 64KB.
	MaxMessageSize int64

	// WebSocket buffer sizes

	// ReadBufferSize is the websocket read buffer size. Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the websocket write buffer size. Default: 4096.
	WriteBufferSize int

	// Features

	// WebSocket enables the websocket transports and is advertised to
	// clients in the info response. Default: true.
	WebSocket bool

	// CookieNeeded advertises cookie-based sticky sessions in the info
	// response and echoes the JSESSIONID cookie on transport responses.
	// Needed behind load balancers that pin by cookie. Default: false.
	CookieNeeded bool

	// Client

	// SockJSURL is the client script URL served inside the iframe page.
	// Default: DefaultSockJSURL.
	SockJSURL string

	// Security

	// CheckOrigin validates the Origin header on websocket upgrades.
	// SockJS exists to carry cross-origin traffic, so the default accepts
	// every origin; use SameOriginCheck to lock a deployment down.
	CheckOrigin func(r *http.Request) bool

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the protocol's standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8081",
		Prefix:            "/echo",
		HeartbeatInterval: 25 * time.Second,
		DisconnectDelay:   5 * time.Second,
		WriteTimeout:      10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		ResponseLimit:     128 * 1024, // 128KB
		MaxMessageSize:    64 * 1024,  // 64KB
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		WebSocket:         true,
		CookieNeeded:      false,
		SockJSURL:         DefaultSockJSURL,
		CheckOrigin:       nil, // nil accepts all origins
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval %v", ErrInvalidConfig, c.HeartbeatInterval)
	}
	if c.DisconnectDelay <= 0 {
		return fmt.Errorf("%w: disconnect delay %v", ErrInvalidConfig, c.DisconnectDelay)
	}
	if c.ResponseLimit <= 0 {
		return fmt.Errorf("%w: response limit %d", ErrInvalidConfig, c.ResponseLimit)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	return nil
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WithAddress sets the listen address and returns the config for chaining.
func (c *Config) WithAddress(addr string) *Config {
	c.Address = addr
	return c
}

// WithPrefix sets the mount prefix and returns the config for chaining.
func (c *Config) WithPrefix(prefix string) *Config {
	c.Prefix = prefix
	return c
}

// WithHeartbeatInterval sets the heartbeat interval and returns the config
// for chaining.
func (c *Config) WithHeartbeatInterval(d time.Duration) *Config {
	c.HeartbeatInterval = d
	return c
}

// WithDisconnectDelay sets the disconnect grace period and returns the config
// for chaining.
func (c *Config) WithDisconnectDelay(d time.Duration) *Config {
	c.DisconnectDelay = d
	return c
}

// WithResponseLimit sets the streaming response cap and returns the config
// for chaining.
func (c *Config) WithResponseLimit(n int) *Config {
	c.ResponseLimit = n
	return c
}

// WithWebSocket enables or disables websocket transports and returns the
// config for chaining.
func (c *Config) WithWebSocket(enabled bool) *Config {
	c.WebSocket = enabled
	return c
}

// WithCookieNeeded sets cookie advertising and returns the config for chaining.
func (c *Config) WithCookieNeeded(needed bool) *Config {
	c.CookieNeeded = needed
	return c
}

// WithLogger sets the base logger and returns the config for chaining.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

// SameOriginCheck validates that the websocket request origin matches the
// host. Use it as CheckOrigin for deployments that do not serve cross-origin
// clients.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (e.g., same-origin request or curl)
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	return originURL.Host == host
}
