package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sockline-dev/sockline/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "sockline.json"

	// DefaultLogLevel is the log level used when the file names none.
	DefaultLogLevel = "info"
)

// ErrNotFound reports that no sockline.json exists where it was looked for.
var ErrNotFound = errors.New("config: sockline.json not found")

// Config is the sockline.json schema. Every field is optional; absent fields
// keep the server defaults. Durations are time.ParseDuration strings.
type Config struct {
	// Addr is the address the server listens on.
	Addr string `json:"addr,omitempty"`

	// Prefix is the URL prefix the SockJS handler is mounted under.
	Prefix string `json:"prefix,omitempty"`

	// Heartbeat is the idle heartbeat interval, e.g. "25s".
	Heartbeat string `json:"heartbeat,omitempty"`

	// DisconnectDelay is how long a session survives without an attached
	// receiver, e.g. "5s".
	DisconnectDelay string `json:"disconnectDelay,omitempty"`

	// ResponseLimit caps the frame bytes written to one streaming response.
	ResponseLimit int `json:"responseLimit,omitempty"`

	// WebSocket enables the websocket transports. Serialized without
	// omitempty so an explicit false survives a round trip through disk.
	WebSocket bool `json:"websocket"`

	// CookieNeeded advertises cookie-based sticky sessions in /info.
	CookieNeeded bool `json:"cookieNeeded,omitempty"`

	// SockJSURL is the client script URL served inside the iframe page.
	SockJSURL string `json:"sockjsUrl,omitempty"`

	// LogLevel is a slog level name: "debug", "info", "warn" or "error".
	LogLevel string `json:"logLevel,omitempty"`

	// configPath stores the path the config was loaded from.
	configPath string
}

// New returns a Config mirroring the server defaults.
func New() *Config {
	def := server.DefaultConfig()
	return &Config{
		Addr:            def.Address,
		Prefix:          def.Prefix,
		Heartbeat:       def.HeartbeatInterval.String(),
		DisconnectDelay: def.DisconnectDelay.String(),
		ResponseLimit:   def.ResponseLimit,
		WebSocket:       def.WebSocket,
		CookieNeeded:    def.CookieNeeded,
		SockJSURL:       def.SockJSURL,
		LogLevel:        DefaultLogLevel,
	}
}

// Load reads the configuration file at path. Decoding starts from the
// defaults, so fields absent from the file keep them. Unknown fields are
// rejected rather than silently ignored, catching typos like "hartbeat".
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := New()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.configPath = path
	return cfg, nil
}

// LoadFrom walks up from dir and loads the first sockline.json it finds, so
// the command picks up the same file from anywhere inside a deployment tree.
func LoadFrom(dir string) (*Config, error) {
	root, err := find(dir)
	if err != nil {
		return nil, err
	}
	return Load(filepath.Join(root, ConfigFileName))
}

// Exists reports whether dir contains a sockline.json.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// find walks up from startDir to the filesystem root looking for the
// directory holding a sockline.json.
func find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w in %s or any parent directory", ErrNotFound, startDir)
		}
		dir = parent
	}
}

// Path returns the path the config was loaded from, or "" for a fresh one.
func (c *Config) Path() string {
	return c.configPath
}

// ServerConfig converts the file values into a server configuration and
// validates it.
func (c *Config) ServerConfig() (*server.Config, error) {
	heartbeat, err := time.ParseDuration(c.Heartbeat)
	if err != nil {
		return nil, fmt.Errorf("config: heartbeat %q: %w", c.Heartbeat, err)
	}
	delay, err := time.ParseDuration(c.DisconnectDelay)
	if err != nil {
		return nil, fmt.Errorf("config: disconnectDelay %q: %w", c.DisconnectDelay, err)
	}
	if _, err := c.Level(); err != nil {
		return nil, err
	}

	cfg := server.DefaultConfig()
	cfg.Address = c.Addr
	cfg.Prefix = c.Prefix
	cfg.HeartbeatInterval = heartbeat
	cfg.DisconnectDelay = delay
	cfg.ResponseLimit = c.ResponseLimit
	cfg.WebSocket = c.WebSocket
	cfg.CookieNeeded = c.CookieNeeded
	cfg.SockJSURL = c.SockJSURL

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level parses the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: logLevel %q: %w", c.LogLevel, err)
	}
	return level, nil
}
