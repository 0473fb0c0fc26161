// Package config loads llmhttp settings from a YAML file with LLMTRANSPORT_*
// environment overrides and turns them into a transport.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeffersonwarrior/llmtransport/logging"
	"github.com/jeffersonwarrior/llmtransport/transport"
)

// Config is the file layout.
type Config struct {
	Backend   string          `yaml:"backend"` // nethttp or wire
	Transport TransportConfig `yaml:"transport"`
	Log       logging.Config  `yaml:"log"`
}

// TransportConfig mirrors transport.Config. Zero values keep the transport
// defaults; negative durations disable a timeout.
type TransportConfig struct {
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	IdleConnTimeout    time.Duration `yaml:"idle_conn_timeout"`
	IgnoreSSL          bool          `yaml:"ignore_ssl"`
	StreamBufferSize   int           `yaml:"stream_buffer_size"`
	MaxLineBytes       int           `yaml:"max_line_bytes"`
	RateLimit          float64       `yaml:"rate_limit"` // requests per second
	RateBurst          int           `yaml:"rate_burst"`
	UserAgent          string        `yaml:"user_agent"`
	Proxy              *ProxyConfig  `yaml:"proxy"`
}

// ProxyConfig is either a URL or the individual fields.
type ProxyConfig struct {
	URL           string   `yaml:"url"` // e.g. socks5://user:pw@proxy:1080
	Type          string   `yaml:"type"`
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	NonProxyHosts []string `yaml:"non_proxy_hosts"`
}

// Environment variables read by Load.
const (
	EnvBackend        = "LLMTRANSPORT_BACKEND"
	EnvConnectTimeout = "LLMTRANSPORT_CONNECT_TIMEOUT"
	EnvReadTimeout    = "LLMTRANSPORT_READ_TIMEOUT"
	EnvWriteTimeout   = "LLMTRANSPORT_WRITE_TIMEOUT"
	EnvIgnoreSSL      = "LLMTRANSPORT_IGNORE_SSL"
	EnvProxy          = "LLMTRANSPORT_PROXY"
	EnvNoProxy        = "LLMTRANSPORT_NO_PROXY"
	EnvLogLevel       = "LLMTRANSPORT_LOG_LEVEL"
)

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Backend: transport.BackendNetHTTP,
		Log:     logging.Config{Level: "info", Format: "text"},
	}
}

// Load reads path and applies environment overrides. A missing file (or an
// empty path) yields the defaults; a file that does not parse is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvBackend); v != "" {
		c.Backend = v
	}
	for env, dst := range map[string]*time.Duration{
		EnvConnectTimeout: &c.Transport.ConnectTimeout,
		EnvReadTimeout:    &c.Transport.ReadTimeout,
		EnvWriteTimeout:   &c.Transport.WriteTimeout,
	} {
		if v := os.Getenv(env); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
			*dst = d
		}
	}
	if v := os.Getenv(EnvIgnoreSSL); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvIgnoreSSL, err)
		}
		c.Transport.IgnoreSSL = b
	}
	if v := os.Getenv(EnvProxy); v != "" {
		c.Transport.Proxy = &ProxyConfig{URL: v}
	}
	if v := os.Getenv(EnvNoProxy); v != "" && c.Transport.Proxy != nil {
		c.Transport.Proxy.NonProxyHosts = splitList(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = transport.BackendNetHTTP
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the backend name and the proxy settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case transport.BackendNetHTTP, transport.BackendWire:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, transport.BackendNetHTTP, transport.BackendWire)
	}
	if _, err := c.Transport.Proxy.build(); err != nil {
		return err
	}
	return nil
}

// TransportConfig converts the file settings to a transport.Config logging
// to log.
func (c *Config) TransportConfig(log logging.Logger) (transport.Config, error) {
	proxy, err := c.Transport.Proxy.build()
	if err != nil {
		return transport.Config{}, err
	}
	t := c.Transport
	return transport.Config{
		ConnectTimeout:     t.ConnectTimeout,
		ReadTimeout:        t.ReadTimeout,
		WriteTimeout:       t.WriteTimeout,
		MaxIdleConnections: t.MaxIdleConnections,
		IdleConnTimeout:    t.IdleConnTimeout,
		IgnoreSSL:          t.IgnoreSSL,
		Proxy:              proxy,
		StreamBufferSize:   t.StreamBufferSize,
		MaxLineBytes:       t.MaxLineBytes,
		RateLimit:          t.RateLimit,
		RateBurst:          t.RateBurst,
		UserAgent:          t.UserAgent,
		Logger:             log,
	}, nil
}

// NewTransport builds the configured backend.
func (c *Config) NewTransport(log logging.Logger) (transport.Transport, error) {
	tc, err := c.TransportConfig(log)
	if err != nil {
		return nil, err
	}
	switch c.Backend {
	case transport.BackendWire:
		return transport.NewWireTransport(tc), nil
	case transport.BackendNetHTTP, "":
		return transport.NewNetHTTPTransport(tc), nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

func (p *ProxyConfig) build() (*transport.ProxyConfig, error) {
	if p == nil {
		return nil, nil
	}
	opts := []transport.ProxyOption{transport.WithNonProxyHosts(p.NonProxyHosts...)}

	if p.URL != "" {
		pc, err := transport.ParseProxyURL(p.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("proxy: %w", err)
		}
		return pc, nil
	}

	typ, err := transport.ParseProxyType(p.Type)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	if p.Username != "" || p.Password != "" {
		opts = append(opts, transport.WithProxyAuth(p.Username, p.Password))
	}
	pc, err := transport.NewProxyConfig(typ, p.Host, p.Port, opts...)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	return pc, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
