package transport

import (
	"time"

	"github.com/jeffersonwarrior/llmtransport/internal/version"
	"github.com/jeffersonwarrior/llmtransport/logging"
	"github.com/jeffersonwarrior/llmtransport/sdk/stream"
)

// Default configuration values.
const (
	DefaultConnectTimeout     = 30 * time.Second
	DefaultReadTimeout        = 5 * time.Minute
	DefaultWriteTimeout       = 30 * time.Second
	DefaultMaxIdleConnections = 5
	DefaultIdleConnTimeout    = 5 * time.Minute
)

// Config configures a transport. Zero values select defaults; a negative
// duration disables that timeout. Transports copy the Config at
// construction and never look at the original again.
type Config struct {
	// ConnectTimeout bounds the TCP connect, proxy handshake and TLS
	// handshake (default: 30s).
	ConnectTimeout time.Duration

	// ReadTimeout bounds every socket read, including the wait for response
	// headers and each wait between stream frames (default: 5m).
	ReadTimeout time.Duration

	// WriteTimeout bounds every socket write (default: 30s).
	WriteTimeout time.Duration

	// Connection pool configuration
	MaxIdleConnections int           // Idle connections kept across all hosts (default: 5)
	IdleConnTimeout    time.Duration // How long idle connections stay open (default: 5m)

	// IgnoreSSL disables certificate verification.
	IgnoreSSL bool

	// Proxy routes requests through an HTTP or SOCKS proxy unless the target
	// host is bypassed.
	Proxy *ProxyConfig

	// Streaming
	StreamBufferSize int // Chunk channel capacity (default: 10)
	MaxLineBytes     int // Longest accepted stream line (default: 4 MiB)

	// Client-side pacing. RateLimit is requests per second; zero disables
	// pacing. RateBurst defaults to 1.
	RateLimit float64
	RateBurst int

	// UserAgent is sent when a request carries none
	// (default: llmtransport/<version>).
	UserAgent string

	// Logger receives debug and warning output (default: logging.Default()).
	Logger logging.Logger

	// Hooks observe every call.
	Hooks Hooks
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	var c Config
	c.setDefaults()
	return c
}

// setDefaults fills in default values for zero-valued fields.
func (c *Config) setDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = DefaultMaxIdleConnections
	}
	if c.IdleConnTimeout == 0 {
		c.IdleConnTimeout = DefaultIdleConnTimeout
	}
	if c.StreamBufferSize <= 0 {
		c.StreamBufferSize = stream.DefaultBufferSize
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = stream.DefaultMaxLineBytes
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.UserAgent == "" {
		c.UserAgent = version.UserAgent()
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
}

// enabled maps a configured duration to the value used at runtime: zero
// for disabled.
func enabled(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
