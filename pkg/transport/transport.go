// Package transport provides the duplex frame channel between the screening
// client and the interview backend.
//
// Inbound frames are delivered to Handlers.OnFrame one at a time, in arrival
// order, from a single reader goroutine. There is no reordering or batching.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-screener/pkg/protocol"
)

// Handlers receive inbound traffic.
type Handlers struct {
	// OnFrame is called for every parsed inbound frame.
	OnFrame func(protocol.Frame)

	// OnClose is called at most once when the connection ends for any
	// reason other than a local Close. The error is never nil.
	OnClose func(error)
}

// Transport is an open duplex channel.
type Transport interface {
	// Send writes one frame. Safe for concurrent use.
	Send(f protocol.Frame) error

	// Close ends the connection without invoking OnClose. Idempotent.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	// Dial connects to url. Handlers must be set before the first frame
	// can arrive, so they are passed here rather than registered later.
	Dial(ctx context.Context, url string, h Handlers) (Transport, error)
}

// Config holds WebSocket settings.
type Config struct {
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration

	// ReadTimeout is how long the connection may stay silent. Pings keep
	// an idle but healthy connection alive.
	ReadTimeout time.Duration

	// PingInterval is the keepalive period. Must be below ReadTimeout.
	PingInterval time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// Header is sent with the handshake.
	Header http.Header

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     20 * time.Second,
		WriteTimeout:     5 * time.Second,
		Logger:           slog.Default(),
	}
}

// Option is a functional option for configuring the dialer.
type Option func(*Config)

// WithHandshakeTimeout sets the handshake timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithReadTimeout sets the idle read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = d
	}
}

// WithPingInterval sets the keepalive period.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = d
	}
}

// WithWriteTimeout sets the write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithHeader sets handshake headers.
func WithHeader(h http.Header) Option {
	return func(c *Config) {
		c.Header = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
