// Package session acquires interview sessions and owns their transport.
//
// A Manager opens at most one transport per session, routes every inbound
// frame to a Handler in arrival order, and turns any terminal transport
// event into exactly one HandleConnectionError call. It never reconnects.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-screener/pkg/protocol"
	"github.com/teslashibe/go-screener/pkg/transport"
)

// Sentinel errors for the session package.
var (
	// ErrMissingStudyID indicates a StartRequest without a study.
	ErrMissingStudyID = errors.New("session: study id is required")

	// ErrAlreadyOpen indicates Open while a transport is open or opening.
	ErrAlreadyOpen = errors.New("session: transport already open")

	// ErrNotOpen indicates Send without an open transport.
	ErrNotOpen = errors.New("session: no open transport")
)

// Handler receives everything the transport delivers.
type Handler interface {
	HandleFrame(f protocol.Frame)
	HandleConnectionError(err error)
}

// Config holds Manager settings.
type Config struct {
	// BaseURL is the backend HTTP address.
	BaseURL string

	// HTTPClient is used for bootstrap and progress calls.
	HTTPClient *http.Client

	// Dialer opens the frame transport.
	Dialer transport.Dialer

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// Option is a functional option for configuring the Manager.
type Option func(*Config)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = hc
	}
}

// WithDialer sets the transport dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// connection is one session plus its transport.
type connection struct {
	session *Session
	tr      transport.Transport
	handler Handler

	// signal guards the single connectionError; local close consumes it.
	signal sync.Once
	closed atomic.Bool
}

// Manager is the session/transport lifecycle manager.
type Manager struct {
	client *Client
	dialer transport.Dialer
	logger *slog.Logger

	mu      sync.Mutex
	opening bool
	conn    *connection
}

// NewManager creates a Manager for the backend at baseURL.
func NewManager(baseURL string, opts ...Option) *Manager {
	cfg := Config{BaseURL: baseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = transport.NewWebSocketDialer(transport.WithLogger(cfg.Logger))
	}

	return &Manager{
		client: NewClient(cfg.BaseURL, cfg.HTTPClient),
		dialer: cfg.Dialer,
		logger: cfg.Logger.With("component", "session.manager"),
	}
}

// Open creates a session and opens its transport. Frames may reach h
// before Open returns.
func (m *Manager) Open(ctx context.Context, req StartRequest, h Handler) (*Session, error) {
	m.mu.Lock()
	if m.opening || m.conn != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyOpen
	}
	m.opening = true
	m.mu.Unlock()

	conn, err := m.open(ctx, req, h)

	m.mu.Lock()
	m.opening = false
	if err == nil {
		m.conn = conn
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return conn.session, nil
}

func (m *Manager) open(ctx context.Context, req StartRequest, h Handler) (*connection, error) {
	sess, err := m.client.StartSession(ctx, req)
	if err != nil {
		m.logger.Error("session start failed", "study_id", req.StudyID, "error", err)
		return nil, err
	}

	wsURL, err := WebSocketURL(m.client.baseURL, sess.ID, sess.StudyID)
	if err != nil {
		return nil, err
	}

	c := &connection{session: sess, handler: h}
	tr, err := m.dialer.Dial(ctx, wsURL, transport.Handlers{
		OnFrame: func(f protocol.Frame) {
			if c.closed.Load() {
				return
			}
			h.HandleFrame(f)
		},
		OnClose: func(err error) {
			m.fail(c, err)
		},
	})
	if err != nil {
		m.logger.Error("transport open failed", "session_id", sess.ID, "error", err)
		return nil, fmt.Errorf("session: open transport: %w", err)
	}
	c.tr = tr

	m.logger.Info("session opened",
		"session_id", sess.ID,
		"participant_id", sess.ParticipantID,
		"study_id", sess.StudyID,
	)
	return c, nil
}

func (m *Manager) fail(c *connection, err error) {
	c.signal.Do(func() {
		if c.closed.Load() {
			return
		}
		m.logger.Warn("transport lost", "session_id", c.session.ID, "error", err)
		c.handler.HandleConnectionError(err)
	})
}

// Send writes a frame to the open transport.
func (m *Manager) Send(f protocol.Frame) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()

	if c == nil || c.closed.Load() {
		return ErrNotOpen
	}
	return c.tr.Send(f)
}

// Session returns the current session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.session
}

// Close closes the transport without signalling a connection error.
// A new session can be opened afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	if c == nil {
		return nil
	}
	c.closed.Store(true)
	c.signal.Do(func() {})

	m.logger.Info("session closed", "session_id", c.session.ID)
	return c.tr.Close()
}

// ReportProgress saves a progress report, filling in the session fields.
func (m *Manager) ReportProgress(ctx context.Context, report ProgressReport) error {
	if sess := m.Session(); sess != nil {
		if report.SessionID == "" {
			report.SessionID = sess.ID
		}
		if report.ParticipantID == "" {
			report.ParticipantID = sess.ParticipantID
		}
		if report.StudyID == "" {
			report.StudyID = sess.StudyID
		}
	}
	if report.SessionID == "" {
		return ErrNotOpen
	}

	if err := m.client.SaveProgress(ctx, report); err != nil {
		m.logger.Warn("progress report failed", "session_id", report.SessionID, "exit_reason", report.ExitReason, "error", err)
		return err
	}
	m.logger.Debug("progress saved", "session_id", report.SessionID, "exit_reason", report.ExitReason)
	return nil
}
