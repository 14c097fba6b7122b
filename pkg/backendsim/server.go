// Package backendsim is a scripted screening backend. It serves the
// session bootstrap, progress and frame endpoints a real backend does,
// with a fixed questionnaire in place of the conversational agent.
//
// It exists for integration tests and local runs of the client.
package backendsim

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/teslashibe/go-screener/pkg/protocol"
	"github.com/teslashibe/go-screener/pkg/session"
)

// Config holds Server settings.
type Config struct {
	// Questions is the scripted questionnaire.
	Questions []string

	// Speech renders agent text as audio bytes.
	Speech func(text string) []byte

	// ReplyDelay separates the user_message echo from the agent reply.
	ReplyDelay time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// Option is a functional option for configuring the Server.
type Option func(*Config)

// WithQuestions replaces the questionnaire.
func WithQuestions(q ...string) Option {
	return func(c *Config) {
		c.Questions = q
	}
}

// WithSpeech sets the speech renderer.
func WithSpeech(fn func(string) []byte) Option {
	return func(c *Config) {
		c.Speech = fn
	}
}

// WithReplyDelay sets the delay between echo and reply.
func WithReplyDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ReplyDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// record is one bootstrapped session.
type record struct {
	session  session.Session
	progress []session.ProgressReport
	result   *Eligibility
}

// Server is the scripted backend.
type Server struct {
	cfg    Config
	app    *fiber.App
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*record

	framesReceived atomic.Uint64
	framesSent     atomic.Uint64
}

// NewServer creates a scripted backend.
func NewServer(opts ...Option) *Server {
	cfg := Config{
		Questions:  DefaultQuestions,
		Speech:     TextSpeech,
		ReplyDelay: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "backendsim"),
		sessions: make(map[string]*record),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Screener Backend Simulator",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	s.RegisterRoutes(app)
	s.app = app
	return s
}

// RegisterRoutes registers the HTTP and websocket routes on app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api")
	api.Post("/sessions/start", s.handleStart)
	api.Post("/interviews/save-progress", s.handleSaveProgress)
	api.Get("/sessions/:session_id", s.handleGetSession)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/:session_id/:study_id", s.checkSession, websocket.New(s.handleInterview))
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("backend simulator listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func apiError(c *fiber.Ctx, status int, detail string) error {
	return c.Status(status).JSON(fiber.Map{"detail": detail})
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	var req session.StartRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.StudyID == "" {
		return apiError(c, fiber.StatusBadRequest, "study_id is required")
	}

	rec := &record{session: session.Session{
		ID:            uuid.NewString(),
		ParticipantID: fmt.Sprintf("P-%s", uuid.NewString()[:8]),
		CreatedAt:     protocol.Now(),
		StudyID:       req.StudyID,
	}}

	s.mu.Lock()
	s.sessions[rec.session.ID] = rec
	s.mu.Unlock()

	s.logger.Info("session started",
		"session_id", rec.session.ID,
		"participant_id", rec.session.ParticipantID,
		"study_id", req.StudyID,
	)
	return c.JSON(rec.session)
}

func (s *Server) handleSaveProgress(c *fiber.Ctx) error {
	var report session.ProgressReport
	if err := json.Unmarshal(c.Body(), &report); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid request body")
	}

	s.mu.Lock()
	rec, ok := s.sessions[report.SessionID]
	if ok {
		rec.progress = append(rec.progress, report)
	}
	s.mu.Unlock()

	if !ok {
		return apiError(c, fiber.StatusNotFound, "session not found")
	}
	s.logger.Debug("progress saved", "session_id", report.SessionID, "exit_reason", report.ExitReason)
	return c.JSON(fiber.Map{"status": "saved"})
}

// SessionInfo is the simulator's view of one session.
type SessionInfo struct {
	Session     session.Session `json:"session"`
	ExitReasons []string        `json:"exit_reasons"`
	Result      *Eligibility    `json:"result,omitempty"`
}

// Info returns what the simulator knows about a session.
func (s *Server) Info(id string) (SessionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	info := SessionInfo{Session: rec.session, Result: rec.result}
	for _, p := range rec.progress {
		info.ExitReasons = append(info.ExitReasons, p.ExitReason)
	}
	return info, true
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	info, ok := s.Info(c.Params("session_id"))
	if !ok {
		return apiError(c, fiber.StatusNotFound, "session not found")
	}
	return c.JSON(info)
}

// checkSession rejects the upgrade for unknown sessions.
func (s *Server) checkSession(c *fiber.Ctx) error {
	s.mu.RLock()
	rec, ok := s.sessions[c.Params("session_id")]
	s.mu.RUnlock()

	if !ok || rec.session.StudyID != c.Params("study_id") {
		return fiber.ErrNotFound
	}
	return c.Next()
}

// Stats returns frame counters.
func (s *Server) Stats() (received, sent uint64) {
	return s.framesReceived.Load(), s.framesSent.Load()
}
