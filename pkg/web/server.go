// Package web serves the participant-facing action API: a read-only view
// of the controller state, one endpoint per intent, a websocket stream of
// snapshots and the metrics endpoint.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-screener/pkg/hub"
	"github.com/teslashibe/go-screener/pkg/interview"
	"github.com/teslashibe/go-screener/pkg/metrics"
	"github.com/teslashibe/go-screener/pkg/session"
)

// Controller is the part of *interview.Controller the server drives.
type Controller interface {
	Snapshot() interview.State
	Start(ctx context.Context, req session.StartRequest) error
	Intent(ctx context.Context, name string) error
	OnChange(fn func(interview.State))
}

// View is the JSON shape of a snapshot.
type View struct {
	State interview.State `json:"state"`
	Flags interview.Flags `json:"flags"`
}

// NewView builds the view of s.
func NewView(s interview.State) View {
	return View{State: s, Flags: s.Flags()}
}

// Server is the action API server.
type Server struct {
	app     *fiber.App
	ctrl    Controller
	hub     *hub.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger

	// defaults fills in a start request the client leaves empty.
	defaults session.StartRequest
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStartDefaults sets the study and participant used by the start
// intent when the request body omits them.
func WithStartDefaults(req session.StartRequest) Option {
	return func(s *Server) {
		s.defaults = req
	}
}

// NewServer creates the server and subscribes h to ctrl's transitions.
func NewServer(ctrl Controller, h *hub.Hub, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, hub: h}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "web.server")

	app := fiber.New(fiber.Config{
		AppName:               "Screener",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"observers": s.hub.Count(),
		})
	})

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Post("/intents/:name", s.handleIntent)

	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))

	s.app = app

	s.publish(ctrl.Snapshot())
	ctrl.OnChange(s.publish)
	return s
}

func (s *Server) publish(st interview.State) {
	if err := s.hub.PublishJSON(NewView(st)); err != nil {
		s.logger.Error("encoding snapshot failed", "error", err, "version", st.Version)
	}
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("action API listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}
