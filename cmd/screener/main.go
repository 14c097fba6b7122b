// screener: voice screening client for clinical trial interviews
// Drives the conversation controller and serves the participant action API
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-screener/internal/config"
	"github.com/teslashibe/go-screener/internal/httpc"
	"github.com/teslashibe/go-screener/internal/log"
	"github.com/teslashibe/go-screener/pkg/audioio"
	"github.com/teslashibe/go-screener/pkg/hub"
	"github.com/teslashibe/go-screener/pkg/interview"
	"github.com/teslashibe/go-screener/pkg/metrics"
	"github.com/teslashibe/go-screener/pkg/session"
	"github.com/teslashibe/go-screener/pkg/web"
)

var (
	backendURL = flag.String("backend", "", "Screening backend base URL (overrides SCREENER_BACKEND_URL)")
	studyID    = flag.String("study", "", "Study ID (overrides SCREENER_STUDY_ID)")
	name       = flag.String("name", "", "Participant name (overrides SCREENER_PARTICIPANT_NAME)")
	email      = flag.String("email", "", "Participant email (overrides SCREENER_PARTICIPANT_EMAIL)")
	audioFlag  = flag.String("audio", "", "Audio backend: mock or device (overrides SCREENER_AUDIO_BACKEND)")
	port       = flag.Int("port", 0, "Action API port (overrides SCREENER_DASHBOARD_PORT)")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides SCREENER_LOG_LEVEL)")
	autostart  = flag.Bool("autostart", false, "Start the interview immediately")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	override(&cfg)

	log.Init(cfg.LogLevel)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("screener exited", "error", err)
		os.Exit(1)
	}
}

func override(cfg *config.Config) {
	if *backendURL != "" {
		cfg.BackendURL = *backendURL
	}
	if *studyID != "" {
		cfg.StudyID = *studyID
	}
	if *name != "" {
		cfg.ParticipantName = *name
	}
	if *email != "" {
		cfg.ParticipantEmail = *email
	}
	if *audioFlag != "" {
		cfg.AudioBackend = *audioFlag
	}
	if *port != 0 {
		cfg.DashboardPort = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.With("app", "screener", "study_id", cfg.StudyID)

	m := metrics.New("screener")

	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.Backend(cfg.AudioBackend)
	audioCfg.SampleRate = cfg.SampleRate
	dev, err := audioio.NewDevice(audioCfg, logger)
	if err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	defer dev.Close()

	mgr := session.NewManager(cfg.BackendURL,
		session.WithHTTPClient(httpc.NewClient(httpc.DefaultTimeout)),
		session.WithLogger(logger),
	)

	ctrl := interview.New(mgr, dev,
		interview.WithProgressReporter(mgr),
		interview.WithMetrics(m),
		interview.WithLogger(logger),
	)
	defer ctrl.Close()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	h := hub.New(logger, m)
	go h.Run(hubCtx)

	req := session.StartRequest{
		StudyID:          cfg.StudyID,
		ParticipantName:  cfg.ParticipantName,
		ParticipantEmail: cfg.ParticipantEmail,
	}
	srv := web.NewServer(ctrl, h,
		web.WithMetrics(m),
		web.WithLogger(logger),
		web.WithStartDefaults(req),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(fmt.Sprintf(":%d", cfg.DashboardPort))
	}()

	logger.Info("screener ready",
		"backend", cfg.BackendURL,
		"audio", cfg.AudioBackend,
		"port", cfg.DashboardPort,
	)

	if *autostart {
		if err := ctrl.Start(ctx, req); err != nil {
			logger.Error("autostart failed", "error", err)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("action API: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Close before the server so the final reset is still published.
	if err := ctrl.Close(); err != nil && !errors.Is(err, interview.ErrClosed) {
		logger.Warn("closing controller failed", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", "error", err)
	}
	stopHub()
	<-h.Done()
	return nil
}
