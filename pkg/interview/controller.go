// Package interview implements the conversation controller for a spoken
// screening interview.
//
// The Controller is a single state record guarded by one mutex. It changes
// only through intents (Start, InterruptAgent, BeginUserTurn, ...) and
// inbound frames (HandleFrame, HandleConnectionError). Every committed
// transition bumps State.Version and is published to OnChange subscribers
// in order.
//
// Audio playback is the only work that outlives a transition. Each
// playback carries an epoch; a completion whose epoch is stale is dropped,
// so an interrupted playback can never bring the agent back to speaking.
package interview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-screener/pkg/audioio"
	"github.com/teslashibe/go-screener/pkg/metrics"
	"github.com/teslashibe/go-screener/pkg/protocol"
	"github.com/teslashibe/go-screener/pkg/session"
)

// System-originated requests sent as text_message frames.
const (
	TextRepeatCurrent = "Please repeat the current question."
	TextRepeatLast    = "Please repeat the previous question."
	TextSubmit        = "I want to submit my responses."
	TextConsent       = "Yes, I consent to proceed."
)

// Connector opens a session and carries frames. *session.Manager
// satisfies it.
type Connector interface {
	Open(ctx context.Context, req session.StartRequest, h session.Handler) (*session.Session, error)
	Send(f protocol.Frame) error
	Close() error
}

// ProgressReporter saves transcripts at lifecycle milestones.
// *session.Manager satisfies it.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, report session.ProgressReport) error
}

// Config holds Controller settings.
type Config struct {
	// Connector is required.
	Connector Connector

	// Audio is required.
	Audio audioio.Device

	// Progress is optional.
	Progress ProgressReporter

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Logger is the structured logger to use.
	Logger *slog.Logger

	// AudioTimeout bounds recorder start/stop calls.
	AudioTimeout time.Duration

	// ProgressTimeout bounds a single progress report.
	ProgressTimeout time.Duration
}

// Option is a functional option for configuring the Controller.
type Option func(*Config)

// WithProgressReporter enables progress reports.
func WithProgressReporter(p ProgressReporter) Option {
	return func(c *Config) {
		c.Progress = p
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithAudioTimeout bounds recorder calls.
func WithAudioTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.AudioTimeout = d
	}
}

// WithProgressTimeout bounds a single progress report.
func WithProgressTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ProgressTimeout = d
	}
}

// Controller is the conversation state machine.
type Controller struct {
	connector Connector
	audio     audioio.Device
	progress  ProgressReporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	st    State
	dirty bool

	// gen changes on Reset so an in-flight Start can tell it was abandoned.
	gen uint64

	// handover records whether the current agent turn ends with the
	// participant holding the floor.
	handover bool

	// systemRequest marks the next user_message as a system echo.
	systemRequest bool

	// repeatAnchor is the question number the backend went back to after
	// a repeat-last request; -1 until that frame arrives.
	repeatAnchor int

	// completeSeen makes interview_complete take effect once per session.
	completeSeen bool

	playEpoch  uint64
	playDone   chan struct{}
	playCancel context.CancelFunc

	// reports tracks in-flight progress reports so Close can flush them.
	reports sync.WaitGroup

	// notifyMu keeps OnChange deliveries in commit order.
	notifyMu  sync.Mutex
	listeners []func(State)

	closed bool
}

// New creates a Controller.
func New(connector Connector, audio audioio.Device, opts ...Option) *Controller {
	cfg := Config{
		Connector:       connector,
		Audio:           audio,
		AudioTimeout:    5 * time.Second,
		ProgressTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		connector: cfg.Connector,
		audio:     cfg.Audio,
		progress:  cfg.Progress,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "interview.controller"),
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		st:        initialState(),
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.clone()
}

// OnChange registers fn to receive a snapshot after every transition.
// fn must not call intents synchronously.
func (c *Controller) OnChange(fn func(State)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// commit publishes a pending transition and releases c.mu.
func (c *Controller) commit() {
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	c.dirty = false
	c.st.Version++
	snap := c.st.clone()

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, fn := range c.listeners {
		fn(snap)
	}
}

func (c *Controller) changed() {
	c.dirty = true
}

// fail records a recovered failure.
func (c *Controller) fail(kind FailureKind, cause error) *Failure {
	f := newFailure(kind, cause)
	c.st.LastFailure = f
	c.changed()
	c.metrics.Failure(string(kind))
	c.logger.Warn("recovered failure", "kind", kind, "error", cause,
		"phase", c.st.Phase, "turn", c.st.Turn)
	return f
}

// Start requests a session and opens the transport.
func (c *Controller) Start(ctx context.Context, req session.StartRequest) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.st.Phase != PhaseNotStarted {
		err := rejected("start", &c.st)
		c.mu.Unlock()
		c.metrics.Intent("start", false)
		return err
	}
	c.metrics.Intent("start", true)

	c.st.Phase = PhaseStarting
	c.st.LastFailure = nil
	c.st.ConnectionLost = false
	gen := c.gen
	c.changed()
	c.commit()

	c.logger.Info("starting interview", "study_id", req.StudyID)

	err := c.audio.Initialize(ctx)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.st.Phase = PhaseNotStarted
			c.fail(FailureMicrophone, err)
		}
		c.commit()
		return errors.Join(ErrMicrophoneUnavailable, err)
	}

	sess, err := c.connector.Open(ctx, req, c)

	c.mu.Lock()
	if c.gen != gen {
		// Reset during Open.
		c.commit()
		if err == nil {
			c.connector.Close()
		}
		return context.Canceled
	}
	if err != nil {
		c.st.Phase = PhaseNotStarted
		c.st.Turn = TurnIdle
		c.fail(FailureConnection, err)
		c.commit()
		return errors.Join(ErrConnectionFailure, err)
	}

	c.st.Session = sess
	if c.st.Phase == PhaseStarting {
		c.st.Phase = PhaseConsent
	}
	c.changed()
	c.reportProgress(session.ExitInterviewStarted)
	c.commit()

	c.logger.Info("interview started", "session_id", sess.ID, "participant_id", sess.ParticipantID)
	return nil
}

// Reset is the full external restart: it stops audio, closes the
// transport and returns to not_started with a fresh state.
func (c *Controller) Reset() error {
	return c.reset(session.ExitUserInitiated)
}

func (c *Controller) reset(exit string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.metrics.Intent("reset", true)

	if c.st.active() {
		c.reportProgress(exit)
	}
	c.stopPlayback()
	c.abortRecording()

	version := c.st.Version
	c.st = initialState()
	c.st.Version = version
	c.gen++
	c.handover = false
	c.systemRequest = false
	c.repeatAnchor = 0
	c.completeSeen = false
	c.changed()
	c.commit()

	c.logger.Info("interview reset")
	return c.connector.Close()
}

// Close resets the controller and stops accepting intents. An interview
// still in progress is reported as abandoned by page_refresh. Close waits
// up to ProgressTimeout for outstanding progress reports.
func (c *Controller) Close() error {
	err := c.reset(session.ExitPageRefresh)
	if errors.Is(err, ErrClosed) {
		return nil
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.flushReports()
	c.cancel()
	return err
}

func (c *Controller) flushReports() {
	done := make(chan struct{})
	go func() {
		c.reports.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.ProgressTimeout):
		c.logger.Warn("progress reports still pending at close")
	}
}

// stopPlayback cancels in-flight speech. Caller holds c.mu.
func (c *Controller) stopPlayback() bool {
	if c.st.Turn != TurnAgentSpeaking {
		return false
	}
	c.playEpoch++
	if c.playCancel != nil {
		c.playCancel()
		c.playCancel = nil
	}
	if err := c.audio.Stop(); err != nil {
		c.logger.Warn("audio stop failed", "error", err)
	}
	c.metrics.Playback("interrupted")
	return true
}

// abortRecording discards an active recording. Caller holds c.mu.
func (c *Controller) abortRecording() bool {
	if c.st.Turn != TurnRecording {
		return false
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.AudioTimeout)
	defer cancel()
	if _, err := c.audio.StopRecording(ctx); err != nil {
		c.logger.Warn("discarding recording failed", "error", err)
	}
	return true
}

// startPlayback plays agent speech. Caller holds c.mu.
//
// The playback context exists before the goroutine runs, so a stop that
// lands before Play is called still cancels it.
func (c *Controller) startPlayback(encoded string) {
	c.playEpoch++
	epoch := c.playEpoch
	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.playDone = done
	c.playCancel = cancel
	c.st.Turn = TurnAgentSpeaking
	c.changed()

	go func() {
		err := c.audio.Play(ctx, encoded)
		cancel()
		close(done)
		c.playbackFinished(epoch, err)
	}()
}

func (c *Controller) playbackFinished(epoch uint64, err error) {
	c.mu.Lock()
	if epoch != c.playEpoch || c.st.Turn != TurnAgentSpeaking {
		c.mu.Unlock()
		c.metrics.Playback("stale")
		c.logger.Debug("dropping stale playback completion", "epoch", epoch)
		return
	}

	switch {
	case err == nil:
		c.metrics.Playback("completed")
	case errors.Is(err, audioio.ErrInterrupted), errors.Is(err, context.Canceled):
		c.metrics.Playback("interrupted")
	default:
		c.metrics.Playback("failed")
		c.fail(FailurePlayback, err)
	}

	c.playCancel = nil
	c.st.Turn = c.afterAgentTurn()
	c.changed()
	c.commit()
}

// waitPlaybackDrained waits for the last Play call to return. Play closes
// its done channel before taking c.mu, so waiting under the lock is safe.
func (c *Controller) waitPlaybackDrained() error {
	if c.playDone == nil {
		return nil
	}
	select {
	case <-c.playDone:
		return nil
	case <-time.After(c.cfg.AudioTimeout):
		return errPlaybackStuck
	}
}

// afterAgentTurn is the turn once agent speech is over.
func (c *Controller) afterAgentTurn() Turn {
	if c.handover && c.st.active() {
		return TurnAwaitingAnswer
	}
	return TurnIdle
}

var _ session.Handler = (*Controller)(nil)
