package audioio

import (
	"context"
	"encoding/base64"
	"log/slog"
	"math"
	"sync"
	"time"
)

// MockSource is a synthetic microphone. It produces silence or a sine
// wave every BufferDuration while started.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	stream   chan AudioChunk
	stopCh   chan struct{}
	startErr error

	phase     float64
	frequency float64
	amplitude float64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave makes the source generate a tone instead of silence.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithStartError makes Start fail, simulating a denied microphone.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.startErr = err
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		stream:    make(chan AudioChunk),
		amplitude: 0.5,
	}
	close(m.stream)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.startErr != nil {
		return m.startErr
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.stream = make(chan AudioChunk, 16)

	go m.generate(ctx, m.stream, m.stopCh)
	return nil
}

func (m *MockSource) generate(ctx context.Context, out chan AudioChunk, stop chan struct{}) {
	defer close(out)

	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			select {
			case out <- m.chunk():
			default:
				m.logger.Debug("mock source: buffer full, dropping chunk")
			}
		}
	}
}

func (m *MockSource) chunk() AudioChunk {
	n := m.cfg.BufferSize()
	samples := make([]int16, n*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < n; i++ {
			v := int16(m.amplitude * 32767 * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = v
			}
			m.phase++
		}
	}

	return AudioChunk{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}
}

// Stop halts generation; the stream closes once the generator exits.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	return nil
}

// Stream returns the current capture channel.
func (m *MockSource) Stream() <-chan AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Name returns "mock".
func (m *MockSource) Name() string { return "mock" }

// Close stops the source permanently.
func (m *MockSource) Close() error {
	m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// MockSink is a speaker that records what it was asked to play.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	buffered int
	played   int
	clears   int
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{cfg: cfg, logger: logger}
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.running = true
	return nil
}

// Write buffers a chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running {
		return ErrClosed
	}
	m.buffered += len(chunk.Samples)
	return nil
}

// Flush "plays" buffered audio, waiting a token fraction of its duration.
func (m *MockSink) Flush(ctx context.Context) error {
	m.mu.Lock()
	samples := m.buffered
	m.mu.Unlock()

	if samples > 0 && m.cfg.SampleRate > 0 {
		wait := min(time.Duration(float64(samples)/float64(m.cfg.SampleRate)*float64(time.Second))/100, 10*time.Millisecond)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	m.mu.Lock()
	m.played += m.buffered
	m.buffered = 0
	m.mu.Unlock()
	return nil
}

// Clear discards buffered audio.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffered = 0
	m.clears++
	return nil
}

// Played returns the number of samples played so far.
func (m *MockSink) Played() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.played
}

// Clears returns how many times Clear was called.
func (m *MockSink) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// Name returns "mock".
func (m *MockSink) Name() string { return "mock" }

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.running = false
	return nil
}

// MockDevice is a scriptable Device for controller tests.
//
// Playback blocks until CompletePlayback, FailPlayback, Stop or ctx
// cancellation, unless AutoComplete is set. Recording returns queued
// utterances as base64 UTF-8 text. Overlaps counts every moment recording
// and playback were active together.
type MockDevice struct {
	// Override hooks. A nil hook uses the default behavior.
	InitializeFunc     func(ctx context.Context) error
	StartRecordingFunc func(ctx context.Context) error
	StopRecordingFunc  func(ctx context.Context) (string, error)

	// AutoComplete finishes every Play after PlaybackDelay.
	AutoComplete  bool
	PlaybackDelay time.Duration

	// DefaultUtterance is returned when no utterance is queued.
	DefaultUtterance string

	mu         sync.Mutex
	utterances []string
	recording  bool
	playing    *mockPlayback
	overlaps   int
	plays      []string
	recordings int
	stops      int
	closed     bool
}

type mockPlayback struct {
	result chan error
}

// NewMockDevice creates a new mock device.
func NewMockDevice() *MockDevice {
	return &MockDevice{}
}

// Initialize succeeds unless InitializeFunc says otherwise.
func (d *MockDevice) Initialize(ctx context.Context) error {
	if d.InitializeFunc != nil {
		return d.InitializeFunc(ctx)
	}
	return nil
}

// StartRecording begins a simulated recording.
func (d *MockDevice) StartRecording(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.StartRecordingFunc != nil {
		if err := d.StartRecordingFunc(ctx); err != nil {
			return err
		}
	}
	if d.recording {
		return ErrAlreadyRecording
	}
	if d.playing != nil {
		d.overlaps++
	}
	d.recording = true
	d.recordings++
	return nil
}

// StopRecording returns the next queued utterance.
func (d *MockDevice) StopRecording(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.recording {
		return "", ErrNotRecording
	}
	d.recording = false

	if d.StopRecordingFunc != nil {
		return d.StopRecordingFunc(ctx)
	}

	text := d.DefaultUtterance
	if len(d.utterances) > 0 {
		text = d.utterances[0]
		d.utterances = d.utterances[1:]
	}
	return base64.StdEncoding.EncodeToString([]byte(text)), nil
}

// Play blocks until the playback is resolved.
func (d *MockDevice) Play(ctx context.Context, encoded string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.recording {
		d.overlaps++
	}
	if d.playing != nil {
		d.playing.result <- ErrInterrupted
	}
	pb := &mockPlayback{result: make(chan error, 1)}
	d.playing = pb
	d.plays = append(d.plays, encoded)
	auto, delay := d.AutoComplete, d.PlaybackDelay
	d.mu.Unlock()

	if auto {
		go func() {
			time.Sleep(delay)
			d.finish(pb, nil)
		}()
	}

	select {
	case err := <-pb.result:
		return err
	case <-ctx.Done():
		d.finish(pb, ctx.Err())
		return ctx.Err()
	}
}

func (d *MockDevice) finish(pb *mockPlayback, err error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.playing != pb || pb == nil {
		return false
	}
	d.playing = nil
	pb.result <- err
	return true
}

func (d *MockDevice) current() *mockPlayback {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

// CompletePlayback finishes the in-flight Play successfully.
// It reports whether a playback was in flight.
func (d *MockDevice) CompletePlayback() bool {
	return d.finish(d.current(), nil)
}

// FailPlayback finishes the in-flight Play with err.
func (d *MockDevice) FailPlayback(err error) bool {
	return d.finish(d.current(), err)
}

// Stop interrupts in-flight playback.
func (d *MockDevice) Stop() error {
	d.mu.Lock()
	d.stops++
	d.mu.Unlock()

	d.finish(d.current(), ErrInterrupted)
	return nil
}

// Close stops everything.
func (d *MockDevice) Close() error {
	d.Stop()
	d.mu.Lock()
	d.closed = true
	d.recording = false
	d.mu.Unlock()
	return nil
}

// QueueUtterance queues text to be returned by the next StopRecording.
func (d *MockDevice) QueueUtterance(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.utterances = append(d.utterances, text)
}

// Playing reports whether a Play call is in flight.
func (d *MockDevice) Playing() bool {
	return d.current() != nil
}

// Recording reports whether a recording is active.
func (d *MockDevice) Recording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recording
}

// Overlaps returns how many times recording and playback overlapped.
func (d *MockDevice) Overlaps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overlaps
}

// Plays returns every payload passed to Play.
func (d *MockDevice) Plays() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.plays...)
}

// Recordings returns how many recordings were started.
func (d *MockDevice) Recordings() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recordings
}

// Stops returns how many times Stop was called.
func (d *MockDevice) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

var (
	_ Source = (*MockSource)(nil)
	_ Sink   = (*MockSink)(nil)
	_ Device = (*MockDevice)(nil)
)
