//go:build audio

package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
)

// malgoSource captures from the default microphone via miniaudio.
type malgoSource struct {
	cfg    Config
	logger *slog.Logger
	ctx    *malgo.AllocatedContext

	mu     sync.Mutex
	device *malgo.Device
	stream chan AudioChunk
}

func newMalgoSource(cfg Config, logger *slog.Logger) (Source, error) {
	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("audioio: init capture context: %w", err)
	}

	s := &malgoSource{
		cfg:    cfg,
		logger: logger.With("component", "audioio.malgo"),
		ctx:    mctx,
		stream: make(chan AudioChunk),
	}
	close(s.stream)
	return s, nil
}

func (s *malgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return nil
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(s.cfg.Channels)
	devCfg.SampleRate = uint32(s.cfg.SampleRate)
	devCfg.PeriodSizeInMilliseconds = uint32(s.cfg.BufferDuration.Milliseconds())

	out := make(chan AudioChunk, 64)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			chunk := AudioChunk{
				Samples:    BytesToSamples(input),
				SampleRate: s.cfg.SampleRate,
				Channels:   s.cfg.Channels,
			}
			select {
			case out <- chunk:
			default:
				s.logger.Debug("capture buffer full, dropping chunk")
			}
		},
	}

	device, err := malgo.InitDevice(s.ctx.Context, devCfg, callbacks)
	if err != nil {
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}

	s.device = device
	s.stream = out
	return nil
}

func (s *malgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}
	err := s.device.Stop()
	s.device.Uninit()
	s.device = nil
	close(s.stream)
	return err
}

func (s *malgoSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *malgoSource) Name() string { return "malgo" }

func (s *malgoSource) Close() error {
	err := s.Stop()
	_ = s.ctx.Uninit()
	s.ctx.Free()
	return err
}

// otoSink plays through the default speaker. oto pulls PCM from Read.
type otoSink struct {
	cfg    Config
	logger *slog.Logger
	ctx    *oto.Context

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	player *oto.Player
	closed bool
}

func newOtoSink(cfg Config, logger *slog.Logger) (Sink, error) {
	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("audioio: init speaker: %w", err)
	}
	<-ready

	s := &otoSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.oto"),
		ctx:    octx,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

func (s *otoSink) Start(ctx context.Context) error {
	return nil
}

func (s *otoSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.buf = append(s.buf, chunk.Bytes()...)
	if s.player == nil {
		s.player = s.ctx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read implements io.Reader for the oto player.
func (s *otoSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed && s.player != nil {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		clear(p)
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *otoSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		pending := len(s.buf)
		player := s.player
		s.mu.Unlock()

		if pending == 0 && (player == nil || player.BufferedSize() == 0) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *otoSink) Clear() error {
	s.mu.Lock()
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		return player.Close()
	}
	return nil
}

func (s *otoSink) Name() string { return "oto" }

func (s *otoSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.Clear()
}
