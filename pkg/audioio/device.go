package audioio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrPermissionDenied indicates the microphone could not be acquired.
	ErrPermissionDenied = errors.New("audioio: microphone permission denied")

	// ErrNotRecording indicates StopRecording without a recording.
	ErrNotRecording = errors.New("audioio: not recording")

	// ErrAlreadyRecording indicates StartRecording while recording.
	ErrAlreadyRecording = errors.New("audioio: already recording")

	// ErrPlayback indicates speech could not be decoded or played.
	ErrPlayback = errors.New("audioio: playback failed")

	// ErrInterrupted is returned by Play when Stop cut playback short.
	ErrInterrupted = errors.New("audioio: playback interrupted")

	// ErrClosed indicates use of a closed device.
	ErrClosed = errors.New("audioio: device closed")
)

// Device is the audio capability consumed by the conversation controller.
type Device interface {
	// Initialize acquires the microphone. Fails with ErrPermissionDenied.
	Initialize(ctx context.Context) error

	// StartRecording begins capturing one utterance.
	StartRecording(ctx context.Context) error

	// StopRecording ends the utterance and returns it base64 encoded.
	StopRecording(ctx context.Context) (string, error)

	// Play plays base64 encoded speech and blocks until it completes,
	// is interrupted by Stop (ErrInterrupted), or fails (ErrPlayback).
	Play(ctx context.Context, encoded string) error

	// Stop interrupts in-flight playback. Idempotent.
	Stop() error

	// Close releases the microphone and speaker.
	Close() error
}

// StreamDevice implements Device over a capture Source and a playback Sink.
// Utterances are returned as base64 WAV.
type StreamDevice struct {
	cfg    Config
	source Source
	sink   Sink
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	closed      bool

	recording bool
	recDone   chan struct{}
	recCancel context.CancelFunc
	recorded  []int16

	playCancel context.CancelFunc
	playID     uint64
}

// NewStreamDevice creates a Device over the given source and sink.
func NewStreamDevice(cfg Config, source Source, sink Sink, logger *slog.Logger) *StreamDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamDevice{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger.With("component", "audioio.device", "source", source.Name(), "sink", sink.Name()),
	}
}

// Initialize probes the microphone and prepares the speaker.
func (d *StreamDevice) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.initialized {
		return nil
	}

	if err := d.source.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := d.source.Stop(); err != nil {
		d.logger.Warn("microphone probe stop failed", "error", err)
	}
	if err := d.sink.Start(ctx); err != nil {
		return fmt.Errorf("audioio: start speaker: %w", err)
	}

	d.initialized = true
	d.logger.Info("audio device initialized", "sample_rate", d.cfg.SampleRate)
	return nil
}

// StartRecording begins capturing. The capture outlives ctx; it runs until
// StopRecording or Close.
func (d *StreamDevice) StartRecording(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.recording {
		return ErrAlreadyRecording
	}

	capCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := d.source.Start(capCtx); err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	d.recording = true
	d.recCancel = cancel
	d.recorded = d.recorded[:0]
	d.recDone = make(chan struct{})

	go d.collect(d.source.Stream(), d.recDone)

	d.logger.Debug("recording started")
	return nil
}

func (d *StreamDevice) collect(stream <-chan AudioChunk, done chan struct{}) {
	defer close(done)

	limit := d.cfg.MaxSamples()
	for chunk := range stream {
		d.mu.Lock()
		if room := limit - len(d.recorded); room > 0 {
			if len(chunk.Samples) > room {
				chunk.Samples = chunk.Samples[:room]
			}
			d.recorded = append(d.recorded, chunk.Samples...)
		}
		d.mu.Unlock()
	}
}

// StopRecording ends capture and returns the utterance as base64 WAV.
func (d *StreamDevice) StopRecording(ctx context.Context) (string, error) {
	d.mu.Lock()
	if !d.recording {
		d.mu.Unlock()
		return "", ErrNotRecording
	}
	d.recording = false
	done := d.recDone
	cancel := d.recCancel
	d.mu.Unlock()

	if err := d.source.Stop(); err != nil {
		d.logger.Warn("source stop failed", "error", err)
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	d.mu.Lock()
	wav := EncodeWAV(d.recorded, d.cfg.SampleRate, d.cfg.Channels)
	samples := len(d.recorded)
	d.mu.Unlock()

	d.logger.Debug("recording stopped", "samples", samples)
	return base64.StdEncoding.EncodeToString(wav), nil
}

// Play decodes base64 speech (WAV, or raw PCM16 at the configured rate)
// and plays it to completion.
func (d *StreamDevice) Play(ctx context.Context, encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: decode: %v", ErrPlayback, err)
	}

	chunk, err := DecodeWAV(raw)
	if errors.Is(err, ErrNotWAV) {
		chunk = AudioChunk{Samples: BytesToSamples(raw), SampleRate: d.cfg.SampleRate, Channels: d.cfg.Channels}
	}
	if chunk.SampleRate != d.cfg.SampleRate {
		chunk.Samples = Resample(chunk.Samples, chunk.SampleRate, d.cfg.SampleRate)
		chunk.SampleRate = d.cfg.SampleRate
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.playCancel != nil {
		d.playCancel()
	}
	playCtx, cancel := context.WithCancel(ctx)
	d.playCancel = cancel
	d.playID++
	id := d.playID
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.playID == id {
			d.playCancel = nil
		}
		d.mu.Unlock()
		cancel()
	}()

	// A context cancelled before registration never reaches the sink.
	if playCtx.Err() != nil {
		return d.playbackEnded(ctx)
	}

	step := d.cfg.BufferSize() * d.cfg.Channels
	for off := 0; off < len(chunk.Samples); off += step {
		if playCtx.Err() != nil {
			return d.playbackEnded(ctx)
		}
		end := min(off+step, len(chunk.Samples))
		part := AudioChunk{Samples: chunk.Samples[off:end], SampleRate: chunk.SampleRate, Channels: chunk.Channels}
		if err := d.sink.Write(playCtx, part); err != nil {
			if playCtx.Err() != nil {
				return d.playbackEnded(ctx)
			}
			return fmt.Errorf("%w: write: %v", ErrPlayback, err)
		}
	}

	if err := d.sink.Flush(playCtx); err != nil {
		if playCtx.Err() != nil {
			return d.playbackEnded(ctx)
		}
		return fmt.Errorf("%w: flush: %v", ErrPlayback, err)
	}
	return nil
}

func (d *StreamDevice) playbackEnded(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrInterrupted
}

// Stop interrupts in-flight playback.
func (d *StreamDevice) Stop() error {
	d.mu.Lock()
	cancel := d.playCancel
	d.playCancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return d.sink.Clear()
}

// Close stops playback and capture and releases both devices.
func (d *StreamDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	recording := d.recording
	d.recording = false
	cancel := d.recCancel
	d.mu.Unlock()

	d.Stop()
	if recording && cancel != nil {
		cancel()
	}

	return errors.Join(d.source.Close(), d.sink.Close())
}

var _ Device = (*StreamDevice)(nil)
