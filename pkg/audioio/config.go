// Package audioio records participant utterances and plays agent speech.
//
// The conversation controller only needs two capabilities: record an
// utterance and return it base64 encoded, and play base64 encoded speech to
// completion or interruption. Device captures both. Two backends exist:
//   - Mock - CI/testing and local runs against the scripted backend
//   - Device - microphone and speaker via malgo/oto (build tag "audio")
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendMock uses in-memory capture and playback.
	BackendMock Backend = "mock"
	// BackendDevice uses the system microphone and speaker.
	BackendDevice Backend = "device"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "mock"
	Backend Backend `json:"backend"`

	// SampleRate is the capture and playback sample rate in Hz.
	// Default: 16000
	SampleRate int `json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `json:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 20ms
	BufferDuration time.Duration `json:"buffer_duration"`

	// MaxRecording caps a single utterance. Audio past the cap is dropped.
	// Default: 2m
	MaxRecording time.Duration `json:"max_recording"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendMock,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		MaxRecording:   2 * time.Minute,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMock, BackendDevice:
	default:
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	if c.MaxRecording <= 0 {
		return fmt.Errorf("max_recording must be positive, got %v", c.MaxRecording)
	}
	return nil
}

// BufferSize returns the number of frames per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}

// MaxSamples returns the sample cap for one utterance.
func (c *Config) MaxSamples() int {
	return int(float64(c.SampleRate)*c.MaxRecording.Seconds()) * c.Channels
}
