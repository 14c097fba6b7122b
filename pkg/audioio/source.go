package audioio

import (
	"context"
	"io"
)

// AudioChunk represents a chunk of PCM16 audio.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Bytes returns the chunk as little-endian PCM16 bytes.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// Duration returns the duration of this audio chunk in seconds.
func (c *AudioChunk) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Source captures audio from a microphone.
type Source interface {
	// Start begins capture. Chunks are delivered on Stream.
	Start(ctx context.Context) error

	// Stop halts capture and closes the stream channel.
	// It is safe to call Stop multiple times.
	Stop() error

	// Stream returns the channel of captured chunks for the current capture.
	Stream() <-chan AudioChunk

	// Name returns the backend name.
	Name() string

	io.Closer
}

// Sink plays audio to a speaker.
type Sink interface {
	// Start prepares the output device.
	Start(ctx context.Context) error

	// Write queues an audio chunk for playback.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush blocks until queued audio has played or ctx is done.
	Flush(ctx context.Context) error

	// Clear discards queued audio immediately.
	Clear() error

	// Name returns the backend name.
	Name() string

	io.Closer
}
