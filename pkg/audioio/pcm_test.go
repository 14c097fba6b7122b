package audioio

import (
	"errors"
	"testing"
)

func TestResample(t *testing.T) {
	tests := []struct {
		name     string
		in       int
		from, to int
		wantLen  int
	}{
		{"same rate", 5, 16000, 16000, 5},
		{"downsample", 960, 48000, 16000, 320},
		{"upsample", 320, 16000, 24000, 480},
		{"empty", 0, 16000, 48000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]int16, tt.in)
			for i := range samples {
				samples[i] = int16(i)
			}
			if got := Resample(samples, tt.from, tt.to); len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestSamplesBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	data := SamplesToBytes(samples)

	if len(data) != 10 {
		t.Fatalf("len = %d, want 10", len(data))
	}
	if data[2] != 0x01 || data[3] != 0x00 {
		t.Errorf("sample 1 not little-endian: %x", data[2:4])
	}

	got := BytesToSamples(data)
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestWAV(t *testing.T) {
	samples := []int16{100, -200, 300}
	data := EncodeWAV(samples, 16000, 1)

	if len(data) != 44+6 {
		t.Fatalf("len = %d, want 50", len(data))
	}

	chunk, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if chunk.SampleRate != 16000 || chunk.Channels != 1 {
		t.Errorf("format = %d Hz x%d, want 16000 Hz x1", chunk.SampleRate, chunk.Channels)
	}
	if len(chunk.Samples) != 3 || chunk.Samples[1] != -200 {
		t.Errorf("samples = %v", chunk.Samples)
	}

	if _, err := DecodeWAV([]byte("hello")); !errors.Is(err, ErrNotWAV) {
		t.Errorf("DecodeWAV(text) error = %v, want ErrNotWAV", err)
	}
}
