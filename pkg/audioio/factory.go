package audioio

import (
	"fmt"
	"log/slog"
)

// NewDevice creates the Device selected by cfg.Backend.
func NewDevice(cfg Config, logger *slog.Logger) (Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("creating audio device",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch cfg.Backend {
	case BackendMock:
		return NewStreamDevice(cfg, NewMockSource(cfg, logger), NewMockSink(cfg, logger), logger), nil
	case BackendDevice:
		src, err := newMalgoSource(cfg, logger)
		if err != nil {
			return nil, err
		}
		sink, err := newOtoSink(cfg, logger)
		if err != nil {
			src.Close()
			return nil, err
		}
		return NewStreamDevice(cfg, src, sink, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}
