//go:build !audio

package audioio

import (
	"errors"
	"log/slog"
)

var errNoHardware = errors.New("audioio: built without audio support; rebuild with -tags audio")

func newMalgoSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, errNoHardware
}

func newOtoSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, errNoHardware
}
