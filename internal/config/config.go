// Package config loads go-screener settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultBackendURL    = "http://localhost:8000"
	DefaultAudioBackend  = "mock"
	DefaultSampleRate    = 16000
	DefaultDashboardPort = 8090
	DefaultLogLevel      = "info"
	DefaultSimPort       = 8000
)

// Config holds application configuration.
type Config struct {
	BackendURL       string
	StudyID          string
	ParticipantName  string
	ParticipantEmail string
	AudioBackend     string
	SampleRate       int
	DashboardPort    int
	LogLevel         string
	SimPort          int
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Config{
		BackendURL:       str("SCREENER_BACKEND_URL", DefaultBackendURL),
		StudyID:          os.Getenv("SCREENER_STUDY_ID"),
		ParticipantName:  os.Getenv("SCREENER_PARTICIPANT_NAME"),
		ParticipantEmail: os.Getenv("SCREENER_PARTICIPANT_EMAIL"),
		AudioBackend:     str("SCREENER_AUDIO_BACKEND", DefaultAudioBackend),
		LogLevel:         str("SCREENER_LOG_LEVEL", DefaultLogLevel),
	}

	var err error
	if cfg.SampleRate, err = num("SCREENER_SAMPLE_RATE", DefaultSampleRate); err != nil {
		return Config{}, err
	}
	if cfg.DashboardPort, err = num("SCREENER_DASHBOARD_PORT", DefaultDashboardPort); err != nil {
		return Config{}, err
	}
	if cfg.SimPort, err = num("SCREENER_SIM_PORT", DefaultSimPort); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings the client needs to start an interview.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("config: SCREENER_BACKEND_URL is required")
	}
	if c.StudyID == "" {
		return errors.New("config: SCREENER_STUDY_ID is required")
	}
	switch c.AudioBackend {
	case "mock", "device":
	default:
		return fmt.Errorf("config: SCREENER_AUDIO_BACKEND must be mock or device, got %q", c.AudioBackend)
	}
	return nil
}

func str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func num(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
