package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, k := range []string{
		"SCREENER_BACKEND_URL", "SCREENER_STUDY_ID", "SCREENER_AUDIO_BACKEND",
		"SCREENER_SAMPLE_RATE", "SCREENER_DASHBOARD_PORT", "SCREENER_LOG_LEVEL", "SCREENER_SIM_PORT",
	} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BackendURL != DefaultBackendURL {
		t.Errorf("BackendURL = %q, want %q", cfg.BackendURL, DefaultBackendURL)
	}
	if cfg.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", cfg.SampleRate, DefaultSampleRate)
	}
	if cfg.AudioBackend != "mock" {
		t.Errorf("AudioBackend = %q, want mock", cfg.AudioBackend)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should require a study id")
	}
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SCREENER_STUDY_ID", "study-1")
	t.Setenv("SCREENER_DASHBOARD_PORT", "9000")
	t.Setenv("SCREENER_AUDIO_BACKEND", "device")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DashboardPort != 9000 {
		t.Errorf("DashboardPort = %d, want 9000", cfg.DashboardPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadInvalidNumber(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SCREENER_SAMPLE_RATE", "fast")

	if _, err := Load(); err == nil {
		t.Error("Load() should reject a non-numeric sample rate")
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent to testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
