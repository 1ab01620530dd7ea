package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Host != "localhost" {
		t.Errorf("Expected default host localhost, got %s", cfg.Host)
	}
	if cfg.Port != 4180 {
		t.Errorf("Expected default port 4180, got %d", cfg.Port)
	}
	if cfg.DatabasePath != "./enduro.db" {
		t.Errorf("Expected default database path, got %s", cfg.DatabasePath)
	}
	if cfg.DecoderBatchSize != 200 {
		t.Errorf("Expected default batch size 200, got %d", cfg.DecoderBatchSize)
	}
	if cfg.DecoderPollInterval != time.Second {
		t.Errorf("Expected default decoder poll interval 1s, got %s", cfg.DecoderPollInterval)
	}
	if cfg.CachePollInterval != 5*time.Second {
		t.Errorf("Expected default cache poll interval 5s, got %s", cfg.CachePollInterval)
	}
	if cfg.MetricsEnabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.GPXCreator != "enduro-tracker" {
		t.Errorf("Expected default gpx creator, got %s", cfg.GPXCreator)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("DECODER_POLL_INTERVAL_MS", "250")
	t.Setenv("GPX_CREATOR", "race-ops")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Port)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected metrics enabled")
	}
	if cfg.DecoderPollInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms poll interval, got %s", cfg.DecoderPollInterval)
	}
	if cfg.GPXCreator != "race-ops" {
		t.Errorf("Expected creator race-ops, got %s", cfg.GPXCreator)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("METRICS_ENABLED", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Port != 4180 {
		t.Errorf("Expected fallback to default port, got %d", cfg.Port)
	}
	if cfg.MetricsEnabled {
		t.Error("Expected fallback to metrics disabled")
	}
}
