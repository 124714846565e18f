package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Pipeline.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Pipeline.MaxConcurrent)
	}
	if cfg.Pipeline.RetryBaseDelay != time.Second {
		t.Errorf("RetryBaseDelay = %v, want 1s", cfg.Pipeline.RetryBaseDelay)
	}
	if cfg.Sweeper.RecurrenceInterval != time.Minute {
		t.Errorf("RecurrenceInterval = %v, want 1m", cfg.Sweeper.RecurrenceInterval)
	}
	if cfg.Sweeper.RetryInterval != 15*time.Minute {
		t.Errorf("RetryInterval = %v, want 15m", cfg.Sweeper.RetryInterval)
	}
	if cfg.Synthesis.Timeout != 30 {
		t.Errorf("Synthesis.Timeout = %d, want 30", cfg.Synthesis.Timeout)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PIPELINE_MAX_CONCURRENT", "7")
	t.Setenv("SWEEPER_MODE", "asynq")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxConcurrent != 7 {
		t.Errorf("MaxConcurrent = %d, want 7", cfg.Pipeline.MaxConcurrent)
	}
	if cfg.Sweeper.Mode != "asynq" {
		t.Errorf("Sweeper.Mode = %q, want asynq", cfg.Sweeper.Mode)
	}
}

func TestReadSecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("  s3cret\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("SYNTHESIS_API_KEY", "")
	t.Setenv("SYNTHESIS_API_KEY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Synthesis.APIKey != "s3cret" {
		t.Errorf("APIKey = %q, want s3cret", cfg.Synthesis.APIKey)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	if got := NewLogger("debug", "json").GetLevel(); got != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", got)
	}
	if got := NewLogger("nonsense", "text").GetLevel(); got != logrus.InfoLevel {
		t.Errorf("level = %v, want info", got)
	}
}
