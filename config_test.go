package conveyor_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/conveyor"
)

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := conveyor.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg != conveyor.DefaultConfig() {
		t.Fatalf("got %+v, want defaults", cfg)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyor.json")
	body := `{"step": 3, "batch_size": 25, "stale_after": "2m", "reclaim_schedule": "@every 1m"}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := conveyor.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Step != 3 || cfg.BatchSize != 25 {
		t.Errorf("step/batch = %d/%d, want 3/25", cfg.Step, cfg.BatchSize)
	}
	if cfg.StaleAfter != 2*time.Minute {
		t.Errorf("stale_after = %v, want 2m", cfg.StaleAfter)
	}
	if cfg.ReclaimSchedule != "@every 1m" {
		t.Errorf("reclaim_schedule = %q", cfg.ReclaimSchedule)
	}
	// Unset fields keep their defaults.
	if cfg.MaxAttempts != conveyor.DefaultConfig().MaxAttempts {
		t.Errorf("max_attempts = %d, want default", cfg.MaxAttempts)
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyor.json")
	if err := os.WriteFile(path, []byte(`{"poll_interval": "soon"}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := conveyor.LoadConfig(path); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CONVEYOR_STEP", "7")
	t.Setenv("CONVEYOR_MAX_ATTEMPTS", "9")
	t.Setenv("CONVEYOR_POLL_INTERVAL", "250ms")
	t.Setenv("CONVEYOR_RECLAIM_SCHEDULE", "")
	t.Setenv("CONVEYOR_BATCH_SIZE", "not-a-number")

	cfg := conveyor.DefaultConfig()
	conveyor.ConfigFromEnv(&cfg)

	if cfg.Step != 7 {
		t.Errorf("step = %d, want 7", cfg.Step)
	}
	if cfg.MaxAttempts != 9 {
		t.Errorf("max attempts = %d, want 9", cfg.MaxAttempts)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.ReclaimSchedule != "" {
		t.Errorf("reclaim schedule = %q, want disabled", cfg.ReclaimSchedule)
	}
	if cfg.BatchSize != conveyor.DefaultConfig().BatchSize {
		t.Errorf("batch size = %d, want default", cfg.BatchSize)
	}
}
