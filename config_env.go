package conveyor

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadConfig reads a JSON configuration file on top of DefaultConfig.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("conveyor: read config: %w", err)
	}

	var raw struct {
		Config
		PollInterval    string `json:"poll_interval"`
		StaleAfter      string `json:"stale_after"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	}
	raw.Config = cfg
	if err := json.Unmarshal(b, &raw); err != nil {
		return Config{}, fmt.Errorf("conveyor: parse config: %w", err)
	}
	cfg = raw.Config

	for _, d := range []struct {
		src string
		dst *time.Duration
	}{
		{raw.PollInterval, &cfg.PollInterval},
		{raw.StaleAfter, &cfg.StaleAfter},
		{raw.ShutdownTimeout, &cfg.ShutdownTimeout},
	} {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return Config{}, fmt.Errorf("conveyor: parse config duration %q: %w", d.src, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// ConfigFromEnv overlays CONVEYOR_* environment variables onto cfg.
// Unparseable values are ignored.
func ConfigFromEnv(cfg *Config) {
	if v := os.Getenv("CONVEYOR_STEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Step = n
		}
	}
	if v := os.Getenv("CONVEYOR_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("CONVEYOR_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("CONVEYOR_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("CONVEYOR_POLL_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PollRate = f
		}
	}
	if v := os.Getenv("CONVEYOR_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StaleAfter = d
		}
	}
	if v := os.Getenv("CONVEYOR_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAttempts = n
		}
	}
	if v, ok := os.LookupEnv("CONVEYOR_RECLAIM_SCHEDULE"); ok {
		cfg.ReclaimSchedule = v
	}
	if v := os.Getenv("CONVEYOR_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
}
