package conveyor

import "time"

// Config holds configuration for a worker processing one pipeline step.
type Config struct {
	// Step is the ID of the pipeline step this worker claims items from.
	Step int `json:"step"`

	// BatchSize is the maximum number of items claimed per poll.
	BatchSize int `json:"batch_size"`

	// Concurrency is the maximum number of items of a batch processed at once.
	Concurrency int `json:"concurrency"`

	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration `json:"poll_interval"`

	// PollRate caps the number of claim polls per second. Zero disables
	// the limit.
	PollRate float64 `json:"poll_rate"`

	// StaleAfter is how long a Processing item may go without an update
	// before its lease is presumed abandoned and the item may be reclaimed.
	StaleAfter time.Duration `json:"stale_after"`

	// MaxAttempts bounds the number of claims an item may receive. Items
	// that reach it stay in Error and are never reclaimed.
	MaxAttempts int `json:"max_attempts"`

	// ReclaimSchedule is a cron spec (robfig/cron syntax, including
	// "@every 30s") controlling how often abandoned and failed items are
	// reclaimed. Empty disables reclaiming.
	ReclaimSchedule string `json:"reclaim_schedule"`

	// ShutdownTimeout is the maximum time to wait for in-flight items on stop.
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Step:            1,
		BatchSize:       10,
		Concurrency:     4,
		PollInterval:    1 * time.Second,
		StaleAfter:      5 * time.Minute,
		MaxAttempts:     5,
		ReclaimSchedule: "@every 30s",
		ShutdownTimeout: 30 * time.Second,
	}
}
