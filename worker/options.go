package worker

import (
	"log/slog"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/middleware"
)

// Option configures a Processor.
type Option func(*settings)

type settings struct {
	owner           string
	batchSize       int
	concurrency     int
	pollInterval    time.Duration
	pollRate        float64
	staleAfter      time.Duration
	maxAttempts     int
	reclaimSchedule string
	backoff         backoff.Strategy
	middleware      []middleware.Middleware
	logger          *slog.Logger
	now             func() time.Time
}

func defaultSettings() settings {
	cfg := conveyor.DefaultConfig()
	return settings{
		batchSize:       cfg.BatchSize,
		concurrency:     cfg.Concurrency,
		pollInterval:    cfg.PollInterval,
		staleAfter:      cfg.StaleAfter,
		maxAttempts:     cfg.MaxAttempts,
		reclaimSchedule: cfg.ReclaimSchedule,
		backoff:         backoff.DefaultStrategy(),
		logger:          slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// FromConfig applies the polling, leasing and reclaim settings of cfg.
// Config.Step is not applied; the step is a NewProcessor argument.
func FromConfig(cfg conveyor.Config) Option {
	return func(s *settings) {
		s.batchSize = cfg.BatchSize
		s.concurrency = cfg.Concurrency
		s.pollInterval = cfg.PollInterval
		s.pollRate = cfg.PollRate
		s.staleAfter = cfg.StaleAfter
		s.maxAttempts = cfg.MaxAttempts
		s.reclaimSchedule = cfg.ReclaimSchedule
	}
}

// WithOwner sets the lease owner. Defaults to a fresh worker TypeID.
func WithOwner(owner string) Option {
	return func(s *settings) { s.owner = owner }
}

// WithBatchSize sets the maximum number of items claimed per poll.
func WithBatchSize(n int) Option {
	return func(s *settings) { s.batchSize = n }
}

// WithConcurrency sets how many items of a batch are handled at once.
func WithConcurrency(n int) Option {
	return func(s *settings) { s.concurrency = n }
}

// WithPollInterval sets how long an idle processor waits between polls.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) { s.pollInterval = d }
}

// WithPollRate caps claim polls per second. Zero disables the cap.
func WithPollRate(perSecond float64) Option {
	return func(s *settings) { s.pollRate = perSecond }
}

// WithStaleAfter sets how old a Processing lease must be to be reclaimed.
func WithStaleAfter(d time.Duration) Option {
	return func(s *settings) { s.staleAfter = d }
}

// WithMaxAttempts sets the attempt budget checked by reclaim.
func WithMaxAttempts(n int) Option {
	return func(s *settings) { s.maxAttempts = n }
}

// WithReclaimSchedule sets the cron spec for reclaim runs. Empty disables
// reclaiming.
func WithReclaimSchedule(spec string) Option {
	return func(s *settings) { s.reclaimSchedule = spec }
}

// WithBackoff sets the delay strategy after failed polls.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *settings) { s.backoff = b }
}

// WithMiddleware appends middleware run around every handler call.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *settings) { s.middleware = append(s.middleware, mws...) }
}

// WithLogger sets the logger for the processor.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithClock overrides the time source used to compute stale thresholds.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}
