package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store"
)

// Compile-time interface checks.
var (
	_ item.Store  = (*Store)(nil)
	_ step.Store  = (*Store)(nil)
	_ store.Store = (*Store)(nil)
)

const (
	defaultRetries    = 5
	defaultScanRounds = 3
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix namespaces every key, so several pipelines can share one
// Redis database.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithClock overrides the time source used for lease timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetry sets the backoff and attempt budget for transactions aborted
// by a concurrent write.
func WithRetry(strategy backoff.Strategy, attempts int) Option {
	return func(s *Store) {
		s.retry = strategy
		s.retries = attempts
	}
}

// Store implements store.Store backed by Redis.
type Store struct {
	client  goredis.UniversalClient
	prefix  string
	logger  *slog.Logger
	now     func() time.Time
	retry   backoff.Strategy
	retries int
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  DefaultPrefix,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		retry:   backoff.ConflictStrategy(),
		retries: defaultRetries,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("conveyor/redis: ping: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// isTxFailed reports an EXEC aborted because a watched key changed.
func isTxFailed(err error) bool { return errors.Is(err, goredis.TxFailedErr) }

func isNil(err error) bool { return errors.Is(err, goredis.Nil) }
