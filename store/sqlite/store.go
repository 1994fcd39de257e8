package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // register sqlite migration executor
	_ "modernc.org/sqlite"                                        // pure-Go database/sql driver named "sqlite"

	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ item.Store  = (*Store)(nil)
	_ step.Store  = (*Store)(nil)
	_ store.Store = (*Store)(nil)
)

// Store is a grove ORM implementation of store.Store using the SQLite
// dialect.
//
// SQLite has no row locks. Store runs one statement at a time, which is
// what makes UPDATE ... RETURNING a safe claim for every goroutine sharing
// the Store.
type Store struct {
	db        *grove.DB
	sdb       *sqlitedriver.SqliteDB
	ownsDB    bool
	mu        sync.Mutex
	itemTable string
	stepTable string
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithItemTable sets the table holding work items. Each work-item type
// lives in its own table.
func WithItemTable(name string) Option {
	return func(s *Store) {
		s.itemTable = name
	}
}

// WithStepTable sets the table holding step definitions.
func WithStepTable(name string) Option {
	return func(s *Store) {
		s.stepTable = name
	}
}

// WithClock overrides the time source used for lease timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New opens the SQLite database at dsn (a file path or a "file:" URI) and
// returns a Store that owns it.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	drv, err := grove.OpenDriver(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: open: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		drv.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("conveyor/sqlite: open: %w", err)
	}

	s, err := NewFromDB(db, opts...)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewFromDB wraps an existing grove database. The caller owns the
// *grove.DB lifecycle; Close leaves it open. Stores sharing one database
// serialise their own statements only, so keep writers on a single Store.
func NewFromDB(db *grove.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:        db,
		sdb:       sqlitedriver.Unwrap(db),
		itemTable: store.DefaultItemTable,
		stepTable: store.DefaultStepTable,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, name := range []string{s.itemTable, s.stepTable} {
		if err := store.ValidateTableName(name); err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: %w", err)
		}
	}
	return s, nil
}

// DB returns the underlying *grove.DB for advanced usage.
func (s *Store) DB() *grove.DB {
	return s.db
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database if the Store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// scan runs query under the store lock and scans every returned row into
// dest.
func (s *Store) scan(ctx context.Context, dest any, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdb.NewRaw(query, args...).Scan(ctx, dest)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
