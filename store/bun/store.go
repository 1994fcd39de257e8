package bunstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conveyor"
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

// Store is a Bun ORM implementation of store.Store using PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db        *bun.DB
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

// WithItemTable sets the table holding work items.
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

// New creates a new Bun store. The caller owns the db lifecycle; the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:        db,
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
			return nil, fmt.Errorf("conveyor/bun: %w", err)
		}
	}
	return s, nil
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate creates the item and step tables and their indexes. Each
// migration runs in its own transaction and is recorded per table pair.
func (s *Store) Migrate(ctx context.Context) error {
	// Create migrations tracking table.
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+store.DefaultMigrationTable+` (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("conveyor/bun: create migrations table: %w", err)
	}

	items, steps := bun.Ident(s.itemTable), bun.Ident(s.stepTable)
	for _, m := range []struct {
		name  string
		query string
		args  []any
	}{
		{
			name: "001_create_items_table",
			query: `
				CREATE TABLE IF NOT EXISTS ? (
					id          TEXT PRIMARY KEY,
					lease_owner TEXT,
					status_id   INTEGER NOT NULL,
					step_id     INTEGER NOT NULL,
					attempt     INTEGER NOT NULL DEFAULT 0,
					error       TEXT,
					payload     BYTEA,
					created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS ? ON ? (step_id, status_id, updated_at);
				CREATE INDEX IF NOT EXISTS ? ON ? (created_at);`,
			args: []any{
				items,
				bun.Ident("idx_" + s.itemTable + "_claim"), items,
				bun.Ident("idx_" + s.itemTable + "_created"), items,
			},
		},
		{
			name: "002_create_steps_table",
			query: `
				CREATE TABLE IF NOT EXISTS ? (
					id   INTEGER PRIMARY KEY,
					name TEXT NOT NULL UNIQUE
				);`,
			args: []any{steps},
		},
	} {
		key := m.name + ":" + s.itemTable + ":" + s.stepTable

		// Check if already applied.
		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM `+store.DefaultMigrationTable+` WHERE name = ?)`, key,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("conveyor/bun: check migration %s: %w", key, err)
		}
		if applied {
			continue
		}

		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.ExecContext(ctx, m.query, m.args...); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO `+store.DefaultMigrationTable+` (name) VALUES (?)`, key)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: bun %s: %w", conveyor.ErrMigrationFailed, key, err)
		}

		s.logger.Info("applied migration", "name", key)
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
