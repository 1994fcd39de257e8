package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/store"
)

// migration is one schema change, rendered for the configured tables.
type migration struct {
	version string
	name    string
	up      func(items, steps string) string
}

// Migrations lists every schema change in order. Rendered statements use
// IF NOT EXISTS so re-running against an existing schema is harmless.
var migrations = []migration{
	{
		version: "001",
		name:    "create_items_table",
		up: func(items, _ string) string {
			return `
				CREATE TABLE IF NOT EXISTS ` + items + ` (
					id          TEXT PRIMARY KEY,
					lease_owner TEXT,
					status_id   INTEGER NOT NULL,
					step_id     INTEGER NOT NULL,
					attempt     INTEGER NOT NULL DEFAULT 0,
					error       TEXT,
					payload     BYTEA,
					created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT ` + items + `_lease_chk
						CHECK ((lease_owner IS NOT NULL) = (status_id = 3))
				);

				CREATE INDEX IF NOT EXISTS idx_` + items + `_claim
					ON ` + items + ` (step_id, updated_at)
					WHERE status_id = 2 AND lease_owner IS NULL;

				CREATE INDEX IF NOT EXISTS idx_` + items + `_reclaim
					ON ` + items + ` (step_id, status_id, updated_at)
					WHERE status_id IN (-1, 3);

				CREATE INDEX IF NOT EXISTS idx_` + items + `_created
					ON ` + items + ` (created_at);`
		},
	},
	{
		version: "002",
		name:    "create_steps_table",
		up: func(_, steps string) string {
			return `
				CREATE TABLE IF NOT EXISTS ` + steps + ` (
					id   INTEGER PRIMARY KEY,
					name TEXT NOT NULL UNIQUE
				);`
		},
	},
}

// Migrate applies pending migrations for the configured tables inside one
// transaction each.
func (s *Store) Migrate(ctx context.Context) error {
	// Create migrations tracking table.
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+store.DefaultMigrationTable+` (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: create migrations table: %w", err)
	}

	for _, m := range migrations {
		key := m.version + "_" + m.name + ":" + s.itemTable + ":" + s.stepTable

		// Check if already applied.
		var applied bool
		err = s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM `+store.DefaultMigrationTable+` WHERE name = $1)`, key,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("conveyor/postgres: check migration %s: %w", key, err)
		}
		if applied {
			continue
		}

		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.up(s.itemTable, s.stepTable)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO `+store.DefaultMigrationTable+` (name) VALUES ($1)`, key)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: postgres %s: %w", conveyor.ErrMigrationFailed, key, err)
		}

		s.logger.Info("applied migration", "name", key)
	}

	return nil
}
