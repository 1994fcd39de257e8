package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/grove/migrate"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/store"
)

// migrationGroup names the grove migration group for the configured
// tables. Each item/step table pair is tracked separately.
func (s *Store) migrationGroup() string {
	if s.itemTable == store.DefaultItemTable && s.stepTable == store.DefaultStepTable {
		return "conveyor"
	}
	return "conveyor_" + s.itemTable + "_" + s.stepTable
}

// migrations renders the schema for the configured tables.
func (s *Store) migrations() []*migrate.Migration {
	items, steps := s.itemTable, s.stepTable

	return []*migrate.Migration{
		// 001: Create items table and lease indexes.
		{
			Name:    "create_items_table",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
					CREATE TABLE IF NOT EXISTS `+items+` (
						id          TEXT PRIMARY KEY,
						lease_owner TEXT,
						status_id   INTEGER NOT NULL,
						step_id     INTEGER NOT NULL,
						attempt     INTEGER NOT NULL DEFAULT 0,
						error       TEXT,
						payload     BLOB,
						created_at  INTEGER NOT NULL,
						updated_at  INTEGER NOT NULL
					)`)
				if err != nil {
					return err
				}

				_, err = exec.Exec(ctx, `
					CREATE INDEX IF NOT EXISTS idx_`+items+`_claim
						ON `+items+` (step_id, status_id, updated_at)`)
				if err != nil {
					return err
				}

				_, err = exec.Exec(ctx, `
					CREATE INDEX IF NOT EXISTS idx_`+items+`_created
						ON `+items+` (created_at)`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS `+items)
				return err
			},
		},

		// 002: Create steps table.
		{
			Name:    "create_steps_table",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
					CREATE TABLE IF NOT EXISTS `+steps+` (
						id   INTEGER PRIMARY KEY,
						name TEXT NOT NULL UNIQUE
					)`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS `+steps)
				return err
			},
		},
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: create migration executor: %w", err)
	}

	group := migrate.NewGroup(s.migrationGroup())
	group.MustRegister(s.migrations()...)

	orch := migrate.NewOrchestrator(executor, group)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %w", conveyor.ErrMigrationFailed, err)
	}
	return nil
}
