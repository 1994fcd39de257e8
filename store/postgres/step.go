package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/step"
)

// SaveStep inserts or renames a step.
func (s *Store) SaveStep(ctx context.Context, st step.Step) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.stepTable+` (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		int(st.ID), st.Name,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrStepAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: save step: %w", err)
	}
	return nil
}

// GetStep retrieves a step by ID.
func (s *Store) GetStep(ctx context.Context, stepID step.ID) (step.Step, error) {
	var (
		rawID int
		name  string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM `+s.stepTable+` WHERE id = $1`, int(stepID),
	).Scan(&rawID, &name)
	if err != nil {
		if isNoRows(err) {
			return step.Step{}, conveyor.ErrStepNotFound
		}
		return step.Step{}, fmt.Errorf("conveyor/postgres: get step: %w", err)
	}
	return step.Step{ID: step.ID(rawID), Name: name}, nil
}

// ListSteps returns all steps ordered by ID.
func (s *Store) ListSteps(ctx context.Context) ([]step.Step, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM `+s.stepTable+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list steps: %w", err)
	}

	steps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (step.Step, error) {
		var (
			rawID int
			name  string
		)
		err := row.Scan(&rawID, &name)
		return step.Step{ID: step.ID(rawID), Name: name}, err
	})
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list steps: %w", err)
	}
	return steps, nil
}
