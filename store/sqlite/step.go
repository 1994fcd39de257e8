package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/step"
)

// SaveStep inserts or renames a step.
func (s *Store) SaveStep(ctx context.Context, st step.Step) error {
	var saved []stepModel
	err := s.scan(ctx, &saved, `
		INSERT INTO `+s.stepTable+` (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
		RETURNING id, name`,
		int(st.ID), st.Name,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrStepAlreadyExists
		}
		return fmt.Errorf("conveyor/sqlite: save step: %w", err)
	}
	return nil
}

// GetStep retrieves a step by ID.
func (s *Store) GetStep(ctx context.Context, stepID step.ID) (step.Step, error) {
	var models []stepModel
	err := s.scan(ctx, &models,
		`SELECT id, name FROM `+s.stepTable+` WHERE id = ? LIMIT 1`, int(stepID))
	if err != nil {
		return step.Step{}, fmt.Errorf("conveyor/sqlite: get step: %w", err)
	}
	if len(models) == 0 {
		return step.Step{}, conveyor.ErrStepNotFound
	}
	return step.Step{ID: step.ID(models[0].ID), Name: models[0].Name}, nil
}

// ListSteps returns all steps ordered by ID.
func (s *Store) ListSteps(ctx context.Context) ([]step.Step, error) {
	var models []stepModel
	if err := s.scan(ctx, &models, `SELECT id, name FROM `+s.stepTable+` ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list steps: %w", err)
	}

	steps := make([]step.Step, 0, len(models))
	for _, m := range models {
		steps = append(steps, step.Step{ID: step.ID(m.ID), Name: m.Name})
	}
	return steps, nil
}
