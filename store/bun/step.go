package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/step"
)

// SaveStep inserts or renames a step.
func (s *Store) SaveStep(ctx context.Context, st step.Step) error {
	m := &stepModel{ID: int(st.ID), Name: st.Name}
	_, err := s.db.NewInsert().Model(m).
		ModelTableExpr("? AS step", bun.Ident(s.stepTable)).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrStepAlreadyExists
		}
		return fmt.Errorf("conveyor/bun: save step: %w", err)
	}
	return nil
}

// GetStep retrieves a step by ID.
func (s *Store) GetStep(ctx context.Context, stepID step.ID) (step.Step, error) {
	m := new(stepModel)
	err := s.db.NewSelect().Model(m).
		ModelTableExpr("? AS step", bun.Ident(s.stepTable)).
		Where("id = ?", int(stepID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return step.Step{}, conveyor.ErrStepNotFound
		}
		return step.Step{}, fmt.Errorf("conveyor/bun: get step: %w", err)
	}
	return step.Step{ID: step.ID(m.ID), Name: m.Name}, nil
}

// ListSteps returns all steps ordered by ID.
func (s *Store) ListSteps(ctx context.Context) ([]step.Step, error) {
	var models []stepModel
	err := s.db.NewSelect().Model(&models).
		ModelTableExpr("? AS step", bun.Ident(s.stepTable)).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: list steps: %w", err)
	}

	steps := make([]step.Step, len(models))
	for i, m := range models {
		steps[i] = step.Step{ID: step.ID(m.ID), Name: m.Name}
	}
	return steps, nil
}
