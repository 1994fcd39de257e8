package step

import "context"

// Store defines the persistence contract for the step catalog table.
type Store interface {
	// SaveStep inserts or renames a step.
	SaveStep(ctx context.Context, s Step) error

	// GetStep retrieves a step by ID. Returns conveyor.ErrStepNotFound
	// when the ID is absent.
	GetStep(ctx context.Context, stepID ID) (Step, error)

	// ListSteps returns all steps ordered by ID.
	ListSteps(ctx context.Context) ([]Step, error)
}
