package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/step"
)

// SaveStep inserts or renames a step.
func (s *Store) SaveStep(ctx context.Context, st step.Step) error {
	m := stepModel{ID: int(st.ID), Name: st.Name}
	_, err := s.steps.ReplaceOne(ctx, bson.M{"_id": m.ID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrStepAlreadyExists
		}
		return fmt.Errorf("conveyor/mongo: save step: %w", err)
	}
	return nil
}

// GetStep retrieves a step by ID.
func (s *Store) GetStep(ctx context.Context, stepID step.ID) (step.Step, error) {
	var m stepModel
	err := s.steps.FindOne(ctx, bson.M{"_id": int(stepID)}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return step.Step{}, conveyor.ErrStepNotFound
		}
		return step.Step{}, fmt.Errorf("conveyor/mongo: get step: %w", err)
	}
	return step.Step{ID: step.ID(m.ID), Name: m.Name}, nil
}

// ListSteps returns all steps ordered by ID.
func (s *Store) ListSteps(ctx context.Context) ([]step.Step, error) {
	cursor, err := s.steps.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list steps: %w", err)
	}
	defer cursor.Close(ctx) //nolint:errcheck // best-effort cleanup

	var models []stepModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: decode steps: %w", err)
	}

	steps := make([]step.Step, len(models))
	for i, m := range models {
		steps[i] = step.Step{ID: step.ID(m.ID), Name: m.Name}
	}
	return steps, nil
}
