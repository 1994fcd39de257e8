package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/step"
)

// SaveStep inserts or renames a step. The name index is updated in the same
// transaction, so a name belongs to at most one step.
func (s *Store) SaveStep(ctx context.Context, st step.Step) error {
	stepID := st.ID.String()
	steps, names := s.stepsKey(), s.stepNamesKey()

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		owner, err := tx.HGet(ctx, names, st.Name).Result()
		if err != nil && !isNil(err) {
			return err
		}
		if err == nil && owner != stepID {
			return conveyor.ErrStepAlreadyExists
		}

		oldName, err := tx.HGet(ctx, steps, stepID).Result()
		if err != nil && !isNil(err) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if oldName != "" && oldName != st.Name {
				pipe.HDel(ctx, names, oldName)
			}
			pipe.HSet(ctx, steps, stepID, st.Name)
			pipe.HSet(ctx, names, st.Name, stepID)
			return nil
		})
		return err
	}, steps, names)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, conveyor.ErrStepAlreadyExists):
		return err
	case isTxFailed(err):
		return fmt.Errorf("conveyor/redis: save step: %w", conveyor.ErrConcurrencyConflict)
	default:
		return fmt.Errorf("conveyor/redis: save step: %w", err)
	}
}

// GetStep retrieves a step by ID.
func (s *Store) GetStep(ctx context.Context, stepID step.ID) (step.Step, error) {
	name, err := s.client.HGet(ctx, s.stepsKey(), stepID.String()).Result()
	if err != nil {
		if isNil(err) {
			return step.Step{}, conveyor.ErrStepNotFound
		}
		return step.Step{}, fmt.Errorf("conveyor/redis: get step: %w", err)
	}
	return step.Step{ID: stepID, Name: name}, nil
}

// ListSteps returns all steps ordered by ID.
func (s *Store) ListSteps(ctx context.Context) ([]step.Step, error) {
	vals, err := s.client.HGetAll(ctx, s.stepsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list steps: %w", err)
	}

	steps := make([]step.Step, 0, len(vals))
	for rawID, name := range vals {
		n, err := strconv.Atoi(rawID)
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: parse step id %q: %w", rawID, err)
		}
		steps = append(steps, step.Step{ID: step.ID(n), Name: name})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
	return steps, nil
}
