package tables

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/step"
)

// SaveStep inserts or renames a step. Name uniqueness is checked before the
// upsert, so two processes racing to save the same name under different IDs
// can both succeed.
func (s *Store) SaveStep(ctx context.Context, st step.Step) error {
	clash, err := s.listSteps(ctx, "PartitionKey eq "+quote(stepPartition)+" and Name eq "+quote(st.Name))
	if err != nil {
		return fmt.Errorf("conveyor/tables: save step: %w", err)
	}
	for _, other := range clash {
		if other.ID != st.ID {
			return conveyor.ErrStepAlreadyExists
		}
	}

	body, err := json.Marshal(&stepEntity{
		PartitionKey: stepPartition,
		RowKey:       stepRowKey(st.ID),
		StepID:       int32(st.ID),
		Name:         st.Name,
	})
	if err != nil {
		return fmt.Errorf("conveyor/tables: save step: %w", err)
	}
	_, err = s.steps.UpsertEntity(ctx, body, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		return fmt.Errorf("conveyor/tables: save step: %w", err)
	}
	return nil
}

// GetStep retrieves a step by ID.
func (s *Store) GetStep(ctx context.Context, stepID step.ID) (step.Step, error) {
	resp, err := s.steps.GetEntity(ctx, stepPartition, stepRowKey(stepID), nil)
	if err != nil {
		if isNotFound(err) {
			return step.Step{}, conveyor.ErrStepNotFound
		}
		return step.Step{}, fmt.Errorf("conveyor/tables: get step: %w", err)
	}

	var e stepEntity
	if err := json.Unmarshal(resp.Value, &e); err != nil {
		return step.Step{}, fmt.Errorf("conveyor/tables: decode step: %w", err)
	}
	return step.Step{ID: step.ID(e.StepID), Name: e.Name}, nil
}

// ListSteps returns all steps ordered by ID.
func (s *Store) ListSteps(ctx context.Context) ([]step.Step, error) {
	steps, err := s.listSteps(ctx, "PartitionKey eq "+quote(stepPartition))
	if err != nil {
		return nil, fmt.Errorf("conveyor/tables: list steps: %w", err)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
	return steps, nil
}

func (s *Store) listSteps(ctx context.Context, odata string) ([]step.Step, error) {
	pager := s.steps.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &odata})

	steps := []step.Step{}
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Entities {
			var e stepEntity
			if err := json.Unmarshal(raw, &e); err != nil {
				return nil, fmt.Errorf("decode step: %w", err)
			}
			steps = append(steps, step.Step{ID: step.ID(e.StepID), Name: e.Name})
		}
	}
	return steps, nil
}
