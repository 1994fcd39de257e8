package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// ── Item model ────────────────────────────────────────────────────

type itemModel struct {
	ID         string    `bson:"_id"`
	LeaseOwner string    `bson:"lease_owner,omitempty"`
	StatusID   int       `bson:"status_id"`
	StepID     int       `bson:"step_id"`
	Attempt    int       `bson:"attempt"`
	Error      string    `bson:"error,omitempty"`
	Payload    []byte    `bson:"payload,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func toItemModel(it *item.Item) *itemModel {
	return &itemModel{
		ID:         it.ID.String(),
		LeaseOwner: it.LeaseOwner,
		StatusID:   it.Status.Code(),
		StepID:     int(it.StepID),
		Attempt:    it.Attempt,
		Error:      it.Error,
		Payload:    it.Payload,
		CreatedAt:  it.CreatedAt.Truncate(time.Millisecond),
		UpdatedAt:  it.UpdatedAt.Truncate(time.Millisecond),
	}
}

func fromItemModel(m *itemModel) (*item.Item, error) {
	itemID, err := id.ParseItemID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse item id %q: %w", m.ID, err)
	}
	status, err := item.StatusFromCode(m.StatusID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: item %s: %w", m.ID, err)
	}

	return &item.Item{
		Entity: conveyor.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:         itemID,
		LeaseOwner: m.LeaseOwner,
		Status:     status,
		StepID:     step.ID(m.StepID),
		Attempt:    m.Attempt,
		Error:      m.Error,
		Payload:    m.Payload,
	}, nil
}

func fromItemModels(models []itemModel) ([]*item.Item, error) {
	items := make([]*item.Item, 0, len(models))
	for i := range models {
		it, err := fromItemModel(&models[i])
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// ── Step model ────────────────────────────────────────────────────

type stepModel struct {
	ID   int    `bson:"_id"`
	Name string `bson:"name"`
}
