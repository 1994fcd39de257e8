package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// ── Item model ────────────────────────────────────────────────────

// itemModel maps the item table. The table name is set per query with
// ModelTableExpr, since each work-item type has its own table.
type itemModel struct {
	bun.BaseModel `bun:"table:conveyor_items,alias:item"`

	ID         string    `bun:"id,pk"`
	LeaseOwner string    `bun:"lease_owner,nullzero"`
	StatusID   int       `bun:"status_id,notnull"`
	StepID     int       `bun:"step_id,notnull"`
	Attempt    int       `bun:"attempt,notnull"`
	Error      string    `bun:"error,nullzero"`
	Payload    []byte    `bun:"payload,type:bytea"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
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
		CreatedAt:  it.CreatedAt,
		UpdatedAt:  it.UpdatedAt,
	}
}

func fromItemModel(m *itemModel) (*item.Item, error) {
	itemID, err := id.ParseItemID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse item id %q: %w", m.ID, err)
	}
	status, err := item.StatusFromCode(m.StatusID)
	if err != nil {
		return nil, err
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
	bun.BaseModel `bun:"table:conveyor_steps,alias:step"`

	ID   int    `bun:"id,pk"`
	Name string `bun:"name,notnull,unique"`
}
