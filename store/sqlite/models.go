package sqlite

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// ── Item model ────────────────────────────────────────────────────

// itemColumns is the select list matching itemModel.
const itemColumns = `id, lease_owner, status_id, step_id, attempt, error, payload, created_at, updated_at`

// itemModel mirrors one row of an item table. The table tag names the
// default table; queries render the configured one. Timestamps are Unix
// nanoseconds so ordering and staleness comparisons stay numeric.
type itemModel struct {
	grove.BaseModel `grove:"table:conveyor_items"`

	ID         string `grove:"id,pk"`
	LeaseOwner string `grove:"lease_owner"`
	StatusID   int    `grove:"status_id,notnull"`
	StepID     int    `grove:"step_id,notnull"`
	Attempt    int    `grove:"attempt,notnull,default:0"`
	Error      string `grove:"error"`
	Payload    []byte `grove:"payload"`
	CreatedAt  int64  `grove:"created_at,notnull"`
	UpdatedAt  int64  `grove:"updated_at,notnull"`
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
		CreatedAt:  it.CreatedAt.UnixNano(),
		UpdatedAt:  it.UpdatedAt.UnixNano(),
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
			CreatedAt: time.Unix(0, m.CreatedAt).UTC(),
			UpdatedAt: time.Unix(0, m.UpdatedAt).UTC(),
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
	grove.BaseModel `grove:"table:conveyor_steps"`

	ID   int    `grove:"id,pk"`
	Name string `grove:"name,notnull,unique"`
}

// ── Scalars ───────────────────────────────────────────────────────

// idModel receives the ids a write statement returns.
type idModel struct {
	ID string `grove:"id"`
}

type countModel struct {
	Count int64 `grove:"count"`
}

// nullable binds empty strings as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
