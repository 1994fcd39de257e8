package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

func itemToMap(it *item.Item) map[string]any {
	return map[string]any{
		"id":          it.ID.String(),
		"lease_owner": it.LeaseOwner,
		"status_id":   strconv.Itoa(it.Status.Code()),
		"step_id":     strconv.Itoa(int(it.StepID)),
		"attempt":     strconv.Itoa(it.Attempt),
		"error":       it.Error,
		"payload":     string(it.Payload),
		"created_at":  strconv.FormatInt(it.CreatedAt.UnixNano(), 10),
		"updated_at":  strconv.FormatInt(it.UpdatedAt.UnixNano(), 10),
	}
}

func mapToItem(m map[string]string) (*item.Item, error) {
	itemID, err := id.ParseItemID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("parse item id %q: %w", m["id"], err)
	}

	code, _ := strconv.Atoi(m["status_id"])                  //nolint:errcheck // validated by StatusFromCode
	stepID, _ := strconv.Atoi(m["step_id"])                  //nolint:errcheck // best-effort parse from trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])                 //nolint:errcheck // best-effort parse from trusted Redis data
	created, _ := strconv.ParseInt(m["created_at"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	updated, _ := strconv.ParseInt(m["updated_at"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	status, err := item.StatusFromCode(code)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", m["id"], err)
	}

	var payload []byte
	if p := m["payload"]; p != "" {
		payload = []byte(p)
	}

	return &item.Item{
		Entity: conveyor.Entity{
			CreatedAt: time.Unix(0, created).UTC(),
			UpdatedAt: time.Unix(0, updated).UTC(),
		},
		ID:         itemID,
		LeaseOwner: m["lease_owner"],
		Status:     status,
		StepID:     step.ID(stepID),
		Attempt:    attempt,
		Error:      m["error"],
		Payload:    payload,
	}, nil
}

// score maps a timestamp to a Sorted Set score. Microseconds stay exact in
// a float64.
func score(t time.Time) float64 { return float64(t.UnixMicro()) }
