package tables

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

const (
	itemPartition = "item"
	stepPartition = "step"

	edmInt64  = "Edm.Int64"
	edmBinary = "Edm.Binary"
)

// itemEntity is the JSON wire form of an item. Timestamps are Edm.Int64
// unix nanoseconds so that filters can compare them.
type itemEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	ETag         string `json:"odata.etag,omitempty"`

	LeaseOwner string `json:"LeaseOwner"`
	StatusID   int32  `json:"StatusID"`
	StepID     int32  `json:"StepID"`
	Attempt    int32  `json:"Attempt"`
	Error      string `json:"Error"`

	PayloadType string `json:"Payload@odata.type,omitempty"`
	Payload     []byte `json:"Payload,omitempty"`

	CreatedAtType string `json:"CreatedAt@odata.type"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
}

func toItemEntity(it *item.Item) *itemEntity {
	e := &itemEntity{
		PartitionKey:  itemPartition,
		RowKey:        it.ID.String(),
		LeaseOwner:    it.LeaseOwner,
		StatusID:      int32(it.Status.Code()),
		StepID:        int32(it.StepID),
		Attempt:       int32(it.Attempt),
		Error:         it.Error,
		CreatedAtType: edmInt64,
		CreatedAt:     it.CreatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
		UpdatedAt:     it.UpdatedAt.UnixNano(),
	}
	if len(it.Payload) > 0 {
		e.PayloadType = edmBinary
		e.Payload = it.Payload
	}
	return e
}

func (e *itemEntity) toItem() (*item.Item, error) {
	itemID, err := id.ParseItemID(e.RowKey)
	if err != nil {
		return nil, fmt.Errorf("parse item id %q: %w", e.RowKey, err)
	}
	status, err := item.StatusFromCode(int(e.StatusID))
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", e.RowKey, err)
	}
	return &item.Item{
		Entity: conveyor.Entity{
			CreatedAt: time.Unix(0, e.CreatedAt).UTC(),
			UpdatedAt: time.Unix(0, e.UpdatedAt).UTC(),
		},
		ID:         itemID,
		LeaseOwner: e.LeaseOwner,
		Status:     status,
		StepID:     step.ID(e.StepID),
		Attempt:    int(e.Attempt),
		Error:      e.Error,
		Payload:    e.Payload,
	}, nil
}

// marshal encodes e for a write; the ETag travels in the request header.
func (e *itemEntity) marshal() ([]byte, error) {
	cp := *e
	cp.ETag = ""
	return json.Marshal(&cp)
}

func (e *itemEntity) etag() azcore.ETag { return azcore.ETag(e.ETag) }

// ── Step entity ───────────────────────────────────────────────────

type stepEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	StepID       int32  `json:"StepID"`
	Name         string `json:"Name"`
}

// stepRowKey zero-pads the ID so row order matches numeric order.
func stepRowKey(stepID step.ID) string {
	return fmt.Sprintf("%010d", int(stepID))
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
