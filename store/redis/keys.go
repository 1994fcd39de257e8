package redis

import (
	"strconv"

	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// Key layout under the store prefix (default "conveyor:"):
//
//	item:{id}                       Hash of item fields
//	items                           Sorted Set of item IDs by created_at
//	idx:{step}:{status}             Sorted Set of item IDs by updated_at
//	steps                           Hash step id -> name
//	step_names                      Hash step name -> id

// DefaultPrefix is the key prefix used when WithPrefix is not set.
const DefaultPrefix = "conveyor:"

func (s *Store) itemKey(itemID string) string { return s.prefix + "item:" + itemID }

func (s *Store) itemsKey() string { return s.prefix + "items" }

func (s *Store) indexKey(stepID step.ID, status item.Status) string {
	return s.prefix + "idx:" + stepID.String() + ":" + strconv.Itoa(status.Code())
}

func (s *Store) stepsKey() string { return s.prefix + "steps" }

func (s *Store) stepNamesKey() string { return s.prefix + "step_names" }

// statuses lists every persisted status, for per-step counts.
var statuses = []item.Status{
	item.StatusError, item.StatusDraft, item.StatusReady,
	item.StatusProcessing, item.StatusCompleted,
}
