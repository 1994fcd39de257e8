package step

import "strconv"

// ID identifies a pipeline step. It is the ordinal persisted in the
// step_id column of every work item.
type ID int

// String returns the decimal form of the ID.
func (i ID) String() string { return strconv.Itoa(int(i)) }

// Ptr returns a pointer to a copy of i, for use as an optional next step.
func (i ID) Ptr() *ID { return &i }

// Step is a named stage of a pipeline.
type Step struct {
	ID   ID     `json:"id"   bson:"_id"`
	Name string `json:"name" bson:"name"`
}
