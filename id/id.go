// Package id provides the identifiers conveyor stamps on work items and
// lease owners.
//
// An ID is a TypeID: a short prefix naming what it identifies, then a
// UUIDv7 suffix. The text form ("wi_01h2xcejqtf2nbrexx3vqjhp41") is what
// every store persists, and because the suffix is time ordered, sorting
// IDs as text sorts them by creation.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"go.jetify.com/typeid"
)

// Prefix names the kind of entity an ID belongs to.
type Prefix string

const (
	// PrefixItem marks work items.
	PrefixItem Prefix = "wi"
	// PrefixWorker marks lease owners generated for worker processes.
	PrefixWorker Prefix = "wkr"
)

// ID identifies a work item or worker. The zero value is Nil and encodes
// as SQL NULL or empty text.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.AnyID
	valid bool
}

// ItemID identifies a work item.
type ItemID = ID

// WorkerID identifies a worker process acting as lease owner.
type WorkerID = ID

// Nil is the zero-value ID.
var Nil ID

// New returns a fresh ID under prefix. An invalid prefix is a programming
// error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.WithPrefix(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// NewItemID returns a fresh work item ID.
func NewItemID() ItemID { return New(PrefixItem) }

// NewWorkerID returns a fresh worker ID.
func NewWorkerID() WorkerID { return New(PrefixWorker) }

// Parse decodes any TypeID string.
func Parse(s string) (ID, error) {
	return parse(s, "")
}

// ParseWithPrefix decodes s and requires its prefix to be want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	return parse(s, want)
}

// ParseItemID decodes a work item ID.
func ParseItemID(s string) (ItemID, error) { return parse(s, PrefixItem) }

// ParseWorkerID decodes a worker ID.
func ParseWorkerID(s string) (WorkerID, error) { return parse(s, PrefixWorker) }

func parse(s string, want Prefix) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	if want != "" && !strings.HasPrefix(s, string(want)+"_") {
		got, _, _ := strings.Cut(s, "_")
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", want, got)
	}

	tid, err := typeid.FromString(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// String returns the "prefix_suffix" form, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the entity prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// Compare orders IDs by their text form, which for IDs sharing a prefix
// is creation order. Nil sorts first.
func (i ID) Compare(other ID) int {
	return strings.Compare(i.String(), other.String())
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields
// Nil.
func (i *ID) UnmarshalText(data []byte) error {
	return i.set(string(data))
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.String(), nil
}

// Scan implements sql.Scanner for TEXT, BLOB and NULL columns.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return i.set("")
	case string:
		return i.set(v)
	case []byte:
		return i.set(string(v))
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}

func (i *ID) set(s string) error {
	if s == "" {
		*i = Nil
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
