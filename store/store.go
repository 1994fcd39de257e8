// Package store defines the aggregate persistence interface. The item and
// step packages each define their own store interface; the composite Store
// composes them. Backends: Postgres, Bun, SQLite, MongoDB, Azure Tables,
// Redis, and Memory.
package store

import (
	"context"

	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, bun, sqlite, etc.) implements all of it.
type Store interface {
	item.Store
	step.Store

	// Migrate creates the item and step tables, collections, or indexes.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
