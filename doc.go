// Package conveyor provides a lease-based work-item pipeline for Go. Many
// independent worker processes claim, lease, retry, and advance work items
// through an ordered list of steps, with the items stored durably in
// PostgreSQL, SQLite, MongoDB, Azure Table Storage, or Redis.
//
// Conveyor is a library, not a broker. Workers poll the store; the store's
// own locking primitive guarantees that no two workers hold the same item.
//
// # Quick Start
//
//	s, err := postgres.NewFromPool(pool, postgres.WithItemTable("invoices"))
//	items, err := s.ClaimItems(ctx, owner, stepParse, 10)
//	// ... process ...
//	_, err = s.CompleteItems(ctx, owner, stepParse, &stepPersist, completions)
//
// Most programs use the typed layers instead: a queue.Queue[T] encodes
// payloads and advances items along a step.Catalog, and a
// worker.Processor polls it with bounded concurrency.
//
//	q := queue.New(s, pipeline, queue.JSONCodec[Invoice]{})
//	p, err := worker.NewProcessor(q, stepParse, parseInvoice, worker.FromConfig(cfg))
//	err = p.Start(ctx)
//
// # Architecture
//
// Each subsystem (item, step) defines its own store interface and a single
// backend implements all of them. The lease rules live in package item and
// every backend expresses them with its native atomicity technique:
// SKIP LOCKED row locks, session transactions, or optimistic concurrency
// tokens.
//
// Item IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based identifiers.
package conveyor
