// Package tables implements store.Store on Azure Table Storage (or the
// Azurite emulator).
//
// Items live in one partition of the item table, keyed by item ID. Leases
// and completions are optimistic: every write carries the ETag read with
// the entity, and a 412 Precondition Failed means another worker changed it
// first. Claim skips lost candidates and re-scans a bounded number of times;
// Complete and Requeue retry with jittered backoff before giving up with
// conveyor.ErrConcurrencyConflict.
//
// Azure table names are alphanumeric, so the defaults are "conveyoritems"
// and "conveyorsteps".
//
// Usage:
//
//	s, err := tables.NewFromConnectionString(conn)
//	if err != nil { ... }
//	if err := s.Migrate(ctx); err != nil { ... }
package tables
