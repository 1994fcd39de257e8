// Package dlq is the dead letter view over poison items: items in Error
// that used every attempt and that Reclaim will never pick up again.
//
// Poison items stay in the item store; the dead letter queue is the query
// Status = Error AND Attempt >= maxAttempts at a step. [Service] lists them
// and lets an operator replay or purge them.
//
//	svc := dlq.NewService(store, cfg.MaxAttempts)
//
//	entries, _ := svc.List(ctx, stepShip, 50)
//	svc.Replay(ctx, entries[0].ID) // back to Ready, Attempt preserved
//	svc.Purge(ctx, stepShip)       // delete every poison item at the step
//
// # Replay
//
// Replay moves an item back to Ready without resetting Attempt, so a
// replayed item that fails again returns to the dead letter queue at once
// instead of being retried by Reclaim.
package dlq
