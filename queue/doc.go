// Package queue layers a typed API over an item.Store and a step.Catalog.
//
// A [Queue] encodes values of T into item payloads with a [Codec], checks
// step IDs against the catalog, and computes the next step on completion,
// so callers never pass the next step by hand:
//
//	q := queue.New(s, catalog, queue.JSONCodec[Invoice]{})
//	id, err := q.Enqueue(ctx, invoice)
//	leased, err := q.Claim(ctx, owner, stepParse, 10)
//	// ... process ...
//	n, err := q.Complete(ctx, owner, stepParse, completions)
//
// Each blocking operation has a Try variant returning a [Result] instead of
// an error, for orchestration code that collects outcomes rather than
// returning early.
package queue
