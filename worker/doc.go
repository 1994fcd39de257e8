// Package worker runs a handler over the items of one pipeline step.
//
// A [Processor] polls Claim for its step, hands each leased item to the
// handler with bounded concurrency, and completes the batch: handler errors
// and panics fail the item, successes advance it to the catalog's next step.
// On a cron schedule it also reclaims items whose lease went stale or whose
// previous attempt failed.
//
//	p, err := worker.NewProcessor(q, stepParse, parseInvoice,
//	    worker.FromConfig(cfg),
//	    worker.WithLogger(logger),
//	)
//	if err := p.Start(ctx); err != nil { ... }
//	defer p.Stop(shutdownCtx)
package worker
