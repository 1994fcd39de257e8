// Package redis implements store.Store on Redis.
//
// Every item is a Hash. Sorted Sets index items by step and status, scored
// by UpdatedAt in microseconds, so the oldest Ready items of a step are a
// range read. A second Sorted Set orders all items by creation time for
// listing. Steps live in two Hashes (id to name, name to id).
//
// Leases, completions and requeues are optimistic transactions: WATCH the
// item Hash, re-check the item, then MULTI/EXEC the Hash and index updates.
// An aborted EXEC means another worker changed the item first. Claim skips
// such candidates and re-scans; Complete retries with backoff and finally
// fails with conveyor.ErrConcurrencyConflict.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
