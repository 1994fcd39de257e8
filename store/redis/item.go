package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// CreateItem stores the item Hash and adds it to the indexes.
func (s *Store) CreateItem(ctx context.Context, it *item.Item) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("conveyor/redis: create item: %w", err)
	}
	cp := it.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.Touch(s.now())
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}

	itemID := cp.ID.String()
	key := s.itemKey(itemID)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return conveyor.ErrItemAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, itemToMap(cp))
			pipe.ZAdd(ctx, s.itemsKey(), goredis.Z{Score: score(cp.CreatedAt), Member: itemID})
			pipe.ZAdd(ctx, s.indexKey(cp.StepID, cp.Status), goredis.Z{Score: score(cp.UpdatedAt), Member: itemID})
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, conveyor.ErrItemAlreadyExists), isTxFailed(err):
		return conveyor.ErrItemAlreadyExists
	default:
		return fmt.Errorf("conveyor/redis: create item: %w", err)
	}
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	vals, err := s.client.HGetAll(ctx, s.itemKey(itemID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get item: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrItemNotFound
	}
	it, err := mapToItem(vals)
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get item: %w", err)
	}
	return it, nil
}

// DeleteItem removes the item Hash and its index entries.
func (s *Store) DeleteItem(ctx context.Context, itemID id.ItemID) error {
	raw := itemID.String()
	key := s.itemKey(raw)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return conveyor.ErrItemNotFound
		}
		it, err := mapToItem(vals)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.itemsKey(), raw)
			pipe.ZRem(ctx, s.indexKey(it.StepID, it.Status), raw)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, conveyor.ErrItemNotFound):
		return err
	case isTxFailed(err):
		return fmt.Errorf("conveyor/redis: delete item: %w", conveyor.ErrConcurrencyConflict)
	default:
		return fmt.Errorf("conveyor/redis: delete item: %w", err)
	}
}

// ── queries ──────────────────────────────────────────────────────

// indexKeys returns the Sorted Sets covering a step/status filter, or nil
// when only the creation index covers it.
func (s *Store) indexKeys(stepID *step.ID, status item.Status) []string {
	switch {
	case stepID != nil && status != 0:
		return []string{s.indexKey(*stepID, status)}
	case stepID != nil:
		keys := make([]string, 0, len(statuses))
		for _, st := range statuses {
			keys = append(keys, s.indexKey(*stepID, st))
		}
		return keys
	default:
		return nil
	}
}

func (s *Store) candidateIDs(ctx context.Context, stepID *step.ID, status item.Status) ([]string, error) {
	keys := s.indexKeys(stepID, status)
	if keys == nil {
		return s.client.ZRange(ctx, s.itemsKey(), 0, -1).Result()
	}

	cmds := make([]*goredis.StringSliceCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.ZRange(ctx, k, 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, cmd := range cmds {
		ids = append(ids, cmd.Val()...)
	}
	return ids, nil
}

// loadItems fetches item Hashes in one pipeline. IDs whose Hash vanished
// are dropped.
func (s *Store) loadItems(ctx context.Context, ids []string) ([]*item.Item, error) {
	if len(ids) == 0 {
		return []*item.Item{}, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, raw := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.itemKey(raw))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	items := make([]*item.Item, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		it, err := mapToItem(vals)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// ListItems returns items matching opts ordered by creation time.
func (s *Store) ListItems(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	ids, err := s.candidateIDs(ctx, opts.Step, opts.Status)
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list items: %w", err)
	}
	loaded, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list items: %w", err)
	}

	items := loaded[:0]
	for _, it := range loaded {
		if opts.Matches(it) {
			items = append(items, it)
		}
	}
	item.SortByCreated(items)
	return opts.Page(items), nil
}

// CountItems returns the number of items matching opts. Counts by step are
// index cardinalities; a status-only count loads every item.
func (s *Store) CountItems(ctx context.Context, opts item.CountOpts) (int64, error) {
	if opts.Step == nil && opts.Status == 0 {
		n, err := s.client.ZCard(ctx, s.itemsKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("conveyor/redis: count items: %w", err)
		}
		return n, nil
	}

	if keys := s.indexKeys(opts.Step, opts.Status); keys != nil {
		cmds := make([]*goredis.IntCmd, len(keys))
		_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			for i, k := range keys {
				cmds[i] = pipe.ZCard(ctx, k)
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("conveyor/redis: count items: %w", err)
		}
		var n int64
		for _, cmd := range cmds {
			n += cmd.Val()
		}
		return n, nil
	}

	ids, err := s.candidateIDs(ctx, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: count items: %w", err)
	}
	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: count items: %w", err)
	}
	var n int64
	for _, it := range items {
		if opts.Matches(it) {
			n++
		}
	}
	return n, nil
}

// ── leasing ──────────────────────────────────────────────────────

// mutate loads itemID under WATCH, lets change edit it and, when change
// reports true, rewrites the Hash and moves the index entry in one
// MULTI/EXEC. found is false when the item does not exist.
func (s *Store) mutate(
	ctx context.Context, itemID string, change func(*item.Item) (bool, error),
) (it *item.Item, found bool, err error) {
	key := s.itemKey(itemID)
	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		it, found = nil, false

		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return nil
		}
		found = true

		cur, err := mapToItem(vals)
		if err != nil {
			return err
		}
		oldStep, oldStatus := cur.StepID, cur.Status
		ok, err := change(cur)
		if err != nil || !ok {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, itemToMap(cur))
			pipe.ZRem(ctx, s.indexKey(oldStep, oldStatus), itemID)
			pipe.ZAdd(ctx, s.indexKey(cur.StepID, cur.Status), goredis.Z{
				Score:  score(cur.UpdatedAt),
				Member: itemID,
			})
			return nil
		})
		if err != nil {
			return err
		}
		it = cur
		return nil
	}, key)
	return it, found, err
}

// ClaimItems leases up to limit Ready items at stepID to owner.
func (s *Store) ClaimItems(ctx context.Context, owner string, stepID step.ID, limit int) ([]*item.Item, error) {
	if err := item.ValidateClaim(owner, limit); err != nil {
		return nil, err
	}
	ready := s.indexKey(stepID, item.StatusReady)
	return s.lease(ctx, "claim", owner, limit,
		func(ctx context.Context, want int) ([]string, error) {
			return s.client.ZRange(ctx, ready, 0, int64(want)-1).Result()
		},
		func(it *item.Item) bool { return item.Claimable(it, stepID) },
	)
}

// ReclaimItems leases up to limit failed or abandoned items.
func (s *Store) ReclaimItems(
	ctx context.Context, owner string, stepID step.ID, limit int,
	staleBefore time.Time, maxAttempts int,
) ([]*item.Item, error) {
	if err := item.ValidateReclaim(owner, limit, maxAttempts); err != nil {
		return nil, err
	}
	return s.lease(ctx, "reclaim", owner, limit,
		func(ctx context.Context, _ int) ([]string, error) {
			return s.reclaimCandidates(ctx, stepID, staleBefore, maxAttempts)
		},
		func(it *item.Item) bool { return item.Reclaimable(it, stepID, staleBefore, maxAttempts) },
	)
}

// reclaimCandidates merges the Error index with the stale part of the
// Processing index, oldest first, dropping items with no attempts left.
func (s *Store) reclaimCandidates(
	ctx context.Context, stepID step.ID, staleBefore time.Time, maxAttempts int,
) ([]string, error) {
	var failed, stale *goredis.ZSliceCmd
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		failed = pipe.ZRangeWithScores(ctx, s.indexKey(stepID, item.StatusError), 0, -1)
		stale = pipe.ZRangeByScoreWithScores(ctx, s.indexKey(stepID, item.StatusProcessing), &goredis.ZRangeBy{
			Min: "-inf",
			Max: "(" + strconv.FormatFloat(score(staleBefore), 'f', -1, 64),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	zs := append(failed.Val(), stale.Val()...)
	sort.SliceStable(zs, func(i, j int) bool { return zs[i].Score < zs[j].Score })
	if len(zs) == 0 {
		return nil, nil
	}

	attempts := make([]*goredis.StringCmd, len(zs))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, z := range zs {
			attempts[i] = pipe.HGet(ctx, s.itemKey(z.Member.(string)), "attempt")
		}
		return nil
	})
	if err != nil && !isNil(err) {
		return nil, err
	}

	ids := make([]string, 0, len(zs))
	for i, z := range zs {
		n, convErr := attempts[i].Int()
		if convErr != nil || n >= maxAttempts {
			continue
		}
		ids = append(ids, z.Member.(string))
	}
	return ids, nil
}

// lease walks candidates in order, leasing each under WATCH. Candidates
// taken by another worker in between are skipped; when any were lost and
// the batch is short, candidates are fetched again. Items leased earlier in
// the same call are never leased twice.
func (s *Store) lease(
	ctx context.Context, op, owner string, limit int,
	candidates func(ctx context.Context, want int) ([]string, error),
	eligible func(*item.Item) bool,
) ([]*item.Item, error) {
	leased := make([]*item.Item, 0, limit)
	seen := make(map[string]struct{}, limit)

	for round := 1; round <= defaultScanRounds && len(leased) < limit; round++ {
		ids, err := candidates(ctx, limit-len(leased)+len(seen))
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: %s items: %w", op, err)
		}

		lost := 0
		now := s.now()
		for _, raw := range ids {
			if len(leased) == limit {
				break
			}
			if _, dup := seen[raw]; dup {
				continue
			}
			it, _, err := s.mutate(ctx, raw, func(it *item.Item) (bool, error) {
				if !eligible(it) {
					return false, nil
				}
				it.Lease(owner, now)
				return true, nil
			})
			switch {
			case err == nil && it != nil:
				seen[raw] = struct{}{}
				leased = append(leased, it)
			case err == nil, isTxFailed(err):
				// The candidate changed between the index read and WATCH.
				lost++
			default:
				return nil, fmt.Errorf("conveyor/redis: %s item %s: %w", op, raw, err)
			}
		}

		if lost == 0 {
			break
		}
		s.logger.Debug("redis: lease candidates lost to other workers",
			"owner", owner, "count", lost, "round", round)
		if err := backoff.Sleep(ctx, s.retry.Delay(round)); err != nil {
			return nil, err
		}
	}
	return leased, nil
}

// CompleteItems applies each completion under WATCH. Items no longer
// leased by owner at current are skipped. A completion whose transaction
// keeps aborting fails with ErrConcurrencyConflict.
func (s *Store) CompleteItems(
	ctx context.Context, owner string, current step.ID, next *step.ID,
	results []item.Completion,
) (int, error) {
	if err := item.ValidateComplete(owner); err != nil {
		return 0, err
	}

	applied := 0
	for _, r := range results {
		var done bool
		err := backoff.Retry(ctx, s.retry, s.retries, isTxFailed, func(ctx context.Context) error {
			it, _, err := s.mutate(ctx, r.ID.String(), func(it *item.Item) (bool, error) {
				if !item.Completable(it, owner, current) {
					return false, nil
				}
				it.Finish(r.Outcome, next, s.now())
				return true, nil
			})
			done = it != nil
			return err
		})
		if err != nil {
			if errors.Is(err, backoff.ErrExhausted) {
				err = conveyor.ErrConcurrencyConflict
			}
			return applied, fmt.Errorf("conveyor/redis: complete item %s: %w", r.ID, err)
		}
		if done {
			applied++
		}
	}

	if skipped := len(results) - applied; skipped > 0 {
		s.logger.Debug("redis: completions skipped",
			"owner", owner, "step_id", int(current), "count", skipped)
	}
	return applied, nil
}

// ListPoison returns Error items at stepID with no attempts left.
func (s *Store) ListPoison(ctx context.Context, stepID step.ID, maxAttempts, limit int) ([]*item.Item, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(stepID, item.StatusError), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list poison: %w", err)
	}
	loaded, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list poison: %w", err)
	}

	items := loaded[:0]
	for _, it := range loaded {
		if item.Poisoned(it, stepID, maxAttempts) {
			items = append(items, it)
		}
	}
	item.SortOldestFirst(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// RequeueItem moves an Error or Draft item back to Ready.
func (s *Store) RequeueItem(ctx context.Context, itemID id.ItemID) error {
	var found bool
	err := backoff.Retry(ctx, s.retry, s.retries, isTxFailed, func(ctx context.Context) error {
		var err error
		_, found, err = s.mutate(ctx, itemID.String(), func(it *item.Item) (bool, error) {
			if !item.Requeueable(it) {
				return false, fmt.Errorf("requeue %s item: %w", it.Status, conveyor.ErrInvalidState)
			}
			it.Requeue(s.now())
			return true, nil
		})
		return err
	})

	switch {
	case err == nil && !found:
		return conveyor.ErrItemNotFound
	case err == nil:
		return nil
	case errors.Is(err, backoff.ErrExhausted):
		return fmt.Errorf("conveyor/redis: requeue item: %w", conveyor.ErrConcurrencyConflict)
	default:
		return fmt.Errorf("conveyor/redis: requeue item: %w", err)
	}
}
