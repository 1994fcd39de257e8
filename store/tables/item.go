package tables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// errLostRace marks a conditional write rejected with 412.
var errLostRace = errors.New("etag mismatch")

func isLostRace(err error) bool { return errors.Is(err, errLostRace) }

// CreateItem persists a new item.
func (s *Store) CreateItem(ctx context.Context, it *item.Item) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("conveyor/tables: create item: %w", err)
	}
	cp := it.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.Touch(s.now())
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}

	body, err := toItemEntity(cp).marshal()
	if err != nil {
		return fmt.Errorf("conveyor/tables: create item: %w", err)
	}
	if _, err := s.items.AddEntity(ctx, body, nil); err != nil {
		if isConflict(err) {
			return conveyor.ErrItemAlreadyExists
		}
		return fmt.Errorf("conveyor/tables: create item: %w", err)
	}
	return nil
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	e, err := s.getEntity(ctx, itemID.String())
	if err != nil {
		if isNotFound(err) {
			return nil, conveyor.ErrItemNotFound
		}
		return nil, fmt.Errorf("conveyor/tables: get item: %w", err)
	}
	return e.toItem()
}

func (s *Store) getEntity(ctx context.Context, rowKey string) (*itemEntity, error) {
	resp, err := s.items.GetEntity(ctx, itemPartition, rowKey, nil)
	if err != nil {
		return nil, err
	}
	var e itemEntity
	if err := json.Unmarshal(resp.Value, &e); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", rowKey, err)
	}
	e.ETag = string(resp.ETag)
	return &e, nil
}

// DeleteItem removes an item by ID.
func (s *Store) DeleteItem(ctx context.Context, itemID id.ItemID) error {
	if _, err := s.items.DeleteEntity(ctx, itemPartition, itemID.String(), nil); err != nil {
		if isNotFound(err) {
			return conveyor.ErrItemNotFound
		}
		return fmt.Errorf("conveyor/tables: delete item: %w", err)
	}
	return nil
}

// filter joins OData conditions on the item partition.
func filter(conds ...string) string {
	return strings.Join(append([]string{"PartitionKey eq " + quote(itemPartition)}, conds...), " and ")
}

func stepCond(stepID step.ID) string { return fmt.Sprintf("StepID eq %d", int(stepID)) }

func statusCond(status item.Status) string { return fmt.Sprintf("StatusID eq %d", status.Code()) }

func listFilter(stepID *step.ID, status item.Status) string {
	var conds []string
	if stepID != nil {
		conds = append(conds, stepCond(*stepID))
	}
	if status != 0 {
		conds = append(conds, statusCond(status))
	}
	return filter(conds...)
}

// scan returns every entity matching the OData filter.
func (s *Store) scan(ctx context.Context, odata string) ([]*itemEntity, error) {
	pager := s.items.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &odata})

	var out []*itemEntity
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Entities {
			var e itemEntity
			if err := json.Unmarshal(raw, &e); err != nil {
				return nil, fmt.Errorf("decode item: %w", err)
			}
			out = append(out, &e)
		}
	}
	return out, nil
}

func (s *Store) scanItems(ctx context.Context, op, odata string) ([]*item.Item, error) {
	entities, err := s.scan(ctx, odata)
	if err != nil {
		return nil, fmt.Errorf("conveyor/tables: %s: %w", op, err)
	}
	items := make([]*item.Item, 0, len(entities))
	for _, e := range entities {
		it, err := e.toItem()
		if err != nil {
			return nil, fmt.Errorf("conveyor/tables: %s: %w", op, err)
		}
		items = append(items, it)
	}
	return items, nil
}

// ListItems returns items matching opts ordered by creation time. The
// table service has no server-side ordering, so the page is cut client-side.
func (s *Store) ListItems(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	items, err := s.scanItems(ctx, "list items", listFilter(opts.Step, opts.Status))
	if err != nil {
		return nil, err
	}
	item.SortByCreated(items)
	return opts.Page(items), nil
}

// CountItems returns the number of items matching opts.
func (s *Store) CountItems(ctx context.Context, opts item.CountOpts) (int64, error) {
	odata := listFilter(opts.Step, opts.Status)
	sel := "RowKey"
	pager := s.items.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &odata, Select: &sel})

	var n int64
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("conveyor/tables: count items: %w", err)
		}
		n += int64(len(page.Entities))
	}
	return n, nil
}

// ClaimItems leases up to limit Ready items at stepID to owner.
func (s *Store) ClaimItems(ctx context.Context, owner string, stepID step.ID, limit int) ([]*item.Item, error) {
	if err := item.ValidateClaim(owner, limit); err != nil {
		return nil, err
	}
	return s.lease(ctx, "claim", owner, limit, filter(
		stepCond(stepID),
		statusCond(item.StatusReady),
		"LeaseOwner eq ''",
	), func(it *item.Item) bool { return item.Claimable(it, stepID) })
}

// ReclaimItems leases up to limit failed or abandoned items.
func (s *Store) ReclaimItems(
	ctx context.Context, owner string, stepID step.ID, limit int,
	staleBefore time.Time, maxAttempts int,
) ([]*item.Item, error) {
	if err := item.ValidateReclaim(owner, limit, maxAttempts); err != nil {
		return nil, err
	}
	return s.lease(ctx, "reclaim", owner, limit, filter(
		stepCond(stepID),
		fmt.Sprintf("Attempt lt %d", maxAttempts),
		fmt.Sprintf("(%s or (%s and UpdatedAt lt %dL))",
			statusCond(item.StatusError),
			statusCond(item.StatusProcessing),
			staleBefore.UnixNano()),
	), func(it *item.Item) bool { return item.Reclaimable(it, stepID, staleBefore, maxAttempts) })
}

// lease scans candidates, orders them oldest first and replaces each one
// under its ETag. Candidates lost to another worker are skipped; when any
// were lost and the batch is short, the scan is repeated. Items leased
// earlier in the same call are never leased twice.
func (s *Store) lease(
	ctx context.Context, op, owner string, limit int, odata string,
	eligible func(*item.Item) bool,
) ([]*item.Item, error) {
	leased := make([]*item.Item, 0, limit)
	seen := make(map[string]struct{}, limit)

	for round := 1; round <= defaultScanRounds && len(leased) < limit; round++ {
		entities, err := s.scan(ctx, odata)
		if err != nil {
			return nil, fmt.Errorf("conveyor/tables: %s items: %w", op, err)
		}

		candidates := make([]*item.Item, 0, len(entities))
		etags := make(map[string]azcore.ETag, len(entities))
		for _, e := range entities {
			it, err := e.toItem()
			if err != nil {
				return nil, fmt.Errorf("conveyor/tables: %s items: %w", op, err)
			}
			if _, dup := seen[it.ID.String()]; dup || !eligible(it) {
				continue
			}
			candidates = append(candidates, it)
			etags[it.ID.String()] = e.etag()
		}
		item.SortOldestFirst(candidates)

		lost := 0
		now := s.now()
		for _, it := range candidates {
			if len(leased) == limit {
				break
			}
			it.Lease(owner, now)
			err := s.replace(ctx, it, etags[it.ID.String()])
			switch {
			case err == nil:
				seen[it.ID.String()] = struct{}{}
				leased = append(leased, it)
			case isLostRace(err) || isNotFound(err):
				lost++
			default:
				return nil, fmt.Errorf("conveyor/tables: %s item %s: %w", op, it.ID, err)
			}
		}

		if lost == 0 {
			break
		}
		s.logger.Debug("tables: lease candidates lost to other workers",
			"owner", owner, "count", lost, "round", round)
		if err := backoff.Sleep(ctx, s.retry.Delay(round)); err != nil {
			return nil, err
		}
	}
	return leased, nil
}

// replace writes it if the stored entity still carries etag.
func (s *Store) replace(ctx context.Context, it *item.Item, etag azcore.ETag) error {
	body, err := toItemEntity(it).marshal()
	if err != nil {
		return err
	}
	_, err = s.items.UpdateEntity(ctx, body, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if isPreconditionFailed(err) {
		return errLostRace
	}
	return err
}

// CompleteItems applies each completion with a read-check-replace under
// the entity's ETag. Items no longer leased by owner at current are skipped.
// A completion that keeps losing races fails with ErrConcurrencyConflict.
func (s *Store) CompleteItems(
	ctx context.Context, owner string, current step.ID, next *step.ID,
	results []item.Completion,
) (int, error) {
	if err := item.ValidateComplete(owner); err != nil {
		return 0, err
	}

	applied := 0
	for _, r := range results {
		done := false
		err := backoff.Retry(ctx, s.retry, s.retries, isLostRace, func(ctx context.Context) error {
			e, err := s.getEntity(ctx, r.ID.String())
			if isNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			it, err := e.toItem()
			if err != nil {
				return err
			}
			if !item.Completable(it, owner, current) {
				return nil
			}

			it.Finish(r.Outcome, next, s.now())
			if err := s.replace(ctx, it, e.etag()); err != nil {
				return err
			}
			done = true
			return nil
		})
		if err != nil {
			if errors.Is(err, backoff.ErrExhausted) {
				err = conveyor.ErrConcurrencyConflict
			}
			return applied, fmt.Errorf("conveyor/tables: complete item %s: %w", r.ID, err)
		}
		if done {
			applied++
		}
	}

	if skipped := len(results) - applied; skipped > 0 {
		s.logger.Debug("tables: completions skipped",
			"owner", owner, "step_id", int(current), "count", skipped)
	}
	return applied, nil
}

// ListPoison returns Error items at stepID with no attempts left.
func (s *Store) ListPoison(ctx context.Context, stepID step.ID, maxAttempts, limit int) ([]*item.Item, error) {
	items, err := s.scanItems(ctx, "list poison", filter(
		stepCond(stepID),
		statusCond(item.StatusError),
		fmt.Sprintf("Attempt ge %d", maxAttempts),
	))
	if err != nil {
		return nil, err
	}
	item.SortOldestFirst(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// RequeueItem moves an Error or Draft item back to Ready.
func (s *Store) RequeueItem(ctx context.Context, itemID id.ItemID) error {
	err := backoff.Retry(ctx, s.retry, s.retries, isLostRace, func(ctx context.Context) error {
		e, err := s.getEntity(ctx, itemID.String())
		if err != nil {
			if isNotFound(err) {
				return conveyor.ErrItemNotFound
			}
			return err
		}
		it, err := e.toItem()
		if err != nil {
			return err
		}
		if !item.Requeueable(it) {
			return fmt.Errorf("requeue %s item: %w", it.Status, conveyor.ErrInvalidState)
		}
		it.Requeue(s.now())
		return s.replace(ctx, it, e.etag())
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, conveyor.ErrItemNotFound):
		return err
	case errors.Is(err, backoff.ErrExhausted):
		return fmt.Errorf("conveyor/tables: requeue item: %w", conveyor.ErrConcurrencyConflict)
	default:
		return fmt.Errorf("conveyor/tables: requeue item: %w", err)
	}
}
