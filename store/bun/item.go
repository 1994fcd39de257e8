package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// itemTableExpr is the ModelTableExpr for itemModel queries.
func (s *Store) itemTableExpr() (string, bun.Ident) {
	return "? AS item", bun.Ident(s.itemTable)
}

// CreateItem persists a new item.
func (s *Store) CreateItem(ctx context.Context, it *item.Item) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("conveyor/bun: create item: %w", err)
	}
	m := toItemModel(it)
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = s.now()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}

	expr, table := s.itemTableExpr()
	_, err := s.db.NewInsert().Model(m).ModelTableExpr(expr, table).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrItemAlreadyExists
		}
		return fmt.Errorf("conveyor/bun: create item: %w", err)
	}
	return nil
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	m := new(itemModel)
	expr, table := s.itemTableExpr()
	err := s.db.NewSelect().Model(m).ModelTableExpr(expr, table).
		Where("id = ?", itemID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrItemNotFound
		}
		return nil, fmt.Errorf("conveyor/bun: get item: %w", err)
	}
	return fromItemModel(m)
}

// DeleteItem removes an item by ID.
func (s *Store) DeleteItem(ctx context.Context, itemID id.ItemID) error {
	res, err := s.db.NewDelete().
		TableExpr("?", bun.Ident(s.itemTable)).
		Where("id = ?", itemID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: delete item: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conveyor.ErrItemNotFound
	}
	return nil
}

// applyFilter adds the step and status conditions shared by list and count.
func applyFilter(q *bun.SelectQuery, stepID *step.ID, status item.Status) *bun.SelectQuery {
	if stepID != nil {
		q = q.Where("step_id = ?", int(*stepID))
	}
	if status != 0 {
		q = q.Where("status_id = ?", status.Code())
	}
	return q
}

// ListItems returns items matching opts ordered by creation time.
func (s *Store) ListItems(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	var models []itemModel
	expr, table := s.itemTableExpr()
	q := s.db.NewSelect().Model(&models).ModelTableExpr(expr, table)
	q = applyFilter(q, opts.Step, opts.Status).OrderExpr("created_at ASC, id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/bun: list items: %w", err)
	}
	return fromItemModels(models)
}

// CountItems returns the number of items matching opts.
func (s *Store) CountItems(ctx context.Context, opts item.CountOpts) (int64, error) {
	expr, table := s.itemTableExpr()
	q := s.db.NewSelect().Model((*itemModel)(nil)).ModelTableExpr(expr, table)
	n, err := applyFilter(q, opts.Step, opts.Status).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conveyor/bun: count items: %w", err)
	}
	return int64(n), nil
}

// ClaimItems atomically leases up to limit Ready items at stepID to owner.
// Uses SELECT FOR UPDATE SKIP LOCKED via raw SQL.
func (s *Store) ClaimItems(ctx context.Context, owner string, stepID step.ID, limit int) ([]*item.Item, error) {
	if err := item.ValidateClaim(owner, limit); err != nil {
		return nil, err
	}
	return s.lease(ctx, "claim", owner, limit, bun.SafeQuery(
		"lease_owner IS NULL AND step_id = ? AND status_id = ?",
		int(stepID), item.StatusReady.Code(),
	))
}

// ReclaimItems atomically leases up to limit failed or abandoned items.
func (s *Store) ReclaimItems(
	ctx context.Context, owner string, stepID step.ID, limit int,
	staleBefore time.Time, maxAttempts int,
) ([]*item.Item, error) {
	if err := item.ValidateReclaim(owner, limit, maxAttempts); err != nil {
		return nil, err
	}
	return s.lease(ctx, "reclaim", owner, limit, bun.SafeQuery(
		"step_id = ? AND attempt < ? AND (status_id = ? OR (status_id = ? AND updated_at < ?))",
		int(stepID), maxAttempts,
		item.StatusError.Code(), item.StatusProcessing.Code(), staleBefore,
	))
}

func (s *Store) lease(ctx context.Context, op, owner string, limit int, cond any) ([]*item.Item, error) {
	var models []itemModel
	err := s.db.NewRaw(`
		WITH leased AS (
			UPDATE ?0
			SET lease_owner = ?1, status_id = ?2, attempt = attempt + 1, error = NULL, updated_at = ?3
			WHERE id IN (
				SELECT id FROM ?0
				WHERE ?4
				ORDER BY updated_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT ?5
			)
			RETURNING *
		)
		SELECT * FROM leased ORDER BY id ASC`,
		bun.Ident(s.itemTable), owner, item.StatusProcessing.Code(), s.now(), cond, limit,
	).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: %s items: %w", op, err)
	}

	items, err := fromItemModels(models)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: %s convert: %w", op, err)
	}
	return items, nil
}

// CompleteItems applies each completion inside one transaction. Rows no
// longer leased by owner at current are skipped.
func (s *Store) CompleteItems(
	ctx context.Context, owner string, current step.ID, next *step.ID,
	results []item.Completion,
) (int, error) {
	if err := item.ValidateComplete(owner); err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}

	now := s.now()
	applied := 0
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, r := range results {
			status, stepID, msg := r.Outcome.Resolve(current, next)
			q := tx.NewUpdate().
				TableExpr("?", bun.Ident(s.itemTable)).
				Set("lease_owner = NULL").
				Set("status_id = ?", status.Code()).
				Set("step_id = ?", int(stepID)).
				Set("updated_at = ?", now)
			if msg == "" {
				q = q.Set("error = NULL")
			} else {
				q = q.Set("error = ?", msg)
			}

			res, err := q.
				Where("id = ?", r.ID.String()).
				Where("lease_owner = ?", owner).
				Where("step_id = ?", int(current)).
				Where("status_id = ?", item.StatusProcessing.Code()).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("complete item %s: %w", r.ID, err)
			}
			rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
			applied += int(rows)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("conveyor/bun: complete items: %w", err)
	}

	if skipped := len(results) - applied; skipped > 0 {
		s.logger.Debug("bun: completions skipped",
			"owner", owner, "step_id", int(current), "count", skipped)
	}
	return applied, nil
}

// ListPoison returns Error items at stepID with no attempts left.
func (s *Store) ListPoison(ctx context.Context, stepID step.ID, maxAttempts, limit int) ([]*item.Item, error) {
	var models []itemModel
	expr, table := s.itemTableExpr()
	q := s.db.NewSelect().Model(&models).ModelTableExpr(expr, table).
		Where("step_id = ?", int(stepID)).
		Where("status_id = ?", item.StatusError.Code()).
		Where("attempt >= ?", maxAttempts).
		OrderExpr("updated_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/bun: list poison: %w", err)
	}
	return fromItemModels(models)
}

// RequeueItem moves an Error or Draft item back to Ready.
func (s *Store) RequeueItem(ctx context.Context, itemID id.ItemID) error {
	res, err := s.db.NewUpdate().
		TableExpr("?", bun.Ident(s.itemTable)).
		Set("status_id = ?", item.StatusReady.Code()).
		Set("error = NULL").
		Set("lease_owner = NULL").
		Set("updated_at = ?", s.now()).
		Where("id = ?", itemID.String()).
		Where("status_id IN (?, ?)", item.StatusError.Code(), item.StatusDraft.Code()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: requeue item: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 1 {
		return nil
	}

	current, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	return fmt.Errorf("conveyor/bun: requeue %s item: %w", current.Status, conveyor.ErrInvalidState)
}
