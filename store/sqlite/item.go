package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// CreateItem persists a new item.
func (s *Store) CreateItem(ctx context.Context, it *item.Item) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("conveyor/sqlite: create item: %w", err)
	}
	m := toItemModel(it)
	if it.UpdatedAt.IsZero() {
		m.UpdatedAt = s.now().UnixNano()
	}
	if it.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}

	var inserted []idModel
	err := s.scan(ctx, &inserted, `
		INSERT INTO `+s.itemTable+` (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		m.ID, nullable(m.LeaseOwner), m.StatusID, m.StepID, m.Attempt,
		nullable(m.Error), m.Payload, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrItemAlreadyExists
		}
		return fmt.Errorf("conveyor/sqlite: create item: %w", err)
	}
	return nil
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	var models []itemModel
	err := s.scan(ctx, &models,
		`SELECT `+itemColumns+` FROM `+s.itemTable+` WHERE id = ? LIMIT 1`, itemID.String())
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: get item: %w", err)
	}
	if len(models) == 0 {
		return nil, conveyor.ErrItemNotFound
	}
	return fromItemModel(&models[0])
}

// DeleteItem removes an item by ID.
func (s *Store) DeleteItem(ctx context.Context, itemID id.ItemID) error {
	var deleted []idModel
	err := s.scan(ctx, &deleted,
		`DELETE FROM `+s.itemTable+` WHERE id = ? RETURNING id`, itemID.String())
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete item: %w", err)
	}
	if len(deleted) == 0 {
		return conveyor.ErrItemNotFound
	}
	return nil
}

// filter renders the WHERE clause shared by ListItems and CountItems.
func filter(stepID *step.ID, status item.Status) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if stepID != nil {
		conds = append(conds, "step_id = ?")
		args = append(args, int(*stepID))
	}
	if status != 0 {
		conds = append(conds, "status_id = ?")
		args = append(args, status.Code())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListItems returns items matching opts ordered by creation time.
func (s *Store) ListItems(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	where, args := filter(opts.Step, opts.Status)
	query := `SELECT ` + itemColumns + ` FROM ` + s.itemTable + where + ` ORDER BY created_at ASC, id ASC`

	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	var models []itemModel
	if err := s.scan(ctx, &models, query, args...); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list items: %w", err)
	}
	items, err := fromItemModels(models)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list items: %w", err)
	}
	return items, nil
}

// CountItems returns the number of items matching opts.
func (s *Store) CountItems(ctx context.Context, opts item.CountOpts) (int64, error) {
	where, args := filter(opts.Step, opts.Status)
	var rows []countModel
	if err := s.scan(ctx, &rows, `SELECT COUNT(*) AS count FROM `+s.itemTable+where, args...); err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: count items: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}

// ClaimItems leases up to limit Ready items at stepID to owner in a single
// UPDATE ... RETURNING statement.
func (s *Store) ClaimItems(ctx context.Context, owner string, stepID step.ID, limit int) ([]*item.Item, error) {
	if err := item.ValidateClaim(owner, limit); err != nil {
		return nil, err
	}
	return s.lease(ctx, "claim", owner, `
		lease_owner IS NULL
		AND step_id = ?
		AND status_id = ?`,
		[]any{int(stepID), item.StatusReady.Code()}, limit)
}

// ReclaimItems leases up to limit failed or abandoned items at stepID.
func (s *Store) ReclaimItems(
	ctx context.Context, owner string, stepID step.ID, limit int,
	staleBefore time.Time, maxAttempts int,
) ([]*item.Item, error) {
	if err := item.ValidateReclaim(owner, limit, maxAttempts); err != nil {
		return nil, err
	}
	return s.lease(ctx, "reclaim", owner, `
		step_id = ?
		AND attempt < ?
		AND (status_id = ? OR (status_id = ? AND updated_at < ?))`,
		[]any{
			int(stepID), maxAttempts,
			item.StatusError.Code(), item.StatusProcessing.Code(), staleBefore.UnixNano(),
		}, limit)
}

func (s *Store) lease(ctx context.Context, op, owner, cond string, condArgs []any, limit int) ([]*item.Item, error) {
	query := `
		UPDATE ` + s.itemTable + `
		SET lease_owner = ?, status_id = ?, attempt = attempt + 1, error = NULL, updated_at = ?
		WHERE id IN (
			SELECT id FROM ` + s.itemTable + `
			WHERE ` + cond + `
			ORDER BY updated_at ASC, id ASC
			LIMIT ?
		)
		RETURNING ` + itemColumns

	args := make([]any, 0, len(condArgs)+4)
	args = append(args, owner, item.StatusProcessing.Code(), s.now().UnixNano())
	args = append(args, condArgs...)
	args = append(args, limit)

	var models []itemModel
	if err := s.scan(ctx, &models, query, args...); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: %s items: %w", op, err)
	}
	items, err := fromItemModels(models)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: %s items: %w", op, err)
	}
	item.SortOldestFirst(items)
	return items, nil
}

// CompleteItems applies each completion with its own guarded UPDATE. Rows
// no longer leased by owner at current are skipped.
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

	query := `
		UPDATE ` + s.itemTable + `
		SET lease_owner = NULL, status_id = ?, step_id = ?, error = ?, updated_at = ?
		WHERE id = ? AND lease_owner = ? AND step_id = ? AND status_id = ?
		RETURNING id`

	now := s.now().UnixNano()
	applied := 0
	for _, r := range results {
		status, stepID, msg := r.Outcome.Resolve(current, next)

		var updated []idModel
		err := s.scan(ctx, &updated, query,
			status.Code(), int(stepID), nullable(msg), now,
			r.ID.String(), owner, int(current), item.StatusProcessing.Code(),
		)
		if err != nil {
			return applied, fmt.Errorf("conveyor/sqlite: complete item %s: %w", r.ID, err)
		}
		applied += len(updated)
	}

	if skipped := len(results) - applied; skipped > 0 {
		s.logger.Debug("sqlite: completions skipped",
			"owner", owner, "step_id", int(current), "count", skipped)
	}
	return applied, nil
}

// ListPoison returns Error items at stepID with no attempts left.
func (s *Store) ListPoison(ctx context.Context, stepID step.ID, maxAttempts, limit int) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM ` + s.itemTable + `
		WHERE step_id = ? AND status_id = ? AND attempt >= ?
		ORDER BY updated_at ASC, id ASC`
	args := []any{int(stepID), item.StatusError.Code(), maxAttempts}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var models []itemModel
	if err := s.scan(ctx, &models, query, args...); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list poison: %w", err)
	}
	items, err := fromItemModels(models)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list poison: %w", err)
	}
	return items, nil
}

// RequeueItem moves an Error or Draft item back to Ready.
func (s *Store) RequeueItem(ctx context.Context, itemID id.ItemID) error {
	var updated []idModel
	err := s.scan(ctx, &updated, `
		UPDATE `+s.itemTable+`
		SET status_id = ?, error = NULL, lease_owner = NULL, updated_at = ?
		WHERE id = ? AND status_id IN (?, ?)
		RETURNING id`,
		item.StatusReady.Code(), s.now().UnixNano(),
		itemID.String(), item.StatusError.Code(), item.StatusDraft.Code(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: requeue item: %w", err)
	}
	if len(updated) == 1 {
		return nil
	}

	current, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	return fmt.Errorf("conveyor/sqlite: requeue %s item: %w", current.Status, conveyor.ErrInvalidState)
}
