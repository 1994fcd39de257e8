package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// CreateItem persists a new item.
func (s *Store) CreateItem(ctx context.Context, it *item.Item) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("conveyor/postgres: create item: %w", err)
	}
	updated := stampOrNow(it.UpdatedAt, s.now)
	created := it.CreatedAt
	if created.IsZero() {
		created = updated
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.itemTable+` (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		it.ID.String(), nullable(it.LeaseOwner), it.Status.Code(), int(it.StepID),
		it.Attempt, nullable(it.Error), it.Payload, created, updated,
	)
	if err != nil {
		// Check for unique violation (duplicate ID).
		if isDuplicateKey(err) {
			return conveyor.ErrItemAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: create item: %w", err)
	}
	return nil
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM `+s.itemTable+` WHERE id = $1`,
		itemID.String(),
	)

	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrItemNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get item: %w", err)
	}
	return it, nil
}

// DeleteItem removes an item by ID.
func (s *Store) DeleteItem(ctx context.Context, itemID id.ItemID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.itemTable+` WHERE id = $1`, itemID.String())
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
		args = append(args, int(*stepID))
		conds = append(conds, "step_id = $"+strconv.Itoa(len(args)))
	}
	if status != 0 {
		args = append(args, status.Code())
		conds = append(conds, "status_id = $"+strconv.Itoa(len(args)))
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
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list items: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list items: %w", err)
	}
	return items, nil
}

// CountItems returns the number of items matching opts.
func (s *Store) CountItems(ctx context.Context, opts item.CountOpts) (int64, error) {
	where, args := filter(opts.Step, opts.Status)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+s.itemTable+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count items: %w", err)
	}
	return n, nil
}

// ClaimItems atomically leases up to limit Ready items at stepID to owner.
// Uses SELECT FOR UPDATE SKIP LOCKED so concurrent claimers never block on
// or return each other's rows.
func (s *Store) ClaimItems(ctx context.Context, owner string, stepID step.ID, limit int) ([]*item.Item, error) {
	if err := item.ValidateClaim(owner, limit); err != nil {
		return nil, err
	}
	return s.lease(ctx, "claim", `
		lease_owner IS NULL
		AND step_id = $4
		AND status_id = $5`,
		[]any{owner, s.now(), limit, int(stepID), item.StatusReady.Code()})
}

// ReclaimItems atomically leases up to limit failed or abandoned items.
func (s *Store) ReclaimItems(
	ctx context.Context, owner string, stepID step.ID, limit int,
	staleBefore time.Time, maxAttempts int,
) ([]*item.Item, error) {
	if err := item.ValidateReclaim(owner, limit, maxAttempts); err != nil {
		return nil, err
	}
	return s.lease(ctx, "reclaim", `
		step_id = $4
		AND attempt < $5
		AND (status_id = $6 OR (status_id = $7 AND updated_at < $8))`,
		[]any{
			owner, s.now(), limit, int(stepID), maxAttempts,
			item.StatusError.Code(), item.StatusProcessing.Code(), staleBefore,
		})
}

// lease runs the shared claim statement. Arguments $1..$3 are owner, now,
// and limit; cond numbers its own arguments from $4.
func (s *Store) lease(ctx context.Context, op, cond string, args []any) ([]*item.Item, error) {
	rows, err := s.pool.Query(ctx, `
		WITH leased AS (
			UPDATE `+s.itemTable+`
			SET lease_owner = $1, status_id = 3, attempt = attempt + 1, error = NULL, updated_at = $2
			WHERE id IN (
				SELECT id FROM `+s.itemTable+`
				WHERE `+cond+`
				ORDER BY updated_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $3
			)
			RETURNING `+itemColumns+`
		)
		SELECT * FROM leased ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: %s items: %w", op, err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: %s items: %w", op, err)
	}
	return items, nil
}

// CompleteItems applies each completion inside one transaction, batching
// the conditional updates. Rows no longer leased by owner at current are
// skipped.
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
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range results {
			status, stepID, msg := r.Outcome.Resolve(current, next)
			batch.Queue(`
				UPDATE `+s.itemTable+`
				SET lease_owner = NULL, status_id = $1, step_id = $2, error = $3, updated_at = $4
				WHERE id = $5 AND lease_owner = $6 AND step_id = $7 AND status_id = 3`,
				status.Code(), int(stepID), nullable(msg), now,
				r.ID.String(), owner, int(current),
			)
		}

		br := tx.SendBatch(ctx, batch)
		for _, r := range results {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return fmt.Errorf("complete item %s: %w", r.ID, err)
			}
			applied += int(tag.RowsAffected())
		}
		return br.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: complete items: %w", err)
	}

	if skipped := len(results) - applied; skipped > 0 {
		s.logger.Debug("postgres: completions skipped",
			"owner", owner, "step_id", int(current), "count", skipped)
	}
	return applied, nil
}

// ListPoison returns Error items at stepID with no attempts left.
func (s *Store) ListPoison(ctx context.Context, stepID step.ID, maxAttempts, limit int) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM ` + s.itemTable + `
		WHERE step_id = $1 AND status_id = $2 AND attempt >= $3
		ORDER BY updated_at ASC, id ASC`
	args := []any{int(stepID), item.StatusError.Code(), maxAttempts}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list poison: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list poison: %w", err)
	}
	return items, nil
}

// RequeueItem moves an Error or Draft item back to Ready.
func (s *Store) RequeueItem(ctx context.Context, itemID id.ItemID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.itemTable+`
		SET status_id = $1, error = NULL, lease_owner = NULL, updated_at = $2
		WHERE id = $3 AND status_id IN ($4, $5)`,
		item.StatusReady.Code(), s.now(),
		itemID.String(), item.StatusError.Code(), item.StatusDraft.Code(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: requeue item: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	return fmt.Errorf("conveyor/postgres: requeue %s item: %w", current.Status, conveyor.ErrInvalidState)
}
