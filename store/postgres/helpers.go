package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// itemColumns is the select list matching scanItem.
const itemColumns = `id, lease_owner, status_id, step_id, attempt, error, payload, created_at, updated_at`

// scanItem scans a single item row into an item.Item.
func scanItem(row pgx.Row) (*item.Item, error) {
	var (
		rawID      string
		leaseOwner *string
		statusID   int
		stepID     int
		errMsg     *string
		it         item.Item
	)
	if err := row.Scan(
		&rawID, &leaseOwner, &statusID, &stepID, &it.Attempt,
		&errMsg, &it.Payload, &it.CreatedAt, &it.UpdatedAt,
	); err != nil {
		return nil, err
	}

	itemID, err := id.ParseItemID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse item id %q: %w", rawID, err)
	}
	status, err := item.StatusFromCode(statusID)
	if err != nil {
		return nil, err
	}

	it.ID = itemID
	it.Status = status
	it.StepID = step.ID(stepID)
	if leaseOwner != nil {
		it.LeaseOwner = *leaseOwner
	}
	if errMsg != nil {
		it.Error = *errMsg
	}
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return &it, nil
}

// collectItems scans every row and closes rows.
func collectItems(rows pgx.Rows) ([]*item.Item, error) {
	defer rows.Close()

	var items []*item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// stampOrNow returns t, or now when t is zero.
func stampOrNow(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t
}
