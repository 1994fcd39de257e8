package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// CreateItem persists a new item.
func (s *Store) CreateItem(ctx context.Context, it *item.Item) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("conveyor/mongo: create item: %w", err)
	}
	m := toItemModel(it)
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = s.stamp()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}

	_, err := s.items.InsertOne(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrItemAlreadyExists
		}
		return fmt.Errorf("conveyor/mongo: create item: %w", err)
	}
	return nil
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	var m itemModel
	err := s.items.FindOne(ctx, bson.M{"_id": itemID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conveyor.ErrItemNotFound
		}
		return nil, fmt.Errorf("conveyor/mongo: get item: %w", err)
	}
	return fromItemModel(&m)
}

// DeleteItem removes an item by ID.
func (s *Store) DeleteItem(ctx context.Context, itemID id.ItemID) error {
	res, err := s.items.DeleteOne(ctx, bson.M{"_id": itemID.String()})
	if err != nil {
		return fmt.Errorf("conveyor/mongo: delete item: %w", err)
	}
	if res.DeletedCount == 0 {
		return conveyor.ErrItemNotFound
	}
	return nil
}

func itemFilter(stepID *step.ID, status item.Status) bson.M {
	filter := bson.M{}
	if stepID != nil {
		filter["step_id"] = int(*stepID)
	}
	if status != 0 {
		filter["status_id"] = status.Code()
	}
	return filter
}

// ListItems returns items matching opts ordered by creation time.
func (s *Store) ListItems(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	return s.find(ctx, "list items", itemFilter(opts.Step, opts.Status), findOpts)
}

// CountItems returns the number of items matching opts.
func (s *Store) CountItems(ctx context.Context, opts item.CountOpts) (int64, error) {
	n, err := s.items.CountDocuments(ctx, itemFilter(opts.Step, opts.Status))
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: count items: %w", err)
	}
	return n, nil
}

func (s *Store) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*item.Item, error) {
	cursor, err := s.items.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: %s: %w", op, err)
	}
	defer cursor.Close(ctx) //nolint:errcheck // best-effort cleanup

	var models []itemModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: %s decode: %w", op, err)
	}
	return fromItemModels(models)
}

// unowned matches documents with no lease owner.
var unowned = bson.M{"$in": bson.A{nil, ""}}

// ClaimItems leases up to limit Ready items at stepID to owner.
func (s *Store) ClaimItems(ctx context.Context, owner string, stepID step.ID, limit int) ([]*item.Item, error) {
	if err := item.ValidateClaim(owner, limit); err != nil {
		return nil, err
	}
	return s.lease(ctx, "claim", owner, limit, bson.M{
		"step_id":     int(stepID),
		"status_id":   item.StatusReady.Code(),
		"lease_owner": unowned,
	})
}

// ReclaimItems leases up to limit failed or abandoned items.
func (s *Store) ReclaimItems(
	ctx context.Context, owner string, stepID step.ID, limit int,
	staleBefore time.Time, maxAttempts int,
) ([]*item.Item, error) {
	if err := item.ValidateReclaim(owner, limit, maxAttempts); err != nil {
		return nil, err
	}
	return s.lease(ctx, "reclaim", owner, limit, bson.M{
		"step_id": int(stepID),
		"attempt": bson.M{"$lt": maxAttempts},
		"$or": bson.A{
			bson.M{"status_id": item.StatusError.Code()},
			bson.M{
				"status_id":  item.StatusProcessing.Code(),
				"updated_at": bson.M{"$lt": staleBefore},
			},
		},
	})
}

// lease reads candidates matching filter and replaces each one that still
// matches its snapshot, all inside one transaction.
func (s *Store) lease(ctx context.Context, op, owner string, limit int, filter bson.M) ([]*item.Item, error) {
	findOpts := options.Find().
		SetSort(bson.D{
			{Key: "updated_at", Value: 1},
			{Key: "_id", Value: 1},
		}).
		SetLimit(int64(limit))

	var leased []*item.Item
	err := s.inTx(ctx, func(ctx context.Context) error {
		leased = make([]*item.Item, 0, limit)
		now := s.stamp()

		cursor, err := s.items.Find(ctx, filter, findOpts)
		if err != nil {
			return err
		}
		var candidates []itemModel
		if err := cursor.All(ctx, &candidates); err != nil {
			return err
		}

		for i := range candidates {
			it, err := fromItemModel(&candidates[i])
			if err != nil {
				return err
			}
			guard := snapshot(&candidates[i])
			it.Lease(owner, now)

			res, err := s.items.ReplaceOne(ctx, guard, toItemModel(it))
			if err != nil {
				return err
			}
			if res.MatchedCount == 0 {
				continue
			}
			leased = append(leased, it)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: %s items: %w", op, err)
	}
	return leased, nil
}

// snapshot builds a filter matching m only while it is unchanged.
func snapshot(m *itemModel) bson.M {
	guard := bson.M{
		"_id":        m.ID,
		"status_id":  m.StatusID,
		"step_id":    m.StepID,
		"attempt":    m.Attempt,
		"updated_at": m.UpdatedAt,
	}
	if m.LeaseOwner == "" {
		guard["lease_owner"] = unowned
	} else {
		guard["lease_owner"] = m.LeaseOwner
	}
	return guard
}

// CompleteItems applies each completion inside one transaction. Items no
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

	var applied int
	err := s.inTx(ctx, func(ctx context.Context) error {
		applied = 0
		now := s.stamp()

		for _, r := range results {
			var m itemModel
			err := s.items.FindOne(ctx, bson.M{
				"_id":         r.ID.String(),
				"lease_owner": owner,
				"step_id":     int(current),
				"status_id":   item.StatusProcessing.Code(),
			}).Decode(&m)
			if isNoDocuments(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("load item %s: %w", r.ID, err)
			}

			it, err := fromItemModel(&m)
			if err != nil {
				return err
			}
			it.Finish(r.Outcome, next, now)

			res, err := s.items.ReplaceOne(ctx, snapshot(&m), toItemModel(it))
			if err != nil {
				return fmt.Errorf("complete item %s: %w", r.ID, err)
			}
			applied += int(res.MatchedCount)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: complete items: %w", err)
	}

	if skipped := len(results) - applied; skipped > 0 {
		s.logger.Debug("mongo: completions skipped",
			"owner", owner, "step_id", int(current), "count", skipped)
	}
	return applied, nil
}

// ListPoison returns Error items at stepID with no attempts left.
func (s *Store) ListPoison(ctx context.Context, stepID step.ID, maxAttempts, limit int) ([]*item.Item, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "updated_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	return s.find(ctx, "list poison", bson.M{
		"step_id":   int(stepID),
		"status_id": item.StatusError.Code(),
		"attempt":   bson.M{"$gte": maxAttempts},
	}, findOpts)
}

// RequeueItem moves an Error or Draft item back to Ready.
func (s *Store) RequeueItem(ctx context.Context, itemID id.ItemID) error {
	res, err := s.items.UpdateOne(ctx,
		bson.M{
			"_id": itemID.String(),
			"status_id": bson.M{"$in": bson.A{
				item.StatusError.Code(), item.StatusDraft.Code(),
			}},
		},
		bson.M{
			"$set": bson.M{
				"status_id":  item.StatusReady.Code(),
				"updated_at": s.stamp(),
			},
			"$unset": bson.M{"error": "", "lease_owner": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: requeue item: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	current, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	return fmt.Errorf("conveyor/mongo: requeue %s item: %w", current.Status, conveyor.ErrInvalidState)
}
