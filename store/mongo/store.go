package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ item.Store  = (*Store)(nil)
	_ step.Store  = (*Store)(nil)
	_ store.Store = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
//
// Claims and completions run in a session transaction. A Store runs at most
// one such transaction at a time; concurrency across processes is resolved
// by the server's write-conflict detection, and the driver retries the
// transaction on transient conflicts.
type Store struct {
	client *mongod.Client
	db     *mongod.Database
	items  *mongod.Collection
	steps  *mongod.Collection

	itemCol string
	stepCol string
	logger  *slog.Logger
	now     func() time.Time

	txMu sync.Mutex
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithCollection sets the collection holding work items.
func WithCollection(name string) Option {
	return func(s *Store) {
		s.itemCol = name
	}
}

// WithStepCollection sets the collection holding step definitions.
func WithStepCollection(name string) Option {
	return func(s *Store) {
		s.stepCol = name
	}
}

// WithClock overrides the time source used for lease timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new MongoDB store on database dbName. The caller owns the
// client lifecycle -- the Store will not disconnect it on Close().
func New(client *mongod.Client, dbName string, opts ...Option) (*Store, error) {
	s := &Store{
		client:  client,
		itemCol: store.DefaultItemTable,
		stepCol: store.DefaultStepTable,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, name := range []string{s.itemCol, s.stepCol} {
		if name == "" || strings.ContainsAny(name, "$\x00") {
			return nil, fmt.Errorf("conveyor/mongo: %w: %q", conveyor.ErrInvalidTable, name)
		}
	}

	s.db = client.Database(dbName)
	s.items = s.db.Collection(s.itemCol)
	s.steps = s.db.Collection(s.stepCol)
	return s, nil
}

// Database returns the underlying database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates indexes for the item and step collections. Creating an
// index also creates its collection, which transactions cannot do on older
// servers.
func (s *Store) Migrate(ctx context.Context) error {
	for _, idx := range s.migrationIndexes() {
		if len(idx.models) == 0 {
			continue
		}

		_, err := idx.col.Indexes().CreateMany(ctx, idx.models)
		if err != nil {
			return fmt.Errorf("%w: mongo %s indexes: %w", conveyor.ErrMigrationFailed, idx.col.Name(), err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// stamp returns the current time at the millisecond precision BSON stores,
// so returned items compare equal to what a later read decodes.
func (s *Store) stamp() time.Time {
	return s.now().Truncate(time.Millisecond)
}

// inTx runs fn inside a session transaction. fn may be invoked more than
// once when the driver retries a transient error.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return mongod.IsDuplicateKeyError(err) ||
		strings.Contains(err.Error(), "E11000")
}

type collectionIndexes struct {
	col    *mongod.Collection
	models []mongod.IndexModel
}

// migrationIndexes returns the index definitions for both collections.
func (s *Store) migrationIndexes() []collectionIndexes {
	return []collectionIndexes{
		{col: s.items, models: []mongod.IndexModel{
			// Claim/reclaim index: step + status + updated_at.
			{Keys: bson.D{
				{Key: "step_id", Value: 1},
				{Key: "status_id", Value: 1},
				{Key: "updated_at", Value: 1},
			}},
			// Listing order.
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		}},
		{col: s.steps, models: []mongod.IndexModel{
			// Unique step name.
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		}},
	}
}
