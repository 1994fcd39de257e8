package tables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store"
)

// Compile-time interface checks.
var (
	_ item.Store  = (*Store)(nil)
	_ step.Store  = (*Store)(nil)
	_ store.Store = (*Store)(nil)
)

const (
	// DefaultItemTable is the item table used when WithItemTable is not set.
	DefaultItemTable = "conveyoritems"
	// DefaultStepTable is the step table used when WithStepTable is not set.
	DefaultStepTable = "conveyorsteps"

	defaultRetries    = 5
	defaultScanRounds = 3
)

var tableNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,62}$`)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithItemTable sets the table holding work items.
func WithItemTable(name string) Option {
	return func(s *Store) { s.itemTable = name }
}

// WithStepTable sets the table holding step definitions.
func WithStepTable(name string) Option {
	return func(s *Store) { s.stepTable = name }
}

// WithClock overrides the time source used for lease timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetry sets the backoff and attempt budget for writes that lose an
// ETag race.
func WithRetry(strategy backoff.Strategy, attempts int) Option {
	return func(s *Store) {
		s.retry = strategy
		s.retries = attempts
	}
}

// Store is an Azure Table Storage implementation of store.Store.
type Store struct {
	svc   *aztables.ServiceClient
	items *aztables.Client
	steps *aztables.Client

	itemTable string
	stepTable string
	logger    *slog.Logger
	now       func() time.Time
	retry     backoff.Strategy
	retries   int
}

// New creates a store on svc. Table names are validated against the Azure
// naming rules.
func New(svc *aztables.ServiceClient, opts ...Option) (*Store, error) {
	s := &Store{
		svc:       svc,
		itemTable: DefaultItemTable,
		stepTable: DefaultStepTable,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		retry:     backoff.ConflictStrategy(),
		retries:   defaultRetries,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, name := range []string{s.itemTable, s.stepTable} {
		if !tableNameRE.MatchString(name) {
			return nil, fmt.Errorf("conveyor/tables: %w: %q", conveyor.ErrInvalidTable, name)
		}
	}

	s.items = svc.NewClient(s.itemTable)
	s.steps = svc.NewClient(s.stepTable)
	return s, nil
}

// NewFromConnectionString creates a store from a storage account connection
// string.
func NewFromConnectionString(conn string, opts ...Option) (*Store, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(conn, nil)
	if err != nil {
		return nil, fmt.Errorf("conveyor/tables: service client: %w", err)
	}
	return New(svc, opts...)
}

// Migrate creates the item and step tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, c := range []*aztables.Client{s.items, s.steps} {
		if _, err := c.CreateTable(ctx, nil); err != nil && !isConflict(err) {
			return fmt.Errorf("%w: tables: create table: %w", conveyor.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks that the service answers a table listing.
func (s *Store) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.svc.NewListTablesPager(&aztables.ListTablesOptions{Top: &top})
	if _, err := pager.NextPage(ctx); err != nil {
		return fmt.Errorf("conveyor/tables: ping: %w", err)
	}
	return nil
}

// Close is a no-op; the service client holds no connections of its own.
func (s *Store) Close() error { return nil }

// ── helpers ──────────────────────────────────────────────────────

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func isNotFound(err error) bool { return statusCode(err) == http.StatusNotFound }

func isConflict(err error) bool { return statusCode(err) == http.StatusConflict }

// isPreconditionFailed reports an ETag mismatch.
func isPreconditionFailed(err error) bool {
	return statusCode(err) == http.StatusPreconditionFailed
}
