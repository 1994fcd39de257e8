package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor/store"
	bunstore "github.com/xraph/conveyor/store/bun"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/store/mongo"
	"github.com/xraph/conveyor/store/postgres"
	"github.com/xraph/conveyor/store/redis"
	"github.com/xraph/conveyor/store/sqlite"
	"github.com/xraph/conveyor/store/tables"
)

// openStore connects to the backend selected by name. The returned close
// function releases the store and any client it created.
func openStore(ctx context.Context, name, dsn, database string, logger *slog.Logger) (store.Store, func() error, error) {
	switch name {
	case "postgres":
		s, err := postgres.New(ctx, dsn, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "bun":
		db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), pgdialect.New())
		s, err := bunstore.New(db, bunstore.WithLogger(logger))
		if err != nil {
			db.Close() //nolint:errcheck // best-effort cleanup
			return nil, nil, err
		}
		return s, db.Close, nil

	case "sqlite":
		s, err := sqlite.New(ctx, dsn, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "mongo":
		client, err := mongod.Connect(options.Client().ApplyURI(dsn))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		s, err := mongo.New(client, database, mongo.WithLogger(logger))
		if err != nil {
			client.Disconnect(ctx) //nolint:errcheck // best-effort cleanup
			return nil, nil, err
		}
		return s, func() error { return client.Disconnect(context.Background()) }, nil

	case "tables":
		s, err := tables.NewFromConnectionString(dsn, tables.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "redis":
		opts, err := goredis.ParseURL(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return redis.New(client, redis.WithLogger(logger)), client.Close, nil

	case "memory":
		s := memory.New(memory.WithLogger(logger))
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", name)
}
