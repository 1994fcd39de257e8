// Package mongo implements store.Store using the official MongoDB Go driver
// (v2). Claims and completions run inside session transactions, so the
// server must be a replica set or sharded cluster.
//
// The caller owns the *mongo.Client lifecycle -- this package never
// disconnects it. Pass the client through the constructor:
//
//	import (
//	    mongod "go.mongodb.org/mongo-driver/v2/mongo"
//	    "go.mongodb.org/mongo-driver/v2/mongo/options"
//	    "github.com/xraph/conveyor/store/mongo"
//	)
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	store, _ := mongo.New(client, "conveyor", mongo.WithCollection("invoices"))
//	store.Migrate(ctx)
package mongo
