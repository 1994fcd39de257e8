// Package sqlite implements store.Store using the grove ORM with SQLite
// dialect. Suitable for embedded deployments, CLI tools, and tests.
//
// Statements run one at a time per Store, so claims use a plain
// UPDATE ... RETURNING without row locks. Schema changes go through the
// grove migration orchestrator:
//
//	import "github.com/xraph/conveyor/store/sqlite"
//
//	s, err := sqlite.New(ctx, "conveyor.db", sqlite.WithItemTable("invoices"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	s.Migrate(ctx)
//
// To share a database opened elsewhere, pass the *grove.DB to NewFromDB;
// the caller then owns its lifecycle.
package sqlite
