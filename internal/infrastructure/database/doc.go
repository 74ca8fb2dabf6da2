// Package database provides SQLite storage for meshlink.
//
// The relay keeps its inbound queue in memory. This database is the
// durable record behind it: every accepted message (in both directions)
// and a snapshot of the radio's contact list.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Schema migrations read from any fs.FS (see the migrations package)
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Each migration runs in its own transaction.
package database
