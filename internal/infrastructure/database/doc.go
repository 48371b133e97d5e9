// Package database provides SQLite storage for the cast bridge.
//
// The bridge persists one thing: the instruction log, an audit trail of
// every instruction routed to a device and its outcome. Schema changes are
// versioned SQL files embedded from the top-level migrations package.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// The file is created with 0600 permissions and opened with a single
// connection, WAL journaling and a busy timeout.
package database
