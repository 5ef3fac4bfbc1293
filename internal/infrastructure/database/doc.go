// Package database provides SQLite connectivity for the camera backend.
//
// The database holds the camera inventory: every capture device the
// backend has discovered, keyed by unique id, with the host node it was
// last seen at.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations read from an fs.FS (normally migrations.FS)
//   - Connection lifecycle
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional .down.sql counterpart. Migrations are additive: new columns
// must be nullable or carry a default.
package database
