// Package database provides SQLite connectivity for the bridge's
// transmission history.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations from an embedded filesystem
//   - Connection lifecycle management
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql and are
// applied in version order, each in its own transaction. Schema changes are
// forward only. Migrations are additive: new columns must be NULLABLE or carry
// a DEFAULT.
package database
