// Package database provides SQLite connectivity for Gray Logic Fluent.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations read from an fs.FS (normally the embedded migrations package)
//   - Transaction helpers for repositories
//
// Managed items, their tags, groups and metadata live here. Item state
// history does not; that goes to InfluxDB.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
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
// optional matching .down.sql. Migrations are additive-only: new columns
// must be NULLABLE or carry a DEFAULT.
package database
