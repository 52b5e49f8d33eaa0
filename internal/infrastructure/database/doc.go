// Package database provides SQLite connectivity for the StudySync auth core.
//
// It owns the connection lifecycle (WAL mode, busy timeout, a single pooled
// connection) and applies embedded, additive schema migrations.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive-only: new columns must be nullable or carry a
// default, and every .up.sql file has a matching .down.sql.
package database
