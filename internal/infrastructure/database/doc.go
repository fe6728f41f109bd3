// Package database provides the SQLite handle behind the traffic journal.
//
// It manages:
//   - connection setup with WAL mode and a busy timeout
//   - a single-connection pool, matching SQLite's single writer
//   - schema migrations read from an fs.FS (normally migrations.FS)
//
// Usage:
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
// Migrations are additive. Each version has an .up.sql file and, where a
// rollback is meaningful, a .down.sql file.
package database
