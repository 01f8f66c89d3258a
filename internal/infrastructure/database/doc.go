// Package database provides SQLite connectivity for the Almond bridge.
//
// It opens the go-sqlite3 driver with WAL mode, a busy timeout and foreign
// keys enabled, and applies the embedded up/down migrations from the
// migrations package.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
