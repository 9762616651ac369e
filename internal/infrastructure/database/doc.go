// Package database provides SQLite database connectivity for the BLE bridge.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations (embedded in the binary)
//   - The hardware discovery cache
//
// # Hardware discovery cache
//
// Polled plugins that enumerate device hardware (e.g. the Peplink plugin
// discovering WAN/SIM topology) persist the discovered layout here, keyed
// by instance ID, together with the discovery timestamp. The cache lets a
// restarted bridge publish discovery payloads immediately and re-discover
// only when the cached topology has gone stale (older than one hour).
//
// # Usage
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
//
//	rec, err := db.LoadHardwareConfig(ctx, "peplink_router1")
package database
