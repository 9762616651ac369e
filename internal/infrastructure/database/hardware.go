package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HardwareStaleAfter is how long a cached hardware configuration stays
// usable. A record older than this forces re-discovery before discovery
// payloads are published again.
const HardwareStaleAfter = time.Hour

// ErrHardwareNotFound is returned when no cached hardware configuration
// exists for an instance.
var ErrHardwareNotFound = errors.New("database: hardware config not found")

// HardwareRecord is one cached hardware discovery result.
//
// Topology is an opaque JSON document owned by the plugin that wrote it;
// the store never inspects it.
type HardwareRecord struct {
	InstanceID   string
	Topology     []byte
	DiscoveredAt time.Time
}

// IsStale reports whether the record is older than HardwareStaleAfter
// relative to now.
func (r HardwareRecord) IsStale(now time.Time) bool {
	return now.Sub(r.DiscoveredAt) > HardwareStaleAfter
}

// SaveHardwareConfig inserts or replaces the cached hardware configuration
// for an instance.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - rec: Record to persist; DiscoveredAt is stored as RFC3339 UTC
//
// Returns:
//   - error: If the write fails
func (db *DB) SaveHardwareConfig(ctx context.Context, rec HardwareRecord) error {
	if rec.InstanceID == "" {
		return fmt.Errorf("saving hardware config: instance id is empty")
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO hardware_config (instance_id, topology, discovered_at)
		VALUES (?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			topology = excluded.topology,
			discovered_at = excluded.discovered_at
	`, rec.InstanceID, rec.Topology, rec.DiscoveredAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving hardware config for %s: %w", rec.InstanceID, err)
	}
	return nil
}

// LoadHardwareConfig returns the cached hardware configuration for an
// instance, or ErrHardwareNotFound if none has been saved.
func (db *DB) LoadHardwareConfig(ctx context.Context, instanceID string) (HardwareRecord, error) {
	var rec HardwareRecord
	var discoveredAt string

	err := db.QueryRowContext(ctx, `
		SELECT instance_id, topology, discovered_at
		FROM hardware_config
		WHERE instance_id = ?
	`, instanceID).Scan(&rec.InstanceID, &rec.Topology, &discoveredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return HardwareRecord{}, fmt.Errorf("%w: %s", ErrHardwareNotFound, instanceID)
	}
	if err != nil {
		return HardwareRecord{}, fmt.Errorf("loading hardware config for %s: %w", instanceID, err)
	}

	rec.DiscoveredAt, err = time.Parse(time.RFC3339, discoveredAt)
	if err != nil {
		return HardwareRecord{}, fmt.Errorf("parsing discovered_at for %s: %w", instanceID, err)
	}
	return rec, nil
}

// DeleteHardwareConfig removes the cached hardware configuration for an
// instance. Missing records are not an error.
func (db *DB) DeleteHardwareConfig(ctx context.Context, instanceID string) error {
	_, err := db.ExecContext(ctx,
		"DELETE FROM hardware_config WHERE instance_id = ?", instanceID)
	if err != nil {
		return fmt.Errorf("deleting hardware config for %s: %w", instanceID, err)
	}
	return nil
}
