package bridge

import (
	"context"
	"time"

	"github.com/phurth/ble-plugin-bridge/internal/ble"
	"github.com/phurth/ble-plugin-bridge/internal/bridge/discovery"
	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/database"
)

// Logger defines the logging interface used by the engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// HardwareStore caches discovered hardware topology between restarts so
// slow enumeration (REST logins, gateway device tables) is skipped when
// a fresh record exists.
type HardwareStore interface {
	SaveHardwareConfig(ctx context.Context, rec database.HardwareRecord) error
	LoadHardwareConfig(ctx context.Context, instanceID string) (database.HardwareRecord, error)
	DeleteHardwareConfig(ctx context.Context, instanceID string) error
}

// Deps carries the shared services a factory wires into a driver.
type Deps struct {
	// Adapter is the host BLE radio. Nil for network-only plugins.
	Adapter ble.Adapter

	// Sink is where the driver publishes state, availability, and
	// discovery. Required.
	Sink Sink

	// Discovery builds Home Assistant discovery topics and shared
	// blocks.
	Discovery discovery.Builder

	// Hardware caches discovery results. Optional; drivers that don't
	// enumerate hardware ignore it.
	Hardware HardwareStore

	// Logger is optional; nil discards logs.
	Logger Logger
}

// logger returns the configured logger or a noop.
func (d Deps) logger() Logger {
	if d.Logger == nil {
		return noopLogger{}
	}
	return d.Logger
}

// Driver is a running device instance that manages its own lifecycle.
//
// Start must not block; it launches the driver's goroutines and returns.
// Stop blocks until they have exited. HandleCommand is invoked from the
// MQTT client's handler goroutine for command topics this instance owns.
type Driver interface {
	Instance() Instance
	Start(ctx context.Context) error
	Stop()
	HandleCommand(ctx context.Context, deviceID, field string, payload []byte) error
}

// PolledDriver is a device instance sampled on a fixed interval instead
// of managing a long-lived connection. The engine wraps it in a
// PollRunner; a failed Poll is logged and retried on the next tick.
type PolledDriver interface {
	Instance() Instance
	Poll(ctx context.Context) error
	HandleCommand(ctx context.Context, deviceID, field string, payload []byte) error
}

// ConnectedFactory builds a lifecycle-owning driver for one instance.
type ConnectedFactory func(inst Instance, deps Deps) (Driver, error)

// PolledFactory builds a polled driver for one instance. Interval is
// the requested poll cadence; the engine clamps it to sane bounds.
type PolledFactory func(inst Instance, deps Deps) (PolledDriver, time.Duration, error)
