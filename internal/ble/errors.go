package ble

import "errors"

// Sentinel errors for BLE operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrScanFailed is returned when the radio cannot start scanning.
	ErrScanFailed = errors.New("ble: scan failed")

	// ErrConnectFailed is returned when a connection attempt fails or
	// times out. The connection manager treats it as retryable.
	ErrConnectFailed = errors.New("ble: connect failed")

	// ErrCharacteristicNotFound is returned when a service or
	// characteristic expected by a device profile is absent. This fails
	// the current attempt, not the instance.
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")

	// ErrAlreadyStarted is returned when Start is called on a running
	// manager or watcher.
	ErrAlreadyStarted = errors.New("ble: already started")

	// ErrInvalidOptions is returned when a manager or watcher is
	// constructed with missing required options.
	ErrInvalidOptions = errors.New("ble: invalid options")
)
