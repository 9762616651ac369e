package ble

import (
	"context"
	"strings"
)

// Advertisement is one BLE advertisement as seen during a scan.
//
// Addr is the peripheral MAC in canonical uppercase colon form.
// ManufacturerData is keyed by the Bluetooth SIG company identifier.
// ServiceDataUUIDs lists the UUIDs of service data elements only; the
// host stack does not expose the advertised service class list, so
// match on manufacturer data or local name instead.
type Advertisement struct {
	Addr             string
	LocalName        string
	RSSI             int16
	ManufacturerData map[uint16][]byte
	ServiceDataUUIDs []string
}

// HasManufacturer reports whether the advertisement carries manufacturer
// data for the given company identifier.
func (a Advertisement) HasManufacturer(companyID uint16) bool {
	_, ok := a.ManufacturerData[companyID]
	return ok
}

// MatchesAddr reports whether the advertisement came from the given MAC,
// compared case-insensitively.
func (a Advertisement) MatchesAddr(mac string) bool {
	return strings.EqualFold(a.Addr, mac)
}

// Peripheral is an established GATT connection to one device.
//
// UUIDs are full 128-bit lowercase strings. Implementations resolve
// services and characteristics on first use; a missing characteristic
// returns ErrCharacteristicNotFound.
type Peripheral interface {
	// Read reads the current value of a characteristic.
	Read(service, characteristic string) ([]byte, error)

	// Write writes to a characteristic with response.
	Write(service, characteristic string, data []byte) error

	// Notify enables notifications on a characteristic. The callback is
	// invoked from the BLE stack's goroutine and must not block.
	Notify(service, characteristic string, fn func(data []byte)) error

	// Disconnect tears down the connection. Safe to call more than once.
	Disconnect() error
}

// Adapter abstracts the host Bluetooth radio.
//
// Scan returns a channel that is closed when the context is cancelled
// or the scan stops; concurrent Scan callers must each receive every
// advertisement. Connect blocks until the connection is established or
// ctx expires.
type Adapter interface {
	Scan(ctx context.Context) (<-chan Advertisement, error)
	Connect(ctx context.Context, mac string) (Peripheral, error)
}
