// Package ble provides the bridge's view of the host Bluetooth radio.
//
// Plugins never talk to a BLE stack directly. They receive an Adapter,
// a narrow interface over scanning and connecting, and express their
// protocol against Peripheral (GATT reads, writes, notifications) and
// Advertisement (passive broadcast data). Tests substitute fakes for
// both; the tinygo bluetooth implementation in host.go is only wired
// up in main.
//
// # Connection lifecycle
//
// Manager owns the state machine for one connected device:
//
//	Idle → Scanning → Matched → Connecting → DiscoveringServices → Ready
//	Ready → Disconnected → Retrying → Connecting (capped backoff)
//
// Stop() from any state returns to Idle and releases the radio. Passive
// devices use Watcher instead, which only scans and never connects.
//
// # Frame reassembly
//
// Assembler recombines protocol frames that arrive split across
// multiple notifications (the power meter sends two 20-byte chunks per
// 40-byte frame). It holds at most one pending chunk and discards it on
// header mismatch or timeout, so a lost chunk costs one frame, never a
// desynchronised stream.
package ble
