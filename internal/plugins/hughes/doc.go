// Package hughes drives Hughes Power Watchdog surge protectors over
// BLE GATT.
//
// The device streams 40-byte status frames as pairs of 20-byte
// notifications. Frames carry line voltage, current, power, cumulative
// energy, AC frequency, an error code, and a marker identifying which
// line (L1/L2) the frame describes on 50-amp models.
package hughes
