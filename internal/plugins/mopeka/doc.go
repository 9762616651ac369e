// Package mopeka decodes Mopeka ultrasonic tank sensors from BLE
// advertisements.
//
// The sensors never accept connections; every reading rides in the
// manufacturer data of their advertisements. Distance readings are
// temperature-compensated per tank medium, gated on echo quality, and
// optionally converted to a fill percentage from the configured tank
// geometry.
package mopeka
