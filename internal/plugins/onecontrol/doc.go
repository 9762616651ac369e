// Package onecontrol bridges a Lippert OneControl RV gateway to MQTT.
//
// The gateway multiplexes every onboard accessory (relays, dimmable and
// RGB lights, tanks, HVAC zones) onto a single GATT notification stream
// of COBS-framed, CRC8-checked events. Writes go to a companion write
// characteristic using the same framing. Before the stream is live the
// gateway must be unlocked with a TEA challenge/response handshake.
//
// Devices are discovered from the event stream itself: the first status
// event for a device announces it to Home Assistant, and the discovered
// topology is cached in the hardware store so entities reappear
// immediately after a restart.
package onecontrol
