// Package bridge is the engine that turns device plugins into MQTT
// entities.
//
// A plugin registers a factory for its plugin type. The Registry
// instantiates a Driver per configured device instance, starts it, and
// routes inbound command topics back to the owning instance. Connected
// drivers (BLE GATT devices, REST endpoints with push semantics) manage
// their own lifecycle; polled drivers implement PolledDriver and are
// wrapped in a PollRunner that calls Poll on a fixed interval.
//
// Drivers publish through Sink, which owns topic construction,
// retained-flag policy, and the optional telemetry mirror. Plugins never
// see the MQTT client directly, so tests drive them with a recording
// sink and a fake BLE adapter.
package bridge
