// Package influxdb provides an optional telemetry mirror for decoded state.
//
// It wraps the official influxdb-client-go v2 library with the bridge's
// patterns for connection management, non-blocking batched writes, and
// health monitoring. When enabled, every numeric field the publish sink
// sends to MQTT is also written to the configured bucket, giving long-term
// history for tank levels, power draw, and data usage without any extra
// plumbing in the plugins.
//
// Writes are fire-and-forget: a down InfluxDB never blocks or fails a
// device publish. Async write errors surface through SetOnError.
package influxdb
