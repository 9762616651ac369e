package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric writes a single decoded device field to InfluxDB.
//
// This is the primary method for mirroring published numeric state into
// the telemetry bucket. The write is non-blocking; data is batched and
// sent asynchronously.
//
// Parameters:
//   - instanceID: Instance identifier (e.g., "hughes_a1b2c3")
//   - plugin: Plugin type namespace (e.g., "hughes")
//   - field: The decoded field name (e.g., "volts", "level_percent")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteDeviceMetric("hughes_a1b2c3", "hughes", "watts", 1842.5)
func (c *Client) WriteDeviceMetric(instanceID, plugin, field string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"instance_id": instanceID,
			"plugin":      plugin,
			"field":       field,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit WriteDeviceMetric, such as
// per-WAN usage snapshots from the router plugin.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
