package mqtt

import "fmt"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "blebridge"

// Topics builds the bridge's MQTT topic names.
//
// All device topics use the flat scheme:
//
//	{prefix}/{plugin}/{deviceID}/{field}
//
// where plugin is the plugin type namespace (hughes, mopeka, onecontrol,
// easytouch, peplink) and deviceID is the instance identifier. Command
// topics append /set to a field topic.
type Topics struct {
	Prefix string
}

// NewTopics returns a Topics builder with the given prefix,
// falling back to DefaultTopicPrefix when empty.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// State returns the topic a decoded field value is published on.
//
// Example: blebridge/hughes/hughes_a1b2c3/volts
func (t Topics) State(plugin, deviceID, field string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Prefix, plugin, deviceID, field)
}

// Command returns the topic a field command is received on.
//
// Example: blebridge/onecontrol/onecontrol_a1b2c3/relay_4/set
func (t Topics) Command(plugin, deviceID, field string) string {
	return fmt.Sprintf("%s/%s/%s/%s/set", t.Prefix, plugin, deviceID, field)
}

// DeviceAvailability returns the per-device availability topic.
//
// Example: blebridge/mopeka/mopeka_a1b2c3/availability
func (t Topics) DeviceAvailability(plugin, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/availability", t.Prefix, plugin, deviceID)
}

// BridgeAvailability returns the bridge-wide availability topic.
// This topic carries the Last Will and Testament.
//
// Example: blebridge/availability
func (t Topics) BridgeAvailability() string {
	return fmt.Sprintf("%s/availability", t.Prefix)
}

// DeviceBase returns the base topic for one device instance.
//
// Example: blebridge/easytouch/easytouch_a1b2c3
func (t Topics) DeviceBase(plugin, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.Prefix, plugin, deviceID)
}

// AllCommands returns a wildcard pattern matching every command topic
// under the prefix.
//
// Pattern: blebridge/+/+/+/set
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/+/+/+/set", t.Prefix)
}

// Availability payload values. These are literal strings, not JSON,
// matching what Home Assistant availability templates expect.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)
