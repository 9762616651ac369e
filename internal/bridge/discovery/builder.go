package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/mqtt"
)

// DefaultPrefix is the Home Assistant default discovery prefix.
const DefaultPrefix = "homeassistant"

// Device is the shared device block linking entities to one physical
// device in the Home Assistant registry.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// Availability is one availability topic with its payloads.
type Availability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
}

// Sensor is a read-only numeric or text entity.
type Sensor struct {
	UniqueID          string         `json:"unique_id"`
	Name              string         `json:"name"`
	StateTopic        string         `json:"state_topic"`
	DeviceClass       string         `json:"device_class,omitempty"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	StateClass        string         `json:"state_class,omitempty"`
	Icon              string         `json:"icon,omitempty"`
	Availability      []Availability `json:"availability,omitempty"`
	AvailabilityMode  string         `json:"availability_mode,omitempty"`
	Device            Device         `json:"device"`
}

// BinarySensor is a read-only on/off entity.
type BinarySensor struct {
	UniqueID         string         `json:"unique_id"`
	Name             string         `json:"name"`
	StateTopic       string         `json:"state_topic"`
	DeviceClass      string         `json:"device_class,omitempty"`
	PayloadOn        string         `json:"payload_on,omitempty"`
	PayloadOff       string         `json:"payload_off,omitempty"`
	Availability     []Availability `json:"availability,omitempty"`
	AvailabilityMode string         `json:"availability_mode,omitempty"`
	Device           Device         `json:"device"`
}

// Switch is a commandable on/off entity.
type Switch struct {
	UniqueID         string         `json:"unique_id"`
	Name             string         `json:"name"`
	StateTopic       string         `json:"state_topic"`
	CommandTopic     string         `json:"command_topic"`
	PayloadOn        string         `json:"payload_on,omitempty"`
	PayloadOff       string         `json:"payload_off,omitempty"`
	Availability     []Availability `json:"availability,omitempty"`
	AvailabilityMode string         `json:"availability_mode,omitempty"`
	Device           Device         `json:"device"`
}

// Light is a commandable light, optionally dimmable and colored.
type Light struct {
	UniqueID               string         `json:"unique_id"`
	Name                   string         `json:"name"`
	StateTopic             string         `json:"state_topic"`
	CommandTopic           string         `json:"command_topic"`
	BrightnessStateTopic   string         `json:"brightness_state_topic,omitempty"`
	BrightnessCommandTopic string         `json:"brightness_command_topic,omitempty"`
	BrightnessScale        int            `json:"brightness_scale,omitempty"`
	RGBStateTopic          string         `json:"rgb_state_topic,omitempty"`
	RGBCommandTopic        string         `json:"rgb_command_topic,omitempty"`
	PayloadOn              string         `json:"payload_on,omitempty"`
	PayloadOff             string         `json:"payload_off,omitempty"`
	Availability           []Availability `json:"availability,omitempty"`
	AvailabilityMode       string         `json:"availability_mode,omitempty"`
	Device                 Device         `json:"device"`
}

// Number is a commandable numeric entity.
type Number struct {
	UniqueID          string         `json:"unique_id"`
	Name              string         `json:"name"`
	StateTopic        string         `json:"state_topic"`
	CommandTopic      string         `json:"command_topic"`
	Min               float64        `json:"min"`
	Max               float64        `json:"max"`
	Step              float64        `json:"step,omitempty"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	Mode              string         `json:"mode,omitempty"`
	Availability      []Availability `json:"availability,omitempty"`
	AvailabilityMode  string         `json:"availability_mode,omitempty"`
	Device            Device         `json:"device"`
}

// Climate is a thermostat entity.
type Climate struct {
	UniqueID                string         `json:"unique_id"`
	Name                    string         `json:"name"`
	Modes                   []string       `json:"modes"`
	ModeStateTopic          string         `json:"mode_state_topic"`
	ModeCommandTopic        string         `json:"mode_command_topic"`
	CurrentTemperatureTopic string         `json:"current_temperature_topic"`
	TemperatureStateTopic   string         `json:"temperature_state_topic"`
	TemperatureCommandTopic string         `json:"temperature_command_topic"`
	FanModes                []string       `json:"fan_modes,omitempty"`
	FanModeStateTopic       string         `json:"fan_mode_state_topic,omitempty"`
	FanModeCommandTopic     string         `json:"fan_mode_command_topic,omitempty"`
	ActionTopic             string         `json:"action_topic,omitempty"`
	MinTemp                 float64        `json:"min_temp,omitempty"`
	MaxTemp                 float64        `json:"max_temp,omitempty"`
	TempStep                float64        `json:"temp_step,omitempty"`
	TemperatureUnit         string         `json:"temperature_unit,omitempty"`
	Availability            []Availability `json:"availability,omitempty"`
	AvailabilityMode        string         `json:"availability_mode,omitempty"`
	Device                  Device         `json:"device"`
}

// Builder constructs discovery topics and shared blocks.
type Builder struct {
	prefix  string
	topics  mqtt.Topics
	version string
}

// NewBuilder creates a builder publishing under discoveryPrefix,
// falling back to DefaultPrefix when empty. The bridge topics supply
// availability topic names; version stamps sw_version on the bridge's
// own device block.
func NewBuilder(discoveryPrefix string, topics mqtt.Topics, version string) Builder {
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultPrefix
	}
	return Builder{prefix: discoveryPrefix, topics: topics, version: version}
}

// ConfigTopic returns the discovery config topic for one entity.
//
// Example: homeassistant/sensor/hughes_ddeeff/volts/config
func (b Builder) ConfigTopic(component, nodeID, entityID string) string {
	prefix := b.prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s/%s/%s/%s/config",
		prefix, component, SanitizeID(nodeID), SanitizeID(entityID))
}

// DeviceInfo returns the device block for one instance.
func (b Builder) DeviceInfo(instanceID, name, manufacturer, model string) Device {
	return Device{
		Identifiers:  []string{instanceID},
		Name:         name,
		Manufacturer: manufacturer,
		Model:        model,
		SWVersion:    b.version,
	}
}

// AvailabilityFor returns the availability chain for one device: the
// entity is available only when both the bridge and the device are
// online.
func (b Builder) AvailabilityFor(plugin, deviceID string) []Availability {
	return []Availability{
		{
			Topic:               b.topics.BridgeAvailability(),
			PayloadAvailable:    mqtt.PayloadOnline,
			PayloadNotAvailable: mqtt.PayloadOffline,
		},
		{
			Topic:               b.topics.DeviceAvailability(plugin, deviceID),
			PayloadAvailable:    mqtt.PayloadOnline,
			PayloadNotAvailable: mqtt.PayloadOffline,
		},
	}
}

// Marshal encodes an entity config. Field order follows struct
// declaration order, so output is deterministic for equal input.
func Marshal(entity any) ([]byte, error) {
	payload, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encoding discovery config: %w", err)
	}
	return payload, nil
}

// SanitizeID lowercases s and replaces every run of characters outside
// [a-z0-9_] with a single underscore, as Home Assistant object IDs
// require.
func SanitizeID(s string) string {
	var out strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			out.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				out.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(out.String(), "_")
}
