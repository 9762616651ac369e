package bridge

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/mqtt"
)

// Sink is the publishing surface drivers see. It owns topic layout and
// retained-flag policy so plugins only deal in plugin/device/field.
type Sink interface {
	// PublishState publishes a decoded field value, retained.
	PublishState(plugin, deviceID, field string, payload []byte) error

	// PublishAvailability publishes the per-device availability topic,
	// retained.
	PublishAvailability(plugin, deviceID string, online bool) error

	// PublishDiscovery publishes a Home Assistant discovery document to
	// an absolute topic, retained. A nil payload clears the entity.
	// No-op when discovery is disabled.
	PublishDiscovery(topic string, payload []byte) error

	// Prefix returns the configured state topic prefix.
	Prefix() string

	// IsConnected reports whether the broker connection is up.
	IsConnected() bool
}

// Publisher is the slice of the MQTT client the sink needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Telemetry mirrors numeric field values to a time-series store.
// Writes are fire-and-forget.
type Telemetry interface {
	WriteDeviceMetric(instanceID, plugin, field string, value float64)
}

// MQTTSink publishes driver output to the broker and optionally mirrors
// numeric values to telemetry.
type MQTTSink struct {
	pub              Publisher
	topics           mqtt.Topics
	qos              byte
	discoveryEnabled bool

	mu        sync.RWMutex
	telemetry Telemetry
	logger    Logger
}

// MQTTSinkOptions configures an MQTTSink.
type MQTTSinkOptions struct {
	Publisher        Publisher
	Topics           mqtt.Topics
	QoS              byte
	DiscoveryEnabled bool
	Telemetry        Telemetry
	Logger           Logger
}

// NewMQTTSink creates a sink over an MQTT publisher.
func NewMQTTSink(opts MQTTSinkOptions) (*MQTTSink, error) {
	if opts.Publisher == nil {
		return nil, fmt.Errorf("%w: publisher is required", ErrInvalidInstance)
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSink{
		pub:              opts.Publisher,
		topics:           opts.Topics,
		qos:              opts.QoS,
		discoveryEnabled: opts.DiscoveryEnabled,
		telemetry:        opts.Telemetry,
		logger:           logger,
	}, nil
}

// PublishState publishes a field value, retained, and mirrors it to
// telemetry if the payload parses as a number.
func (s *MQTTSink) PublishState(plugin, deviceID, field string, payload []byte) error {
	topic := s.topics.State(plugin, deviceID, field)
	if err := s.pub.Publish(topic, payload, s.qos, true); err != nil {
		return fmt.Errorf("publishing state %s: %w", topic, err)
	}

	s.mirror(plugin, deviceID, field, payload)
	return nil
}

// PublishAvailability publishes the per-device availability topic.
func (s *MQTTSink) PublishAvailability(plugin, deviceID string, online bool) error {
	payload := mqtt.PayloadOffline
	if online {
		payload = mqtt.PayloadOnline
	}

	topic := s.topics.DeviceAvailability(plugin, deviceID)
	if err := s.pub.Publish(topic, []byte(payload), s.qos, true); err != nil {
		return fmt.Errorf("publishing availability %s: %w", topic, err)
	}
	return nil
}

// PublishDiscovery publishes a discovery document, retained.
func (s *MQTTSink) PublishDiscovery(topic string, payload []byte) error {
	if !s.discoveryEnabled {
		return nil
	}
	if err := s.pub.Publish(topic, payload, s.qos, true); err != nil {
		return fmt.Errorf("publishing discovery %s: %w", topic, err)
	}
	return nil
}

// Prefix returns the state topic prefix.
func (s *MQTTSink) Prefix() string {
	return s.topics.Prefix
}

// IsConnected reports broker connectivity.
func (s *MQTTSink) IsConnected() bool {
	return s.pub.IsConnected()
}

// SetTelemetry replaces the telemetry mirror. Pass nil to disable.
func (s *MQTTSink) SetTelemetry(t Telemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = t
}

// mirror writes numeric payloads to telemetry. Non-numeric fields
// (availability strings, JSON attributes) are skipped.
func (s *MQTTSink) mirror(plugin, deviceID, field string, payload []byte) {
	s.mu.RLock()
	telemetry := s.telemetry
	s.mu.RUnlock()
	if telemetry == nil {
		return
	}

	value, err := strconv.ParseFloat(string(payload), 64)
	if err != nil {
		return
	}
	telemetry.WriteDeviceMetric(deviceID, plugin, field, value)
}
