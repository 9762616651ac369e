package hughes

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/phurth/ble-plugin-bridge/internal/ble"
	"github.com/phurth/ble-plugin-bridge/internal/bridge"
	"github.com/phurth/ble-plugin-bridge/internal/bridge/discovery"
)

// Register adds the hughes factory to a registry.
func Register(r *bridge.Registry) {
	r.RegisterConnectedFactory(PluginType, New)
}

// Driver bridges one Power Watchdog to MQTT.
type Driver struct {
	inst    bridge.Instance
	sink    bridge.Sink
	builder discovery.Builder
	log     bridge.Logger

	manager   *ble.Manager
	assembler *ble.Assembler
}

// New creates a hughes driver for one instance.
func New(inst bridge.Instance, deps bridge.Deps) (bridge.Driver, error) {
	if inst.MAC == "" {
		return nil, fmt.Errorf("%w: hughes requires a mac", bridge.ErrInvalidInstance)
	}
	if deps.Adapter == nil {
		return nil, fmt.Errorf("%w: hughes requires a ble adapter", bridge.ErrInvalidInstance)
	}

	d := &Driver{
		inst:      inst,
		sink:      deps.Sink,
		builder:   deps.Discovery,
		log:       depsLogger(deps),
		assembler: ble.NewAssembler(FrameSize, FrameHeader, ChunkTimeout),
	}

	manager, err := ble.NewManager(ble.ManagerOptions{
		Adapter: deps.Adapter,
		MAC:     inst.MAC,
		Match: func(adv ble.Advertisement) bool {
			return MatchesName(adv.LocalName)
		},
		Session:       d.session,
		Logger:        deps.Logger,
		OnStateChange: d.onStateChange,
	})
	if err != nil {
		return nil, err
	}
	d.manager = manager
	return d, nil
}

func depsLogger(deps bridge.Deps) bridge.Logger {
	if deps.Logger != nil {
		return deps.Logger
	}
	return noop{}
}

type noop struct{}

func (noop) Debug(string, ...any) {}
func (noop) Info(string, ...any)  {}
func (noop) Warn(string, ...any)  {}
func (noop) Error(string, ...any) {}

// Instance returns the configured instance.
func (d *Driver) Instance() bridge.Instance { return d.inst }

// Start publishes discovery and launches the connection manager.
func (d *Driver) Start(ctx context.Context) error {
	if err := d.publishDiscovery(); err != nil {
		d.log.Warn("discovery publish failed", "instance", d.inst.ID, "error", err)
	}
	return d.manager.Start(ctx)
}

// Stop tears down the connection manager.
func (d *Driver) Stop() {
	d.manager.Stop()
}

// HandleCommand rejects all commands; the Power Watchdog is read-only.
func (d *Driver) HandleCommand(_ context.Context, _, field string, _ []byte) error {
	return fmt.Errorf("%w: hughes field %s", bridge.ErrUnsupportedCommand, field)
}

func (d *Driver) onStateChange(_, to ble.ConnState) {
	switch to {
	case ble.StateReady:
		d.publishAvailability(true)
	case ble.StateDisconnected, ble.StateIdle:
		d.publishAvailability(false)
	}
}

func (d *Driver) publishAvailability(online bool) {
	if err := d.sink.PublishAvailability(PluginType, d.inst.ID, online); err != nil {
		d.log.Warn("availability publish failed", "instance", d.inst.ID, "error", err)
	}
}

// session consumes status notifications until the context is cancelled
// or the subscription fails.
func (d *Driver) session(ctx context.Context, p ble.Peripheral) error {
	d.assembler.Reset()

	chunks := make(chan []byte, 8)
	err := p.Notify(ServiceUUID, NotifyCharUUID, func(data []byte) {
		select {
		case chunks <- data:
		default:
			// Slow consumer; the next frame supersedes this one anyway.
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to status stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-chunks:
			frame, complete := d.assembler.Push(chunk, time.Now())
			if !complete {
				continue
			}
			reading, err := DecodeFrame(frame)
			if err != nil {
				d.log.Warn("frame decode failed", "instance", d.inst.ID, "error", err)
				continue
			}
			d.publishReading(reading)
		}
	}
}

func (d *Driver) publishReading(r Reading) {
	fields := map[string]string{
		"volts":     strconv.FormatFloat(r.Volts, 'f', 1, 64),
		"amps":      strconv.FormatFloat(r.Amps, 'f', 2, 64),
		"watts":     strconv.FormatFloat(r.Watts, 'f', 1, 64),
		"energy":    strconv.FormatFloat(r.EnergyKWh, 'f', 3, 64),
		"frequency": strconv.FormatFloat(r.Frequency, 'f', 2, 64),
		"error":     r.ErrorLabel(),
		"line":      strconv.Itoa(r.Line),
	}
	for field, value := range fields {
		if err := d.sink.PublishState(PluginType, d.inst.ID, field, []byte(value)); err != nil {
			d.log.Warn("state publish failed",
				"instance", d.inst.ID,
				"field", field,
				"error", err)
		}
	}
}

func (d *Driver) publishDiscovery() error {
	device := d.builder.DeviceInfo(d.inst.ID, d.inst.DisplayName, "Hughes Autoformers", "Power Watchdog")
	avail := d.builder.AvailabilityFor(PluginType, d.inst.ID)

	sensors := []discovery.Sensor{
		{Name: "Voltage", StateTopic: d.stateTopic("volts"), DeviceClass: "voltage", UnitOfMeasurement: "V", StateClass: "measurement"},
		{Name: "Current", StateTopic: d.stateTopic("amps"), DeviceClass: "current", UnitOfMeasurement: "A", StateClass: "measurement"},
		{Name: "Power", StateTopic: d.stateTopic("watts"), DeviceClass: "power", UnitOfMeasurement: "W", StateClass: "measurement"},
		{Name: "Energy", StateTopic: d.stateTopic("energy"), DeviceClass: "energy", UnitOfMeasurement: "kWh", StateClass: "total_increasing"},
		{Name: "Frequency", StateTopic: d.stateTopic("frequency"), DeviceClass: "frequency", UnitOfMeasurement: "Hz", StateClass: "measurement"},
		{Name: "Fault", StateTopic: d.stateTopic("error"), Icon: "mdi:alert-circle-outline"},
	}

	for i := range sensors {
		s := &sensors[i]
		field := fieldFromTopic(s.StateTopic)
		s.UniqueID = d.inst.ID + "_" + field
		s.Availability = avail
		s.AvailabilityMode = "all"
		s.Device = device

		payload, err := discovery.Marshal(s)
		if err != nil {
			return err
		}
		topic := d.builder.ConfigTopic("sensor", d.inst.ID, field)
		if err := d.sink.PublishDiscovery(topic, payload); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) stateTopic(field string) string {
	return d.sink.Prefix() + "/" + PluginType + "/" + d.inst.ID + "/" + field
}

// fieldFromTopic returns the last topic segment.
func fieldFromTopic(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}
