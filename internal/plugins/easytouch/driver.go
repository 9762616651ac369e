package easytouch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phurth/ble-plugin-bridge/internal/ble"
	"github.com/phurth/ble-plugin-bridge/internal/bridge"
	"github.com/phurth/ble-plugin-bridge/internal/bridge/discovery"
)

// PluginType identifies this plugin in config and topics.
const PluginType = "easytouch"

const (
	// authStepDelay is the settle time the thermostat needs after a
	// password write before it accepts commands.
	authStepDelay = 200 * time.Millisecond

	// statusInterval paces status polls over the open connection.
	statusInterval = 60 * time.Second
)

// Register adds the easytouch factory to a registry.
func Register(r *bridge.Registry) {
	r.RegisterConnectedFactory(PluginType, New)
}

// Driver bridges one EasyTouch thermostat to MQTT.
type Driver struct {
	inst     bridge.Instance
	sink     bridge.Sink
	builder  discovery.Builder
	log      bridge.Logger
	password string
	zone     int

	manager *ble.Manager

	mu         sync.Mutex
	peripheral ble.Peripheral
	status     *Status
}

// New creates an easytouch driver for one instance.
//
// Instance config keys: password (session unlock, required by most
// firmware), zone (thermostat zone number, default 0).
func New(inst bridge.Instance, deps bridge.Deps) (bridge.Driver, error) {
	if inst.MAC == "" {
		return nil, fmt.Errorf("%w: easytouch requires a mac", bridge.ErrInvalidInstance)
	}
	if deps.Adapter == nil {
		return nil, fmt.Errorf("%w: easytouch requires a ble adapter", bridge.ErrInvalidInstance)
	}

	zone := 0
	if z := inst.Config["zone"]; z != "" {
		n, err := strconv.Atoi(z)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: easytouch zone %q", bridge.ErrInvalidInstance, z)
		}
		zone = n
	}

	d := &Driver{
		inst:     inst,
		sink:     deps.Sink,
		builder:  deps.Discovery,
		log:      depsLogger(deps),
		password: inst.Config["password"],
		zone:     zone,
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

// session authenticates and polls for status until the context is
// cancelled or the subscription fails.
func (d *Driver) session(ctx context.Context, p ble.Peripheral) error {
	if err := d.authenticate(ctx, p); err != nil {
		return err
	}

	d.setPeripheral(p)
	defer d.setPeripheral(nil)

	replies := make(chan []byte, 4)
	err := p.Notify(ServiceUUID, StatusCharUUID, func(data []byte) {
		select {
		case replies <- data:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to status replies: %w", err)
	}

	d.requestStatus(p)

	poll := time.NewTicker(statusInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			d.requestStatus(p)
		case reply := <-replies:
			d.handleReply(reply)
		}
	}
}

// authenticate writes the session password and waits out the settle
// delay the firmware needs before the command characteristic is live.
func (d *Driver) authenticate(ctx context.Context, p ble.Peripheral) error {
	if d.password == "" {
		return nil
	}
	if err := p.Write(ServiceUUID, PasswordCharUUID, []byte(d.password)); err != nil {
		return fmt.Errorf("writing password: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(authStepDelay):
	}
	return nil
}

func (d *Driver) setPeripheral(p ble.Peripheral) {
	d.mu.Lock()
	d.peripheral = p
	d.mu.Unlock()
}

func (d *Driver) currentPeripheral() ble.Peripheral {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peripheral
}

func (d *Driver) requestStatus(p ble.Peripheral) {
	if err := p.Write(ServiceUUID, CommandCharUUID, EncodeGetStatus(d.zone)); err != nil {
		d.log.Warn("status request failed", "instance", d.inst.ID, "error", err)
	}
}

// handleReply decodes one notification. Command acknowledgements share
// the characteristic with status reports and are ignored.
func (d *Driver) handleReply(data []byte) {
	status, err := DecodeStatus(data)
	if err != nil {
		d.log.Debug("ignoring reply", "instance", d.inst.ID, "error", err)
		return
	}

	d.mu.Lock()
	d.status = &status
	d.mu.Unlock()

	d.publishStatus(status)
}

func (d *Driver) currentStatus() *Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) publishStatus(s Status) {
	fields := map[string]string{
		"mode":                s.HAMode(),
		"action":              s.HAAction(),
		"current_temperature": strconv.Itoa(s.Ambient),
		"target_temperature":  strconv.Itoa(s.TargetSetpoint()),
		"fan_mode":            s.HAFanMode(),
		"fault":               strconv.Itoa(s.Fault),
	}
	if s.OutsideValid {
		fields["outside_temperature"] = strconv.Itoa(s.Outside)
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

// currentMode returns the last reported device mode, or off before the
// first status arrives.
func (d *Driver) currentMode() int {
	if s := d.currentStatus(); s != nil {
		return s.Mode
	}
	return ModeOff
}

// HandleCommand translates a climate command into a settings change.
func (d *Driver) HandleCommand(_ context.Context, deviceID, field string, payload []byte) error {
	if deviceID != d.inst.ID {
		return fmt.Errorf("%w: device %s", bridge.ErrNoMatchingInstance, deviceID)
	}

	value := strings.TrimSpace(string(payload))
	changes := make(map[string]int)

	switch field {
	case "mode":
		mode, ok := deviceMode(value)
		if !ok {
			return fmt.Errorf("%w: mode %q", bridge.ErrDecode, value)
		}
		changes["mode"] = mode

	case "target_temperature":
		temp, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: temperature %q", bridge.ErrDecode, value)
		}
		changes[setpointFieldForMode(d.currentMode())] = ClampSetpoint(int(temp + 0.5))

	case "fan_mode":
		speed, ok := fanValue(value)
		if !ok {
			return fmt.Errorf("%w: fan mode %q", bridge.ErrDecode, value)
		}
		changes[fanFieldForMode(d.currentMode())] = speed

	default:
		return fmt.Errorf("%w: easytouch field %s", bridge.ErrUnsupportedCommand, field)
	}

	p := d.currentPeripheral()
	if p == nil {
		return fmt.Errorf("thermostat %s is not connected", d.inst.ID)
	}
	if err := p.Write(ServiceUUID, CommandCharUUID, EncodeChange(d.zone, changes)); err != nil {
		return fmt.Errorf("writing change command: %w", err)
	}

	// Confirm the change by refreshing instead of trusting the echo.
	d.requestStatus(p)
	return nil
}

func (d *Driver) publishDiscovery() error {
	device := d.builder.DeviceInfo(d.inst.ID, d.inst.DisplayName, "Micro-Air", "EasyTouch RV Thermostat")
	avail := d.builder.AvailabilityFor(PluginType, d.inst.ID)

	climate := discovery.Climate{
		UniqueID:                d.inst.ID + "_climate",
		Name:                    "Thermostat",
		Modes:                   []string{"off", "heat", "cool", "auto", "fan_only", "dry"},
		ModeStateTopic:          d.stateTopic("mode"),
		ModeCommandTopic:        d.commandTopic("mode"),
		CurrentTemperatureTopic: d.stateTopic("current_temperature"),
		TemperatureStateTopic:   d.stateTopic("target_temperature"),
		TemperatureCommandTopic: d.commandTopic("target_temperature"),
		FanModes:                []string{"auto", "low", "high"},
		FanModeStateTopic:       d.stateTopic("fan_mode"),
		FanModeCommandTopic:     d.commandTopic("fan_mode"),
		ActionTopic:             d.stateTopic("action"),
		MinTemp:                 MinSetpointF,
		MaxTemp:                 MaxSetpointF,
		TempStep:                1,
		TemperatureUnit:         "F",
		Availability:            avail,
		AvailabilityMode:        "all",
		Device:                  device,
	}
	if err := d.publishEntity("climate", "climate", climate); err != nil {
		return err
	}

	outside := discovery.Sensor{
		UniqueID:          d.inst.ID + "_outside_temperature",
		Name:              "Outside Temperature",
		StateTopic:        d.stateTopic("outside_temperature"),
		DeviceClass:       "temperature",
		UnitOfMeasurement: "°F",
		StateClass:        "measurement",
		Availability:      avail,
		AvailabilityMode:  "all",
		Device:            device,
	}
	if err := d.publishEntity("sensor", "outside_temperature", outside); err != nil {
		return err
	}

	fault := discovery.Sensor{
		UniqueID:         d.inst.ID + "_fault",
		Name:             "Fault",
		StateTopic:       d.stateTopic("fault"),
		Icon:             "mdi:alert-circle-outline",
		Availability:     avail,
		AvailabilityMode: "all",
		Device:           device,
	}
	return d.publishEntity("sensor", "fault", fault)
}

func (d *Driver) publishEntity(component, entityID string, cfg any) error {
	payload, err := discovery.Marshal(cfg)
	if err != nil {
		return err
	}
	return d.sink.PublishDiscovery(d.builder.ConfigTopic(component, d.inst.ID, entityID), payload)
}

func (d *Driver) stateTopic(field string) string {
	return d.sink.Prefix() + "/" + PluginType + "/" + d.inst.ID + "/" + field
}

func (d *Driver) commandTopic(field string) string {
	return d.stateTopic(field) + "/set"
}
