package onecontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phurth/ble-plugin-bridge/internal/ble"
	"github.com/phurth/ble-plugin-bridge/internal/bridge"
	"github.com/phurth/ble-plugin-bridge/internal/bridge/discovery"
	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/database"
)

// PluginType identifies this plugin in config and topics.
const PluginType = "onecontrol"

// Gateway GATT layout.
const (
	DataServiceUUID   = "00000030-0200-a58e-e411-afe28044e62c"
	DataWriteCharUUID = "00000033-0200-a58e-e411-afe28044e62c"
	DataReadCharUUID  = "00000034-0200-a58e-e411-afe28044e62c"

	AuthServiceUUID      = "00000010-0200-a58e-e411-afe28044e62c"
	SeedCharUUID         = "00000011-0200-a58e-e411-afe28044e62c"
	UnlockStatusCharUUID = "00000012-0200-a58e-e411-afe28044e62c"
	KeyCharUUID          = "00000013-0200-a58e-e411-afe28044e62c"
	AuthStatusCharUUID   = "00000014-0200-a58e-e411-afe28044e62c"
)

// heartbeatInterval paces keepalive GetDevices queries; the gateway
// drops idle connections.
const heartbeatInterval = 30 * time.Second

// Register adds the onecontrol factory to a registry.
func Register(r *bridge.Registry) {
	r.RegisterConnectedFactory(PluginType, New)
}

// topology is the cached device inventory, stored as the hardware
// record's JSON document.
type topology struct {
	Relays    []int `json:"relays,omitempty"`
	Lights    []int `json:"lights,omitempty"`
	RGBLights []int `json:"rgb_lights,omitempty"`
	Tanks     []int `json:"tanks,omitempty"`
}

// Driver bridges one OneControl gateway to MQTT.
type Driver struct {
	inst     bridge.Instance
	sink     bridge.Sink
	builder  discovery.Builder
	hardware bridge.HardwareStore
	log      bridge.Logger
	pin      string

	manager *ble.Manager
	decoder *FrameDecoder

	mu         sync.Mutex
	peripheral ble.Peripheral
	tableID    byte
	nextCmdID  uint16
	announced  map[string]bool
}

// New creates a onecontrol driver for one instance.
//
// Instance config keys: pin (legacy gateway unlock PIN, optional).
func New(inst bridge.Instance, deps bridge.Deps) (bridge.Driver, error) {
	if inst.MAC == "" {
		return nil, fmt.Errorf("%w: onecontrol requires a mac", bridge.ErrInvalidInstance)
	}
	if deps.Adapter == nil {
		return nil, fmt.Errorf("%w: onecontrol requires a ble adapter", bridge.ErrInvalidInstance)
	}

	d := &Driver{
		inst:      inst,
		sink:      deps.Sink,
		builder:   deps.Discovery,
		hardware:  deps.Hardware,
		log:       depsLogger(deps),
		pin:       inst.Config["pin"],
		decoder:   NewFrameDecoder(),
		tableID:   DefaultDeviceTableID,
		nextCmdID: 1,
		announced: make(map[string]bool),
	}

	manager, err := ble.NewManager(ble.ManagerOptions{
		Adapter:       deps.Adapter,
		MAC:           inst.MAC,
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

// Start re-announces cached entities and launches the connection
// manager.
func (d *Driver) Start(ctx context.Context) error {
	d.restoreTopology(ctx)
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

// session unlocks the gateway and consumes the event stream until the
// context is cancelled or the subscription fails.
func (d *Driver) session(ctx context.Context, p ble.Peripheral) error {
	d.decoder.Reset()

	if err := d.unlock(p); err != nil {
		// Some gateways boot unlocked; try the stream anyway.
		d.log.Warn("gateway unlock failed", "instance", d.inst.ID, "error", err)
	}

	d.setPeripheral(p)
	defer d.setPeripheral(nil)

	chunks := make(chan []byte, 16)
	err := p.Notify(DataServiceUUID, DataReadCharUUID, func(data []byte) {
		select {
		case chunks <- data:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to event stream: %w", err)
	}

	d.sendGetDevices(p)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			d.sendGetDevices(p)
		case chunk := <-chunks:
			for _, frame := range d.decoder.Push(chunk) {
				d.dispatch(frame)
			}
		}
	}
}

// unlock performs the TEA handshake. The unlock-status characteristic
// either reads as the text "Unlocked" or as a 4-byte challenge; legacy
// firmware instead exposes a seed answered with a PIN-augmented key.
func (d *Driver) unlock(p ble.Peripheral) error {
	status, err := p.Read(AuthServiceUUID, UnlockStatusCharUUID)
	if err != nil {
		return fmt.Errorf("reading unlock status: %w", err)
	}
	if isUnlocked(status) {
		return nil
	}

	switch {
	case len(status) == 4:
		key, err := challengeResponse(status)
		if err != nil {
			return err
		}
		if err := p.Write(AuthServiceUUID, KeyCharUUID, key); err != nil {
			return fmt.Errorf("writing unlock key: %w", err)
		}
	case d.pin != "":
		seed, err := p.Read(AuthServiceUUID, SeedCharUUID)
		if err != nil {
			return fmt.Errorf("reading unlock seed: %w", err)
		}
		key, err := legacyAuthKey(seed, d.pin)
		if err != nil {
			return err
		}
		if err := p.Write(AuthServiceUUID, KeyCharUUID, key); err != nil {
			return fmt.Errorf("writing unlock key: %w", err)
		}
	default:
		return fmt.Errorf("unexpected unlock status (%d bytes) and no pin configured", len(status))
	}

	status, err = p.Read(AuthServiceUUID, UnlockStatusCharUUID)
	if err != nil {
		return fmt.Errorf("verifying unlock: %w", err)
	}
	if !isUnlocked(status) {
		return errors.New("gateway rejected unlock key")
	}
	return nil
}

func isUnlocked(status []byte) bool {
	return strings.Contains(strings.ToLower(string(status)), "unlocked")
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

// commandID returns the next client command id, wrapping inside the
// 1..0xFFFE window the gateway treats as valid.
func (d *Driver) commandID() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextCmdID
	if d.nextCmdID >= 0xFFFE {
		d.nextCmdID = 1
	} else {
		d.nextCmdID++
	}
	return id
}

func (d *Driver) currentTableID() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tableID
}

func (d *Driver) setTableID(id byte) {
	d.mu.Lock()
	d.tableID = id
	d.mu.Unlock()
}

func (d *Driver) sendGetDevices(p ble.Peripheral) {
	cmd := EncodeGetDevices(d.commandID(), d.currentTableID())
	if err := d.writeCommand(p, cmd); err != nil {
		d.log.Warn("get devices failed", "instance", d.inst.ID, "error", err)
	}
}

func (d *Driver) writeCommand(p ble.Peripheral, cmd []byte) error {
	return p.Write(DataServiceUUID, DataWriteCharUUID, EncodeFrame(cmd))
}

// dispatch routes one decoded frame by event type.
func (d *Driver) dispatch(frame []byte) {
	if len(frame) == 0 {
		return
	}

	switch frame[0] {
	case EventGatewayInfo:
		info, err := ParseGatewayInfo(frame)
		if err != nil {
			return
		}
		d.setTableID(info.TableID)
		d.log.Info("gateway announced device table",
			"instance", d.inst.ID, "table", info.TableID)

	case EventDeviceOnline:
		status, err := ParseDeviceOnline(frame)
		if err != nil {
			return
		}
		d.log.Debug("device online status",
			"instance", d.inst.ID,
			"device", status.DeviceID,
			"online", status.Online)

	case EventRelayStatus1, EventRelayStatus2:
		for _, s := range ParseRelayStatus(frame) {
			d.announceRelay(s.DeviceID)
			d.publishState(d.entityID("relay", s.DeviceID), "state", onOff(s.On))
		}

	case EventDimmableStatus:
		for _, s := range ParseDimmableStatus(frame) {
			d.announceLight(s.DeviceID)
			id := d.entityID("light", s.DeviceID)
			d.publishState(id, "state", onOff(s.On))
			d.publishState(id, "brightness", strconv.Itoa(int(s.Brightness)))
		}

	case EventRGBStatus:
		for _, s := range ParseRGBStatus(frame) {
			d.announceRGB(s.DeviceID)
			id := d.entityID("rgb", s.DeviceID)
			d.publishState(id, "state", onOff(s.On()))
			d.publishState(id, "rgb", fmt.Sprintf("%d,%d,%d", s.Red, s.Green, s.Blue))
			d.publishState(id, "effect", s.EffectName())
		}

	case EventTankStatus, EventTankStatusV2:
		s, err := ParseTankStatus(frame)
		if err != nil {
			return
		}
		d.announceTank(s.DeviceID)
		d.publishState(d.entityID("tank", s.DeviceID), "level", strconv.Itoa(int(s.Level)))

	case EventHvacStatus:
		d.log.Debug("hvac status event", "instance", d.inst.ID, "bytes", len(frame))

	default:
		if IsCommandResponse(frame) {
			d.log.Debug("command response", "instance", d.inst.ID, "bytes", len(frame))
			return
		}
		d.log.Debug("unknown event",
			"instance", d.inst.ID,
			"event", fmt.Sprintf("0x%02X", frame[0]))
	}
}

func (d *Driver) entityID(kind string, deviceID byte) string {
	return d.inst.ID + "_" + kind + "_" + strconv.Itoa(int(deviceID))
}

func (d *Driver) publishState(deviceID, field, value string) {
	if err := d.sink.PublishState(PluginType, deviceID, field, []byte(value)); err != nil {
		d.log.Warn("state publish failed",
			"instance", d.inst.ID,
			"device", deviceID,
			"field", field,
			"error", err)
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// HandleCommand translates a command topic write into a gateway action.
// Device IDs look like {instance}_{kind}_{n}.
func (d *Driver) HandleCommand(_ context.Context, deviceID, field string, payload []byte) error {
	kind, devID, err := d.parseEntityID(deviceID)
	if err != nil {
		return err
	}

	var cmd []byte
	value := strings.TrimSpace(string(payload))
	on := strings.EqualFold(value, "ON")

	switch {
	case kind == "relay" && field == "state":
		cmd, err = EncodeSwitch(d.commandID(), d.currentTableID(), on, devID)
		if err != nil {
			return err
		}

	case kind == "light" && field == "state":
		mode := byte(LightOff)
		if on {
			mode = LightRestore
		}
		cmd = EncodeDimmable(d.commandID(), d.currentTableID(), devID, mode, 0)

	case kind == "light" && field == "brightness":
		brightness, err := strconv.Atoi(value)
		if err != nil || brightness < 0 || brightness > 255 {
			return fmt.Errorf("%w: brightness %q", bridge.ErrDecode, value)
		}
		cmd = EncodeDimmable(d.commandID(), d.currentTableID(), devID, LightOn, byte(brightness))

	case kind == "rgb" && field == "state":
		mode := byte(RGBModeOff)
		if on {
			mode = RGBModeRestore
		}
		cmd = EncodeRGB(d.commandID(), d.currentTableID(), devID, mode, 0, 0, 0)

	case kind == "rgb" && field == "rgb":
		r, g, b, err := parseRGBPayload(value)
		if err != nil {
			return err
		}
		cmd = EncodeRGB(d.commandID(), d.currentTableID(), devID, RGBModeSolid, r, g, b)

	default:
		return fmt.Errorf("%w: onecontrol %s/%s", bridge.ErrUnsupportedCommand, kind, field)
	}

	p := d.currentPeripheral()
	if p == nil {
		return fmt.Errorf("gateway %s is not connected", d.inst.ID)
	}
	return d.writeCommand(p, cmd)
}

// parseEntityID splits {instance}_{kind}_{n} into kind and device id.
func (d *Driver) parseEntityID(deviceID string) (string, byte, error) {
	suffix, ok := strings.CutPrefix(deviceID, d.inst.ID+"_")
	if !ok {
		return "", 0, fmt.Errorf("%w: device %s", bridge.ErrNoMatchingInstance, deviceID)
	}
	kind, num, ok := strings.Cut(suffix, "_")
	if !ok {
		return "", 0, fmt.Errorf("%w: device %s", bridge.ErrNoMatchingInstance, deviceID)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 || n > 255 {
		return "", 0, fmt.Errorf("%w: device %s", bridge.ErrNoMatchingInstance, deviceID)
	}
	return kind, byte(n), nil
}

// parseRGBPayload parses the "r,g,b" form Home Assistant publishes on
// rgb command topics.
func parseRGBPayload(value string) (byte, byte, byte, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: rgb payload %q", bridge.ErrDecode, value)
	}
	var channels [3]byte
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 255 {
			return 0, 0, 0, fmt.Errorf("%w: rgb payload %q", bridge.ErrDecode, value)
		}
		channels[i] = byte(n)
	}
	return channels[0], channels[1], channels[2], nil
}

// announce publishes discovery for an entity the first time it is seen
// and persists the updated topology.
func (d *Driver) announce(kind string, deviceID byte, publish func(entityID string) error) {
	key := kind + "_" + strconv.Itoa(int(deviceID))
	d.mu.Lock()
	if d.announced[key] {
		d.mu.Unlock()
		return
	}
	d.announced[key] = true
	d.mu.Unlock()

	if err := publish(d.inst.ID + "_" + key); err != nil {
		d.log.Warn("discovery publish failed",
			"instance", d.inst.ID,
			"entity", key,
			"error", err)
	}
	d.saveTopology()
}

func (d *Driver) announceRelay(deviceID byte) {
	d.announce("relay", deviceID, func(entityID string) error {
		cfg := discovery.Switch{
			UniqueID:         entityID,
			Name:             fmt.Sprintf("Relay %d", deviceID),
			StateTopic:       d.stateTopic(entityID, "state"),
			CommandTopic:     d.commandTopic(entityID, "state"),
			PayloadOn:        "ON",
			PayloadOff:       "OFF",
			Availability:     d.availability(),
			AvailabilityMode: "all",
			Device:           d.deviceInfo(),
		}
		return d.publishDiscovery("switch", entityID, cfg)
	})
}

func (d *Driver) announceLight(deviceID byte) {
	d.announce("light", deviceID, func(entityID string) error {
		cfg := discovery.Light{
			UniqueID:               entityID,
			Name:                   fmt.Sprintf("Light %d", deviceID),
			StateTopic:             d.stateTopic(entityID, "state"),
			CommandTopic:           d.commandTopic(entityID, "state"),
			BrightnessStateTopic:   d.stateTopic(entityID, "brightness"),
			BrightnessCommandTopic: d.commandTopic(entityID, "brightness"),
			BrightnessScale:        255,
			PayloadOn:              "ON",
			PayloadOff:             "OFF",
			Availability:           d.availability(),
			AvailabilityMode:       "all",
			Device:                 d.deviceInfo(),
		}
		return d.publishDiscovery("light", entityID, cfg)
	})
}

func (d *Driver) announceRGB(deviceID byte) {
	d.announce("rgb", deviceID, func(entityID string) error {
		cfg := discovery.Light{
			UniqueID:         entityID,
			Name:             fmt.Sprintf("RGB Light %d", deviceID),
			StateTopic:       d.stateTopic(entityID, "state"),
			CommandTopic:     d.commandTopic(entityID, "state"),
			RGBStateTopic:    d.stateTopic(entityID, "rgb"),
			RGBCommandTopic:  d.commandTopic(entityID, "rgb"),
			PayloadOn:        "ON",
			PayloadOff:       "OFF",
			Availability:     d.availability(),
			AvailabilityMode: "all",
			Device:           d.deviceInfo(),
		}
		return d.publishDiscovery("light", entityID, cfg)
	})
}

func (d *Driver) announceTank(deviceID byte) {
	d.announce("tank", deviceID, func(entityID string) error {
		cfg := discovery.Sensor{
			UniqueID:          entityID,
			Name:              fmt.Sprintf("Tank %d", deviceID),
			StateTopic:        d.stateTopic(entityID, "level"),
			UnitOfMeasurement: "%",
			StateClass:        "measurement",
			Icon:              "mdi:storage-tank",
			Availability:      d.availability(),
			AvailabilityMode:  "all",
			Device:            d.deviceInfo(),
		}
		return d.publishDiscovery("sensor", entityID, cfg)
	})
}

func (d *Driver) publishDiscovery(component, entityID string, cfg any) error {
	payload, err := discovery.Marshal(cfg)
	if err != nil {
		return err
	}
	return d.sink.PublishDiscovery(d.builder.ConfigTopic(component, d.inst.ID, entityID), payload)
}

func (d *Driver) deviceInfo() discovery.Device {
	return d.builder.DeviceInfo(d.inst.ID, d.inst.DisplayName, "Lippert", "OneControl Gateway")
}

func (d *Driver) availability() []discovery.Availability {
	return d.builder.AvailabilityFor(PluginType, d.inst.ID)
}

func (d *Driver) stateTopic(entityID, field string) string {
	return d.sink.Prefix() + "/" + PluginType + "/" + entityID + "/" + field
}

func (d *Driver) commandTopic(entityID, field string) string {
	return d.stateTopic(entityID, field) + "/set"
}

// saveTopology persists the announced entity set so discovery can be
// republished before the gateway reconnects.
func (d *Driver) saveTopology() {
	if d.hardware == nil {
		return
	}

	d.mu.Lock()
	topo := topology{}
	for key := range d.announced {
		kind, num, _ := strings.Cut(key, "_")
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		switch kind {
		case "relay":
			topo.Relays = append(topo.Relays, n)
		case "light":
			topo.Lights = append(topo.Lights, n)
		case "rgb":
			topo.RGBLights = append(topo.RGBLights, n)
		case "tank":
			topo.Tanks = append(topo.Tanks, n)
		}
	}
	d.mu.Unlock()

	sort.Ints(topo.Relays)
	sort.Ints(topo.Lights)
	sort.Ints(topo.RGBLights)
	sort.Ints(topo.Tanks)

	doc, err := json.Marshal(topo)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = d.hardware.SaveHardwareConfig(ctx, database.HardwareRecord{
		InstanceID:   d.inst.ID,
		Topology:     doc,
		DiscoveredAt: time.Now(),
	})
	if err != nil {
		d.log.Warn("topology save failed", "instance", d.inst.ID, "error", err)
	}
}

// restoreTopology republishes discovery for entities cached from a
// previous run, unless the record has gone stale.
func (d *Driver) restoreTopology(ctx context.Context) {
	if d.hardware == nil {
		return
	}

	rec, err := d.hardware.LoadHardwareConfig(ctx, d.inst.ID)
	if err != nil {
		if !errors.Is(err, database.ErrHardwareNotFound) {
			d.log.Warn("topology load failed", "instance", d.inst.ID, "error", err)
		}
		return
	}
	if rec.IsStale(time.Now()) {
		d.log.Info("cached topology is stale, waiting for live discovery",
			"instance", d.inst.ID)
		return
	}

	var topo topology
	if err := json.Unmarshal(rec.Topology, &topo); err != nil {
		d.log.Warn("topology decode failed", "instance", d.inst.ID, "error", err)
		return
	}

	for _, n := range topo.Relays {
		d.announceRelay(byte(n))
	}
	for _, n := range topo.Lights {
		d.announceLight(byte(n))
	}
	for _, n := range topo.RGBLights {
		d.announceRGB(byte(n))
	}
	for _, n := range topo.Tanks {
		d.announceTank(byte(n))
	}
}
