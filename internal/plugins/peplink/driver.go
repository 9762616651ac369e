package peplink

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

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
	"github.com/phurth/ble-plugin-bridge/internal/bridge/discovery"
	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/database"
)

// PluginType identifies this plugin in config and topics.
const PluginType = "peplink"

// defaultPollInterval paces status polls. Routers tolerate much more,
// but WAN state rarely changes faster than this.
const defaultPollInterval = 30 * time.Second

// defaultWANIDs are the connection slots queried when the instance
// doesn't name its own.
var defaultWANIDs = []int{1, 2, 3, 4, 5}

// Register adds the peplink factory to a registry.
func Register(r *bridge.Registry) {
	r.RegisterPolledFactory(PluginType, New)
}

// wanEntry is one cached WAN in the topology document.
type wanEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// topology is the cached router inventory, stored as the hardware
// record's JSON document.
type topology struct {
	WANs     []wanEntry `json:"wans"`
	Firmware string     `json:"firmware,omitempty"`
}

// Driver bridges one Peplink router to MQTT.
type Driver struct {
	inst     bridge.Instance
	sink     bridge.Sink
	builder  discovery.Builder
	hardware bridge.HardwareStore
	log      bridge.Logger
	client   *Client
	wanIDs   []int

	mu        sync.Mutex
	announced bool
	topo      topology
}

// New creates a peplink driver for one instance.
//
// Instance config keys: username, password (router admin credentials,
// required), poll_interval (seconds, default 30).
func New(inst bridge.Instance, deps bridge.Deps) (bridge.PolledDriver, time.Duration, error) {
	if inst.Host == "" {
		return nil, 0, fmt.Errorf("%w: peplink requires a host", bridge.ErrInvalidInstance)
	}
	if inst.Config["username"] == "" || inst.Config["password"] == "" {
		return nil, 0, fmt.Errorf("%w: peplink requires username and password", bridge.ErrInvalidInstance)
	}

	interval := defaultPollInterval
	if v := inst.Config["poll_interval"]; v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			return nil, 0, fmt.Errorf("%w: peplink poll_interval %q", bridge.ErrInvalidInstance, v)
		}
		interval = time.Duration(seconds) * time.Second
	}

	log := depsLogger(deps)
	d := &Driver{
		inst:     inst,
		sink:     deps.Sink,
		builder:  deps.Discovery,
		hardware: deps.Hardware,
		log:      log,
		client:   NewClient(inst.Host, inst.Config["username"], inst.Config["password"], log),
		wanIDs:   defaultWANIDs,
	}
	return d, interval, nil
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

// Poll fetches WAN status and allowance and publishes the results.
// The first successful poll also runs hardware discovery.
func (d *Driver) Poll(ctx context.Context) error {
	if err := d.ensureDiscovered(ctx); err != nil {
		d.publishAvailability(false)
		return err
	}

	status, err := d.client.WANStatus(ctx, d.wanIDs)
	if err != nil {
		d.publishAvailability(false)
		return fmt.Errorf("polling wan status: %w", err)
	}
	d.publishAvailability(true)

	for _, conn := range status {
		d.publishConnection(conn)
	}

	// Allowance data is secondary; a failure doesn't fail the poll.
	usage, err := d.client.WANUsage(ctx)
	if err != nil {
		d.log.Warn("usage poll failed", "instance", d.inst.ID, "error", err)
		return nil
	}
	for _, entry := range usage {
		d.publishUsage(entry)
	}
	return nil
}

// DiscoverHardware enumerates the router's WANs and caches the result.
// Idempotent; a fresh cached record short-circuits the API calls.
func (d *Driver) DiscoverHardware(ctx context.Context) error {
	if d.restoreTopology(ctx) {
		return nil
	}

	status, err := d.client.WANStatus(ctx, d.wanIDs)
	if err != nil {
		return fmt.Errorf("discovering wans: %w", err)
	}

	topo := topology{}
	for id, conn := range status {
		topo.WANs = append(topo.WANs, wanEntry{ID: id, Name: conn.Name, Type: conn.Type})
	}
	sort.Slice(topo.WANs, func(i, j int) bool { return topo.WANs[i].ID < topo.WANs[j].ID })

	if version, err := d.client.FirmwareVersion(ctx); err == nil {
		topo.Firmware = version
	} else {
		d.log.Debug("firmware query failed", "instance", d.inst.ID, "error", err)
	}

	d.saveTopology(ctx, topo)
	d.applyTopology(topo)
	return nil
}

func (d *Driver) ensureDiscovered(ctx context.Context) error {
	d.mu.Lock()
	done := d.announced
	d.mu.Unlock()
	if done {
		return nil
	}
	return d.DiscoverHardware(ctx)
}

// restoreTopology applies a cached record if one exists and is fresh.
func (d *Driver) restoreTopology(ctx context.Context) bool {
	if d.hardware == nil {
		return false
	}

	rec, err := d.hardware.LoadHardwareConfig(ctx, d.inst.ID)
	if err != nil {
		if !errors.Is(err, database.ErrHardwareNotFound) {
			d.log.Warn("topology load failed", "instance", d.inst.ID, "error", err)
		}
		return false
	}
	if rec.IsStale(time.Now()) {
		d.log.Info("cached topology is stale, re-discovering", "instance", d.inst.ID)
		return false
	}

	var topo topology
	if err := json.Unmarshal(rec.Topology, &topo); err != nil {
		d.log.Warn("topology decode failed", "instance", d.inst.ID, "error", err)
		return false
	}
	d.applyTopology(topo)
	return true
}

func (d *Driver) saveTopology(ctx context.Context, topo topology) {
	if d.hardware == nil {
		return
	}
	doc, err := json.Marshal(topo)
	if err != nil {
		return
	}
	err = d.hardware.SaveHardwareConfig(ctx, database.HardwareRecord{
		InstanceID:   d.inst.ID,
		Topology:     doc,
		DiscoveredAt: time.Now(),
	})
	if err != nil {
		d.log.Warn("topology save failed", "instance", d.inst.ID, "error", err)
	}
}

// applyTopology publishes discovery for every cached WAN.
func (d *Driver) applyTopology(topo topology) {
	d.mu.Lock()
	d.topo = topo
	d.announced = true
	d.mu.Unlock()

	if err := d.publishDiscovery(topo); err != nil {
		d.log.Warn("discovery publish failed", "instance", d.inst.ID, "error", err)
	}
}

func (d *Driver) publishAvailability(online bool) {
	if err := d.sink.PublishAvailability(PluginType, d.inst.ID, online); err != nil {
		d.log.Warn("availability publish failed", "instance", d.inst.ID, "error", err)
	}
}

func (d *Driver) wanDeviceID(connID int) string {
	return d.inst.ID + "_wan_" + strconv.Itoa(connID)
}

func (d *Driver) publishConnection(conn WANConnection) {
	deviceID := d.wanDeviceID(conn.ConnID)
	fields := map[string]string{
		"status":   conn.Status,
		"ip":       conn.IP,
		"uptime":   strconv.Itoa(conn.Uptime),
		"priority": strconv.Itoa(conn.Priority),
	}
	if conn.Cellular != nil {
		fields["signal"] = strconv.Itoa(conn.Cellular.SignalStrength)
		fields["carrier"] = conn.Cellular.Carrier
		fields["network_type"] = conn.Cellular.NetworkType
	}
	if conn.WiFi != nil {
		fields["signal"] = strconv.Itoa(conn.WiFi.SignalStrength)
		fields["ssid"] = conn.WiFi.SSID
	}
	for field, value := range fields {
		d.publishState(deviceID, field, value)
	}
}

func (d *Driver) publishUsage(entry Usage) {
	deviceID := d.wanDeviceID(entry.ConnID)

	if entry.Slots != nil {
		for slotID, slot := range entry.Slots {
			prefix := "sim" + strconv.Itoa(slotID) + "_"
			if !slot.Tracked {
				continue
			}
			d.publishState(deviceID, prefix+"usage", strconv.FormatInt(slot.Usage, 10))
			d.publishState(deviceID, prefix+"limit", strconv.FormatInt(slot.Limit, 10))
			d.publishState(deviceID, prefix+"usage_percent", strconv.Itoa(slot.Percent))
		}
		return
	}

	if !entry.Tracked {
		return
	}
	d.publishState(deviceID, "usage", strconv.FormatInt(entry.Usage, 10))
	d.publishState(deviceID, "limit", strconv.FormatInt(entry.Limit, 10))
	d.publishState(deviceID, "usage_percent", strconv.Itoa(entry.Percent))
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

// HandleCommand translates a command topic write into a router API
// call. Device IDs look like {instance}_wan_{n}.
func (d *Driver) HandleCommand(ctx context.Context, deviceID, field string, payload []byte) error {
	suffix, ok := strings.CutPrefix(deviceID, d.inst.ID+"_wan_")
	if !ok {
		return fmt.Errorf("%w: device %s", bridge.ErrNoMatchingInstance, deviceID)
	}
	connID, err := strconv.Atoi(suffix)
	if err != nil || connID <= 0 {
		return fmt.Errorf("%w: device %s", bridge.ErrNoMatchingInstance, deviceID)
	}

	value := strings.TrimSpace(string(payload))
	switch field {
	case "priority":
		priority, err := strconv.Atoi(value)
		if err != nil || priority < 0 || priority > 4 {
			return fmt.Errorf("%w: priority %q", bridge.ErrDecode, value)
		}
		if err := d.client.SetWANPriority(ctx, connID, priority); err != nil {
			return err
		}
		// Reflect the accepted value ahead of the next poll.
		d.publishState(deviceID, "priority", strconv.Itoa(priority))
		return nil

	case "reset":
		return d.client.ResetCellular(ctx, connID)

	default:
		return fmt.Errorf("%w: peplink field %s", bridge.ErrUnsupportedCommand, field)
	}
}

func (d *Driver) publishDiscovery(topo topology) error {
	device := d.builder.DeviceInfo(d.inst.ID, d.inst.DisplayName, "Peplink", "Router")
	device.SWVersion = topo.Firmware
	avail := d.builder.AvailabilityFor(PluginType, d.inst.ID)

	for _, wan := range topo.WANs {
		deviceID := d.wanDeviceID(wan.ID)

		sensors := []discovery.Sensor{
			{Name: wan.Name + " Status", StateTopic: d.stateTopic(deviceID, "status"), Icon: "mdi:wan"},
			{Name: wan.Name + " IP", StateTopic: d.stateTopic(deviceID, "ip"), Icon: "mdi:ip-network"},
			{Name: wan.Name + " Uptime", StateTopic: d.stateTopic(deviceID, "uptime"), DeviceClass: "duration", UnitOfMeasurement: "s", StateClass: "measurement"},
			{Name: wan.Name + " Usage", StateTopic: d.stateTopic(deviceID, "usage"), DeviceClass: "data_size", UnitOfMeasurement: "MB", StateClass: "total_increasing"},
			{Name: wan.Name + " Usage Percent", StateTopic: d.stateTopic(deviceID, "usage_percent"), UnitOfMeasurement: "%", StateClass: "measurement"},
		}
		if wan.Type == TypeCellular || wan.Type == TypeWiFi {
			sensors = append(sensors, discovery.Sensor{
				Name:              wan.Name + " Signal",
				StateTopic:        d.stateTopic(deviceID, "signal"),
				DeviceClass:       "signal_strength",
				UnitOfMeasurement: "dBm",
				StateClass:        "measurement",
			})
		}

		for i := range sensors {
			s := &sensors[i]
			field := s.StateTopic[strings.LastIndexByte(s.StateTopic, '/')+1:]
			s.UniqueID = deviceID + "_" + field
			s.Availability = avail
			s.AvailabilityMode = "all"
			s.Device = device
			if err := d.publishEntity("sensor", s.UniqueID, s); err != nil {
				return err
			}
		}

		priority := discovery.Number{
			UniqueID:         deviceID + "_priority",
			Name:             wan.Name + " Priority",
			StateTopic:       d.stateTopic(deviceID, "priority"),
			CommandTopic:     d.stateTopic(deviceID, "priority") + "/set",
			Min:              0,
			Max:              4,
			Step:             1,
			Mode:             "box",
			Availability:     avail,
			AvailabilityMode: "all",
			Device:           device,
		}
		if err := d.publishEntity("number", priority.UniqueID, priority); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) publishEntity(component, entityID string, cfg any) error {
	payload, err := discovery.Marshal(cfg)
	if err != nil {
		return err
	}
	return d.sink.PublishDiscovery(d.builder.ConfigTopic(component, d.inst.ID, entityID), payload)
}

func (d *Driver) stateTopic(deviceID, field string) string {
	return d.sink.Prefix() + "/" + PluginType + "/" + deviceID + "/" + field
}
