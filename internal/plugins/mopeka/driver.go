package mopeka

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/phurth/ble-plugin-bridge/internal/ble"
	"github.com/phurth/ble-plugin-bridge/internal/bridge"
	"github.com/phurth/ble-plugin-bridge/internal/bridge/discovery"
)

// DefaultMinQuality is the echo quality floor (0-100) below which
// readings are dropped. Quality 0-33 means the sensor could not find a
// clean echo; publishing those jitters the level entity badly.
const DefaultMinQuality = 50

// Register adds the mopeka factory to a registry.
func Register(r *bridge.Registry) {
	r.RegisterConnectedFactory(PluginType, New)
}

// Driver bridges one Mopeka sensor to MQTT. It never connects; a
// Watcher feeds it matching advertisements.
type Driver struct {
	inst    bridge.Instance
	sink    bridge.Sink
	builder discovery.Builder
	log     bridge.Logger

	medium     Medium
	minQuality int
	geometry   *TankGeometry
	watcher    *ble.Watcher

	onlineOnce sync.Once
	modelOnce  sync.Once
}

// New creates a mopeka driver for one instance.
//
// Instance config keys: medium (propane), min_quality (0-100),
// orientation/diameter_mm/length_mm/wall_mm (tank geometry, optional;
// without it only the raw distance is published).
func New(inst bridge.Instance, deps bridge.Deps) (bridge.Driver, error) {
	if inst.MAC == "" {
		return nil, fmt.Errorf("%w: mopeka requires a mac", bridge.ErrInvalidInstance)
	}
	if deps.Adapter == nil {
		return nil, fmt.Errorf("%w: mopeka requires a ble adapter", bridge.ErrInvalidInstance)
	}

	d := &Driver{
		inst:       inst,
		sink:       deps.Sink,
		builder:    deps.Discovery,
		log:        logger(deps),
		medium:     MediumPropane,
		minQuality: DefaultMinQuality,
	}

	if v := inst.Config["medium"]; v != "" {
		d.medium = Medium(v)
	}
	if v := inst.Config["min_quality"]; v != "" {
		q, err := strconv.Atoi(v)
		if err != nil || q < 0 || q > 100 {
			return nil, fmt.Errorf("%w: min_quality %q", bridge.ErrInvalidInstance, v)
		}
		d.minQuality = q
	}

	geometry, err := geometryFromConfig(inst.Config)
	if err != nil {
		return nil, err
	}
	d.geometry = geometry

	watcher, err := ble.NewWatcher(ble.WatcherOptions{
		Adapter: deps.Adapter,
		Match: func(adv ble.Advertisement) bool {
			return adv.MatchesAddr(inst.MAC) && adv.HasManufacturer(ManufacturerID)
		},
		Handle: d.handleAdvertisement,
		Logger: deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	d.watcher = watcher
	return d, nil
}

func logger(deps bridge.Deps) bridge.Logger {
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

// geometryFromConfig parses the optional tank geometry keys. Returns
// nil when none are set.
func geometryFromConfig(cfg map[string]string) (*TankGeometry, error) {
	if cfg["orientation"] == "" && cfg["diameter_mm"] == "" && cfg["length_mm"] == "" {
		return nil, nil
	}

	g := TankGeometry{Orientation: cfg["orientation"]}
	var err error
	if g.DiameterMM, err = parseDimension(cfg, "diameter_mm"); err != nil {
		return nil, err
	}
	if g.LengthMM, err = parseDimension(cfg, "length_mm"); err != nil {
		return nil, err
	}
	if v := cfg["wall_mm"]; v != "" {
		if g.WallMM, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("%w: wall_mm %q", bridge.ErrInvalidInstance, v)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func parseDimension(cfg map[string]string, key string) (float64, error) {
	v, err := strconv.ParseFloat(cfg[key], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", bridge.ErrInvalidInstance, key, cfg[key])
	}
	return v, nil
}

// Instance returns the configured instance.
func (d *Driver) Instance() bridge.Instance { return d.inst }

// Start publishes discovery and begins watching advertisements.
func (d *Driver) Start(ctx context.Context) error {
	if err := d.publishDiscovery("Check Sensor"); err != nil {
		d.log.Warn("discovery publish failed", "instance", d.inst.ID, "error", err)
	}
	return d.watcher.Start(ctx)
}

// Stop stops the advertisement watcher.
func (d *Driver) Stop() {
	d.watcher.Stop()
}

// HandleCommand rejects all commands; the sensor is read-only.
func (d *Driver) HandleCommand(_ context.Context, _, field string, _ []byte) error {
	return fmt.Errorf("%w: mopeka field %s", bridge.ErrUnsupportedCommand, field)
}

func (d *Driver) handleAdvertisement(adv ble.Advertisement) {
	reading, err := Decode(adv.ManufacturerData[ManufacturerID])
	if err != nil {
		d.log.Debug("advertisement decode failed", "instance", d.inst.ID, "error", err)
		return
	}

	d.onlineOnce.Do(func() {
		if err := d.sink.PublishAvailability(PluginType, d.inst.ID, true); err != nil {
			d.log.Warn("availability publish failed", "instance", d.inst.ID, "error", err)
		}
	})

	// The sync byte names the exact model; refresh the registry entry
	// once we know it.
	d.modelOnce.Do(func() {
		if err := d.publishDiscovery(reading.Model.String()); err != nil {
			d.log.Warn("discovery refresh failed", "instance", d.inst.ID, "error", err)
		}
	})

	if reading.Quality < d.minQuality {
		d.log.Debug("reading below quality floor",
			"instance", d.inst.ID,
			"quality", reading.Quality,
			"floor", d.minQuality)
		return
	}

	d.publishReading(reading)
}

func (d *Driver) publishReading(r Reading) {
	distance := r.DistanceMM(d.medium)

	fields := map[string]string{
		"distance":      strconv.FormatFloat(distance, 'f', 1, 64),
		"temperature":   strconv.FormatFloat(r.TemperatureC, 'f', 0, 64),
		"battery":       strconv.FormatFloat(r.BatteryPercent, 'f', 0, 64),
		"battery_volts": strconv.FormatFloat(r.BatteryVolts, 'f', 2, 64),
		"quality":       strconv.Itoa(r.Quality),
		"button":        onOff(r.ButtonPressed),
	}
	if d.geometry != nil {
		fields["level"] = strconv.FormatFloat(d.geometry.FillPercent(distance), 'f', 1, 64)
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

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func (d *Driver) publishDiscovery(model string) error {
	device := d.builder.DeviceInfo(d.inst.ID, d.inst.DisplayName, "Mopeka", model)
	avail := d.builder.AvailabilityFor(PluginType, d.inst.ID)
	prefix := d.sink.Prefix() + "/" + PluginType + "/" + d.inst.ID + "/"

	sensors := []struct {
		field string
		cfg   discovery.Sensor
	}{
		{"distance", discovery.Sensor{Name: "Liquid Distance", DeviceClass: "distance", UnitOfMeasurement: "mm", StateClass: "measurement"}},
		{"temperature", discovery.Sensor{Name: "Temperature", DeviceClass: "temperature", UnitOfMeasurement: "°C", StateClass: "measurement"}},
		{"battery", discovery.Sensor{Name: "Battery", DeviceClass: "battery", UnitOfMeasurement: "%", StateClass: "measurement"}},
		{"quality", discovery.Sensor{Name: "Read Quality", UnitOfMeasurement: "%", Icon: "mdi:signal"}},
	}
	if d.geometry != nil {
		sensors = append(sensors, struct {
			field string
			cfg   discovery.Sensor
		}{"level", discovery.Sensor{Name: "Tank Level", UnitOfMeasurement: "%", StateClass: "measurement", Icon: "mdi:propane-tank"}})
	}

	for _, s := range sensors {
		cfg := s.cfg
		cfg.UniqueID = d.inst.ID + "_" + s.field
		cfg.StateTopic = prefix + s.field
		cfg.Availability = avail
		cfg.AvailabilityMode = "all"
		cfg.Device = device

		payload, err := discovery.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := d.sink.PublishDiscovery(d.builder.ConfigTopic("sensor", d.inst.ID, s.field), payload); err != nil {
			return err
		}
	}

	button := discovery.BinarySensor{
		UniqueID:         d.inst.ID + "_button",
		Name:             "Sync Button",
		StateTopic:       prefix + "button",
		PayloadOn:        "ON",
		PayloadOff:       "OFF",
		Availability:     avail,
		AvailabilityMode: "all",
		Device:           device,
	}
	payload, err := discovery.Marshal(button)
	if err != nil {
		return err
	}
	return d.sink.PublishDiscovery(d.builder.ConfigTopic("binary_sensor", d.inst.ID, "button"), payload)
}
