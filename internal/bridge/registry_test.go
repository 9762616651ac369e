package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/config"
	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/mqtt"
)

// stubDriver records lifecycle and command calls.
type stubDriver struct {
	inst Instance

	mu       sync.Mutex
	started  int
	stopped  int
	commands []string
}

func (d *stubDriver) Instance() Instance { return d.inst }

func (d *stubDriver) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started++
	return nil
}

func (d *stubDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped++
}

func (d *stubDriver) HandleCommand(_ context.Context, deviceID, field string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, deviceID+"/"+field+"="+string(payload))
	return nil
}

func (d *stubDriver) commandLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func stubFactory(drivers map[string]*stubDriver) ConnectedFactory {
	return func(inst Instance, _ Deps) (Driver, error) {
		d := &stubDriver{inst: inst}
		drivers[inst.ID] = d
		return d, nil
	}
}

func TestRegistryInstantiateUnknownType(t *testing.T) {
	r := NewRegistry(mqtt.NewTopics("blebridge"))

	_, err := r.Instantiate(config.InstanceConfig{
		PluginType: "toaster",
		MAC:        "AA:BB:CC:DD:EE:FF",
	}, Deps{})
	if !errors.Is(err, ErrUnknownPluginType) {
		t.Errorf("Instantiate() error = %v, want ErrUnknownPluginType", err)
	}
}

func TestRegistryInstantiateDuplicate(t *testing.T) {
	r := NewRegistry(mqtt.NewTopics("blebridge"))
	drivers := make(map[string]*stubDriver)
	r.RegisterConnectedFactory("hughes", stubFactory(drivers))

	cfg := config.InstanceConfig{PluginType: "hughes", MAC: "AA:BB:CC:DD:EE:FF"}
	if _, err := r.Instantiate(cfg, Deps{}); err != nil {
		t.Fatalf("first Instantiate() error = %v", err)
	}
	if _, err := r.Instantiate(cfg, Deps{}); !errors.Is(err, ErrInvalidInstance) {
		t.Errorf("duplicate Instantiate() error = %v, want ErrInvalidInstance", err)
	}
}

func TestRegistryFactoryReplacement(t *testing.T) {
	r := NewRegistry(mqtt.NewTopics("blebridge"))
	drivers := make(map[string]*stubDriver)

	r.RegisterConnectedFactory("hughes", func(Instance, Deps) (Driver, error) {
		t.Fatal("replaced factory should not be called")
		return nil, nil
	})
	r.RegisterConnectedFactory("hughes", stubFactory(drivers))

	if _, err := r.Instantiate(config.InstanceConfig{
		PluginType: "hughes",
		MAC:        "AA:BB:CC:DD:EE:FF",
	}, Deps{}); err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}
}

func TestRegistryStartStopAll(t *testing.T) {
	r := NewRegistry(mqtt.NewTopics("blebridge"))
	drivers := make(map[string]*stubDriver)
	r.RegisterConnectedFactory("hughes", stubFactory(drivers))
	r.RegisterConnectedFactory("easytouch", stubFactory(drivers))

	configs := []config.InstanceConfig{
		{PluginType: "hughes", MAC: "AA:BB:CC:DD:EE:01"},
		{PluginType: "easytouch", MAC: "AA:BB:CC:DD:EE:02"},
	}
	for _, cfg := range configs {
		if _, err := r.Instantiate(cfg, Deps{}); err != nil {
			t.Fatalf("Instantiate(%s) error = %v", cfg.PluginType, err)
		}
	}

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	r.StopAll()

	if r.InstanceCount() != 2 {
		t.Errorf("InstanceCount() = %d, want 2", r.InstanceCount())
	}
	for id, d := range drivers {
		d.mu.Lock()
		started, stopped := d.started, d.stopped
		d.mu.Unlock()
		if started != 1 {
			t.Errorf("%s started %d times, want 1", id, started)
		}
		if stopped != 1 {
			t.Errorf("%s stopped %d times, want 1", id, stopped)
		}
	}
}

func TestRegistryRemoveInstance(t *testing.T) {
	r := NewRegistry(mqtt.NewTopics("blebridge"))
	drivers := make(map[string]*stubDriver)
	r.RegisterConnectedFactory("mopeka", stubFactory(drivers))

	configs := []config.InstanceConfig{
		{PluginType: "mopeka", MAC: "AA:BB:CC:DD:EE:01"},
		{PluginType: "mopeka", MAC: "AA:BB:CC:DD:EE:02"},
	}
	for _, cfg := range configs {
		if _, err := r.Instantiate(cfg, Deps{}); err != nil {
			t.Fatalf("Instantiate(%s) error = %v", cfg.MAC, err)
		}
	}
	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}

	if err := r.Remove("mopeka_ddee01"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	removed, kept := drivers["mopeka_ddee01"], drivers["mopeka_ddee02"]
	removed.mu.Lock()
	stopped := removed.stopped
	removed.mu.Unlock()
	if stopped != 1 {
		t.Errorf("removed instance stopped %d times, want 1", stopped)
	}
	kept.mu.Lock()
	keptStopped := kept.stopped
	kept.mu.Unlock()
	if keptStopped != 0 {
		t.Errorf("sibling instance stopped %d times, want 0", keptStopped)
	}
	if r.InstanceCount() != 1 {
		t.Errorf("InstanceCount() = %d, want 1", r.InstanceCount())
	}

	// Routing to the removed instance fails; the sibling still routes.
	gone := "blebridge/mopeka/mopeka_ddee01/level/set"
	if err := r.RouteCommand(context.Background(), gone, []byte("1")); !errors.Is(err, ErrNoMatchingInstance) {
		t.Errorf("RouteCommand(removed) error = %v, want ErrNoMatchingInstance", err)
	}
	alive := "blebridge/mopeka/mopeka_ddee02/level/set"
	if err := r.RouteCommand(context.Background(), alive, []byte("1")); err != nil {
		t.Errorf("RouteCommand(sibling) error = %v", err)
	}
	if log := kept.commandLog(); len(log) != 1 {
		t.Errorf("sibling command log = %v, want one entry", log)
	}

	if err := r.Remove("mopeka_ddee01"); !errors.Is(err, ErrNoMatchingInstance) {
		t.Errorf("second Remove() error = %v, want ErrNoMatchingInstance", err)
	}
}

func TestRegistryRouteCommand(t *testing.T) {
	r := NewRegistry(mqtt.NewTopics("blebridge"))
	drivers := make(map[string]*stubDriver)
	r.RegisterConnectedFactory("onecontrol", stubFactory(drivers))

	if _, err := r.Instantiate(config.InstanceConfig{
		PluginType: "onecontrol",
		MAC:        "24:0A:C4:9A:58:F0",
	}, Deps{}); err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}

	topic := "blebridge/onecontrol/onecontrol_9a58f0_relay_4/state/set"
	if err := r.RouteCommand(context.Background(), topic, []byte("ON")); err != nil {
		t.Fatalf("RouteCommand() error = %v", err)
	}

	d := drivers["onecontrol_9a58f0"]
	log := d.commandLog()
	if len(log) != 1 || log[0] != "onecontrol_9a58f0_relay_4/state=ON" {
		t.Errorf("command log = %v", log)
	}
}

func TestRegistryRouteCommandNoMatch(t *testing.T) {
	r := NewRegistry(mqtt.NewTopics("blebridge"))
	drivers := make(map[string]*stubDriver)
	r.RegisterConnectedFactory("hughes", stubFactory(drivers))

	if _, err := r.Instantiate(config.InstanceConfig{
		PluginType: "hughes",
		MAC:        "AA:BB:CC:DD:EE:FF",
	}, Deps{}); err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}

	tests := []struct {
		name  string
		topic string
	}{
		{"wrong prefix", "otherbridge/hughes/hughes_ddeeff/volts/set"},
		{"unknown device", "blebridge/hughes/hughes_ffffff/volts/set"},
		{"wrong plugin", "blebridge/mopeka/hughes_ddeeff/volts/set"},
		{"not a command", "blebridge/hughes/hughes_ddeeff/volts"},
		{"too many segments", "blebridge/hughes/hughes_ddeeff/a/b/set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.RouteCommand(context.Background(), tt.topic, []byte("1"))
			if !errors.Is(err, ErrNoMatchingInstance) {
				t.Errorf("RouteCommand(%s) error = %v, want ErrNoMatchingInstance", tt.topic, err)
			}
		})
	}
}

func TestRegistryPolledFactoryWrapped(t *testing.T) {
	r := NewRegistry(mqtt.NewTopics("blebridge"))

	r.RegisterPolledFactory("peplink", func(inst Instance, _ Deps) (PolledDriver, time.Duration, error) {
		return &stubPolled{inst: inst}, 30 * time.Second, nil
	})

	d, err := r.Instantiate(config.InstanceConfig{
		PluginType: "peplink",
		Host:       "192.168.1.1",
	}, Deps{})
	if err != nil {
		t.Fatalf("Instantiate() error = %v", err)
	}

	runner, ok := d.(*PollRunner)
	if !ok {
		t.Fatalf("driver type = %T, want *PollRunner", d)
	}
	if runner.Interval() != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", runner.Interval())
	}
}
