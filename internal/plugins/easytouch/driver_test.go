package easytouch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phurth/ble-plugin-bridge/internal/ble"
	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

type fakeSink struct {
	mu        sync.Mutex
	state     map[string]string
	discovery map[string]string
}

func newFakeSink() *fakeSink {
	return &fakeSink{state: make(map[string]string), discovery: make(map[string]string)}
}

func (f *fakeSink) PublishState(_, deviceID, field string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[deviceID+"/"+field] = string(payload)
	return nil
}

func (f *fakeSink) PublishAvailability(_, _ string, _ bool) error { return nil }

func (f *fakeSink) PublishDiscovery(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovery[topic] = string(payload)
	return nil
}

func (f *fakeSink) Prefix() string    { return "blebridge" }
func (f *fakeSink) IsConnected() bool { return true }

func (f *fakeSink) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.state[key]
	return v, ok
}

func (f *fakeSink) discoveryTopic(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.discovery[topic]
	return ok
}

// thermostatPeripheral records password and command writes and lets
// tests inject status notifications.
type thermostatPeripheral struct {
	mu        sync.Mutex
	passwords []string
	commands  [][]byte
	notify    func([]byte)
}

func (p *thermostatPeripheral) Read(_, _ string) ([]byte, error) {
	return nil, errors.New("unexpected read")
}

func (p *thermostatPeripheral) Write(_, characteristic string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch characteristic {
	case PasswordCharUUID:
		p.passwords = append(p.passwords, string(data))
		return nil
	case CommandCharUUID:
		p.commands = append(p.commands, append([]byte(nil), data...))
		return nil
	default:
		return errors.New("unexpected write")
	}
}

func (p *thermostatPeripheral) Notify(_, characteristic string, fn func([]byte)) error {
	if characteristic != StatusCharUUID {
		return errors.New("unexpected subscription")
	}
	p.mu.Lock()
	p.notify = fn
	p.mu.Unlock()
	return nil
}

func (p *thermostatPeripheral) Disconnect() error { return nil }

func (p *thermostatPeripheral) inject(status string) bool {
	p.mu.Lock()
	fn := p.notify
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn([]byte(status))
	return true
}

func (p *thermostatPeripheral) writtenPasswords() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.passwords...)
}

func (p *thermostatPeripheral) writtenCommands() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var cmds [][]byte
	for _, c := range p.commands {
		cmds = append(cmds, append([]byte(nil), c...))
	}
	return cmds
}

type thermostatAdapter struct {
	mac        string
	peripheral *thermostatPeripheral
}

func (a *thermostatAdapter) Scan(ctx context.Context) (<-chan ble.Advertisement, error) {
	ch := make(chan ble.Advertisement, 1)
	ch <- ble.Advertisement{Addr: a.mac, LocalName: "EasyTouch 5867"}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (a *thermostatAdapter) Connect(_ context.Context, _ string) (ble.Peripheral, error) {
	return a.peripheral, nil
}

func startDriver(t *testing.T, sink *fakeSink) (*Driver, *thermostatPeripheral) {
	t.Helper()

	peripheral := &thermostatPeripheral{}
	adapter := &thermostatAdapter{mac: "AA:BB:CC:11:22:33", peripheral: peripheral}

	driver, err := New(bridge.Instance{
		ID:          "easytouch_112233",
		PluginType:  PluginType,
		MAC:         "AA:BB:CC:11:22:33",
		DisplayName: "Bedroom Thermostat",
		Config:      map[string]string{"password": "1234"},
	}, bridge.Deps{Adapter: adapter, Sink: sink})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d := driver.(*Driver)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(d.Stop)
	return d, peripheral
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func decodeCommand(t *testing.T, data []byte) (string, map[string]int) {
	t.Helper()
	var msg struct {
		Type    string
		Changes map[string]int
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("command is not json: %v", err)
	}
	return msg.Type, msg.Changes
}

func TestDriverAuthenticatesThenRequestsStatus(t *testing.T) {
	sink := newFakeSink()
	_, peripheral := startDriver(t, sink)

	waitFor(t, "password write", func() bool {
		return len(peripheral.writtenPasswords()) > 0
	})
	waitFor(t, "status request", func() bool {
		return len(peripheral.writtenCommands()) > 0
	})

	if got := peripheral.writtenPasswords()[0]; got != "1234" {
		t.Errorf("password = %q, want 1234", got)
	}
	kind, _ := decodeCommand(t, peripheral.writtenCommands()[0])
	if kind != "Get Status" {
		t.Errorf("first command = %q, want Get Status", kind)
	}
}

func TestDriverPublishesStatus(t *testing.T) {
	sink := newFakeSink()
	_, peripheral := startDriver(t, sink)

	waitFor(t, "status subscription", func() bool {
		return peripheral.inject(coolingStatus)
	})

	waitFor(t, "mode publish", func() bool {
		_, ok := sink.get("easytouch_112233/mode")
		return ok
	})

	want := map[string]string{
		"mode":                "cool",
		"action":              "cooling",
		"current_temperature": "75",
		"target_temperature":  "72",
		"fan_mode":            "auto",
		"outside_temperature": "82",
		"fault":               "0",
	}
	for field, value := range want {
		if got, _ := sink.get("easytouch_112233/" + field); got != value {
			t.Errorf("%s = %q, want %q", field, got, value)
		}
	}
}

func TestDriverPublishesDiscovery(t *testing.T) {
	sink := newFakeSink()
	startDriver(t, sink)

	topics := []string{
		"homeassistant/climate/easytouch_112233/climate/config",
		"homeassistant/sensor/easytouch_112233/outside_temperature/config",
		"homeassistant/sensor/easytouch_112233/fault/config",
	}
	for _, topic := range topics {
		if !sink.discoveryTopic(topic) {
			t.Errorf("discovery config missing at %s", topic)
		}
	}
}

func TestDriverHandleModeCommand(t *testing.T) {
	sink := newFakeSink()
	driver, peripheral := startDriver(t, sink)

	waitFor(t, "session start", func() bool {
		return len(peripheral.writtenCommands()) > 0
	})

	err := driver.HandleCommand(context.Background(), "easytouch_112233", "mode", []byte("heat"))
	if err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}

	var changes map[string]int
	for _, cmd := range peripheral.writtenCommands() {
		if kind, c := decodeCommand(t, cmd); kind == "Change" {
			changes = c
		}
	}
	if changes == nil {
		t.Fatal("no change command written")
	}
	if changes["mode"] != ModeHeatPump {
		t.Errorf("mode change = %v, want heat pump", changes)
	}
}

func TestDriverFanCommandTracksHeatSource(t *testing.T) {
	sink := newFakeSink()
	driver, peripheral := startDriver(t, sink)

	heatPumpStatus := `{"Type":"Status","Zone":0,"Z_sts":[68,74,72,68,70,50,2,128,1,128,5,1,70,255,0,4]}`
	waitFor(t, "status subscription", func() bool {
		return peripheral.inject(heatPumpStatus)
	})
	waitFor(t, "status decode", func() bool {
		return driver.currentMode() == ModeHeatPump
	})

	err := driver.HandleCommand(context.Background(), "easytouch_112233", "fan_mode", []byte("high"))
	if err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}

	var changes map[string]int
	for _, cmd := range peripheral.writtenCommands() {
		if kind, c := decodeCommand(t, cmd); kind == "Change" {
			changes = c
		}
	}
	if changes == nil {
		t.Fatal("no change command written")
	}
	if changes["eleFan"] != FanSpeedHigh {
		t.Errorf("fan change = %v, want eleFan high", changes)
	}
}

func TestDriverTemperatureCommandClamps(t *testing.T) {
	sink := newFakeSink()
	driver, peripheral := startDriver(t, sink)

	waitFor(t, "status subscription", func() bool {
		return peripheral.inject(coolingStatus)
	})
	waitFor(t, "status decode", func() bool {
		return driver.currentMode() == ModeCool
	})

	err := driver.HandleCommand(context.Background(), "easytouch_112233", "target_temperature", []byte("95"))
	if err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}

	var changes map[string]int
	for _, cmd := range peripheral.writtenCommands() {
		if kind, c := decodeCommand(t, cmd); kind == "Change" {
			changes = c
		}
	}
	if changes == nil {
		t.Fatal("no change command written")
	}
	if changes["coolSP"] != MaxSetpointF {
		t.Errorf("setpoint change = %v, want coolSP %d", changes, MaxSetpointF)
	}
}

func TestDriverHandleCommandErrors(t *testing.T) {
	sink := newFakeSink()
	driver, peripheral := startDriver(t, sink)

	waitFor(t, "session start", func() bool {
		return len(peripheral.writtenCommands()) > 0
	})

	tests := []struct {
		name     string
		deviceID string
		field    string
		payload  string
		want     error
	}{
		{"foreign device", "hughes_ddeeff", "mode", "off", bridge.ErrNoMatchingInstance},
		{"unknown field", "easytouch_112233", "humidity", "50", bridge.ErrUnsupportedCommand},
		{"bad mode", "easytouch_112233", "mode", "warp", bridge.ErrDecode},
		{"bad fan mode", "easytouch_112233", "fan_mode", "turbo", bridge.ErrDecode},
		{"bad temperature", "easytouch_112233", "target_temperature", "toasty", bridge.ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := driver.HandleCommand(context.Background(), tt.deviceID, tt.field, []byte(tt.payload))
			if !errors.Is(err, tt.want) {
				t.Errorf("HandleCommand() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	adapter := &thermostatAdapter{mac: "AA:BB:CC:11:22:33", peripheral: &thermostatPeripheral{}}

	if _, err := New(bridge.Instance{ID: "x", PluginType: PluginType},
		bridge.Deps{Adapter: adapter, Sink: newFakeSink()}); !errors.Is(err, bridge.ErrInvalidInstance) {
		t.Errorf("missing mac error = %v, want ErrInvalidInstance", err)
	}
	if _, err := New(bridge.Instance{ID: "x", PluginType: PluginType, MAC: "AA:BB:CC:11:22:33"},
		bridge.Deps{Sink: newFakeSink()}); !errors.Is(err, bridge.ErrInvalidInstance) {
		t.Errorf("missing adapter error = %v, want ErrInvalidInstance", err)
	}
	if _, err := New(bridge.Instance{ID: "x", PluginType: PluginType, MAC: "AA:BB:CC:11:22:33",
		Config: map[string]string{"zone": "two"}},
		bridge.Deps{Adapter: adapter, Sink: newFakeSink()}); !errors.Is(err, bridge.ErrInvalidInstance) {
		t.Errorf("bad zone error = %v, want ErrInvalidInstance", err)
	}
}
