package mopeka

import (
	"context"
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
	online    int
}

func newFakeSink() *fakeSink {
	return &fakeSink{state: make(map[string]string), discovery: make(map[string]string)}
}

func (f *fakeSink) PublishState(_, _, field string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[field] = string(payload)
	return nil
}

func (f *fakeSink) PublishAvailability(_, _ string, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if online {
		f.online++
	}
	return nil
}

func (f *fakeSink) PublishDiscovery(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovery[topic] = string(payload)
	return nil
}

func (f *fakeSink) Prefix() string    { return "blebridge" }
func (f *fakeSink) IsConnected() bool { return true }

func (f *fakeSink) stateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state)
}

func (f *fakeSink) field(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.state[name]
	return v, ok
}

// advAdapter replays a fixed set of advertisements once.
type advAdapter struct {
	advs []ble.Advertisement
}

func (a *advAdapter) Scan(ctx context.Context) (<-chan ble.Advertisement, error) {
	ch := make(chan ble.Advertisement, len(a.advs))
	for _, adv := range a.advs {
		ch <- adv
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (a *advAdapter) Connect(_ context.Context, _ string) (ble.Peripheral, error) {
	return nil, errors.New("passive sensor")
}

func mopekaAdv(mac string, payload []byte) ble.Advertisement {
	return ble.Advertisement{
		Addr:             mac,
		ManufacturerData: map[uint16][]byte{ManufacturerID: payload},
	}
}

func startDriver(t *testing.T, sink *fakeSink, adapter ble.Adapter, cfg map[string]string) bridge.Driver {
	t.Helper()

	driver, err := New(bridge.Instance{
		ID:         "mopeka_aabbcc",
		PluginType: PluginType,
		MAC:        "AA:BB:CC:AA:BB:CC",
		Config:     cfg,
	}, bridge.Deps{Adapter: adapter, Sink: sink})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := driver.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(driver.Stop)
	return driver
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

func TestDriverPublishesGoodReading(t *testing.T) {
	sink := newFakeSink()
	adapter := &advAdapter{advs: []ble.Advertisement{
		mopekaAdv("AA:BB:CC:AA:BB:CC", buildPayload(ModelProCheck, 88, 62, 300, 3)),
	}}
	startDriver(t, sink, adapter, nil)

	waitFor(t, "temperature publish", func() bool {
		_, ok := sink.field("temperature")
		return ok
	})

	if v, _ := sink.field("temperature"); v != "22" {
		t.Errorf("temperature = %s, want 22", v)
	}
	if v, _ := sink.field("quality"); v != "100" {
		t.Errorf("quality = %s, want 100", v)
	}
	if _, ok := sink.field("level"); ok {
		t.Error("level published without tank geometry configured")
	}
}

func TestDriverQualityGating(t *testing.T) {
	sink := newFakeSink()
	adapter := &advAdapter{advs: []ble.Advertisement{
		// Quality band 1 (33%) is below the default floor of 50.
		mopekaAdv("AA:BB:CC:AA:BB:CC", buildPayload(ModelProCheck, 88, 62, 300, 1)),
	}}
	startDriver(t, sink, adapter, nil)

	// Availability still goes online; the reading itself is dropped.
	waitFor(t, "availability", func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.online > 0
	})

	if sink.stateCount() != 0 {
		t.Errorf("published %d fields for low-quality reading, want 0", sink.stateCount())
	}
}

func TestDriverQualityFloorConfigurable(t *testing.T) {
	sink := newFakeSink()
	adapter := &advAdapter{advs: []ble.Advertisement{
		mopekaAdv("AA:BB:CC:AA:BB:CC", buildPayload(ModelProCheck, 88, 62, 300, 1)),
	}}
	startDriver(t, sink, adapter, map[string]string{"min_quality": "0"})

	waitFor(t, "distance publish", func() bool {
		_, ok := sink.field("distance")
		return ok
	})
}

func TestDriverPublishesLevelWithGeometry(t *testing.T) {
	sink := newFakeSink()
	adapter := &advAdapter{advs: []ble.Advertisement{
		mopekaAdv("AA:BB:CC:AA:BB:CC", buildPayload(ModelProCheck, 88, 62, 800, 3)),
	}}
	startDriver(t, sink, adapter, map[string]string{
		"orientation": "vertical",
		"diameter_mm": "300",
		"length_mm":   "600",
	})

	waitFor(t, "level publish", func() bool {
		_, ok := sink.field("level")
		return ok
	})
}

func TestDriverIgnoresOtherDevices(t *testing.T) {
	sink := newFakeSink()
	adapter := &advAdapter{advs: []ble.Advertisement{
		mopekaAdv("11:22:33:44:55:66", buildPayload(ModelProCheck, 88, 62, 300, 3)),
	}}
	startDriver(t, sink, adapter, nil)

	time.Sleep(50 * time.Millisecond)
	if sink.stateCount() != 0 {
		t.Errorf("published %d fields for a different sensor's advertisement", sink.stateCount())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	adapter := &advAdapter{}
	tests := []struct {
		name string
		cfg  map[string]string
	}{
		{"bad min_quality", map[string]string{"min_quality": "150"}},
		{"bad geometry", map[string]string{"orientation": "vertical", "diameter_mm": "abc", "length_mm": "600"}},
		{"bad orientation", map[string]string{"orientation": "diagonal", "diameter_mm": "300", "length_mm": "600"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(bridge.Instance{
				ID:         "mopeka_aabbcc",
				PluginType: PluginType,
				MAC:        "AA:BB:CC:AA:BB:CC",
				Config:     tt.cfg,
			}, bridge.Deps{Adapter: adapter, Sink: newFakeSink()})
			if !errors.Is(err, bridge.ErrInvalidInstance) {
				t.Errorf("New() error = %v, want ErrInvalidInstance", err)
			}
		})
	}
}
