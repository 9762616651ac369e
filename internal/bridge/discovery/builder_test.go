package discovery

import (
	"bytes"
	"strings"
	"testing"

	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/mqtt"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"volts", "volts"},
		{"Fresh Water Tank", "fresh_water_tank"},
		{"hughes_ddeeff", "hughes_ddeeff"},
		{"Zone 1 / Bedroom", "zone_1_bedroom"},
		{"--weird--", "weird"},
		{"UPPER", "upper"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeID(tt.in); got != tt.want {
				t.Errorf("SanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfigTopic(t *testing.T) {
	b := NewBuilder("homeassistant", mqtt.NewTopics("blebridge"), "1.0.0")

	got := b.ConfigTopic("sensor", "hughes_ddeeff", "volts")
	want := "homeassistant/sensor/hughes_ddeeff/volts/config"
	if got != want {
		t.Errorf("ConfigTopic() = %s, want %s", got, want)
	}
}

func TestConfigTopicDefaultPrefix(t *testing.T) {
	b := NewBuilder("", mqtt.NewTopics("blebridge"), "1.0.0")

	got := b.ConfigTopic("switch", "onecontrol_9a58f0", "relay_4")
	if !strings.HasPrefix(got, "homeassistant/") {
		t.Errorf("ConfigTopic() = %s, want homeassistant prefix", got)
	}
}

func TestAvailabilityChain(t *testing.T) {
	b := NewBuilder("homeassistant", mqtt.NewTopics("blebridge"), "1.0.0")

	avail := b.AvailabilityFor("mopeka", "mopeka_aabbcc")
	if len(avail) != 2 {
		t.Fatalf("availability entries = %d, want 2", len(avail))
	}
	if avail[0].Topic != "blebridge/availability" {
		t.Errorf("bridge availability topic = %s", avail[0].Topic)
	}
	if avail[1].Topic != "blebridge/mopeka/mopeka_aabbcc/availability" {
		t.Errorf("device availability topic = %s", avail[1].Topic)
	}
	for _, a := range avail {
		if a.PayloadAvailable != "online" || a.PayloadNotAvailable != "offline" {
			t.Errorf("availability payloads = %q/%q", a.PayloadAvailable, a.PayloadNotAvailable)
		}
	}
}

func TestMarshalDeterministic(t *testing.T) {
	b := NewBuilder("homeassistant", mqtt.NewTopics("blebridge"), "1.0.0")

	sensor := Sensor{
		UniqueID:          "hughes_ddeeff_volts",
		Name:              "Volts",
		StateTopic:        "blebridge/hughes/hughes_ddeeff/volts",
		DeviceClass:       "voltage",
		UnitOfMeasurement: "V",
		StateClass:        "measurement",
		Availability:      b.AvailabilityFor("hughes", "hughes_ddeeff"),
		AvailabilityMode:  "all",
		Device:            b.DeviceInfo("hughes_ddeeff", "Surge Protector", "Hughes", "Power Watchdog"),
	}

	first, err := Marshal(sensor)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	second, err := Marshal(sensor)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("repeated Marshal of equal input differs")
	}

	// unique_id must precede device in the output so retained compares
	// key on the stable identifier first.
	payload := string(first)
	if strings.Index(payload, "unique_id") > strings.Index(payload, "\"device\"") {
		t.Error("unique_id does not precede device block")
	}
	if !strings.Contains(payload, `"sw_version":"1.0.0"`) {
		t.Errorf("device block missing sw_version: %s", payload)
	}
}

func TestMarshalOmitsEmptyOptionalFields(t *testing.T) {
	sensor := Sensor{
		UniqueID:   "mopeka_aabbcc_level",
		Name:       "Tank Level",
		StateTopic: "blebridge/mopeka/mopeka_aabbcc/level",
		Device:     Device{Identifiers: []string{"mopeka_aabbcc"}, Name: "Tank"},
	}

	payload, err := Marshal(sensor)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, absent := range []string{"device_class", "icon", "availability", "sw_version"} {
		if strings.Contains(string(payload), absent) {
			t.Errorf("payload contains empty optional field %q: %s", absent, payload)
		}
	}
}
