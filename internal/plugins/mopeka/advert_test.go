package mopeka

import (
	"errors"
	"math"
	"testing"

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

// buildPayload constructs a manufacturer data payload for tests.
func buildPayload(model Model, batteryRaw, tempByte byte, distance uint16, quality byte) []byte {
	data := make([]byte, 10)
	data[0] = byte(model)
	data[1] = batteryRaw
	data[2] = tempByte
	data[3] = byte(distance & 0xFF)
	data[4] = byte(distance>>8)&0x3F | quality<<6
	return data
}

func TestDecode(t *testing.T) {
	// Battery raw 88 -> 2.75 V -> ~84.6%; temp byte 62 -> 22 C;
	// distance 300 raw; quality band 3 -> 100.
	data := buildPayload(ModelProCheck, 88, 62, 300, 3)

	r, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if r.Model != ModelProCheck {
		t.Errorf("Model = %v, want ProCheck", r.Model)
	}
	if math.Abs(r.BatteryVolts-2.75) > 0.001 {
		t.Errorf("BatteryVolts = %v, want 2.75", r.BatteryVolts)
	}
	if math.Abs(r.BatteryPercent-84.6) > 0.1 {
		t.Errorf("BatteryPercent = %v, want ~84.6", r.BatteryPercent)
	}
	if r.TemperatureC != 22 {
		t.Errorf("TemperatureC = %v, want 22", r.TemperatureC)
	}
	if r.RawDistance != 300 {
		t.Errorf("RawDistance = %d, want 300", r.RawDistance)
	}
	if r.Quality != 100 {
		t.Errorf("Quality = %d, want 100", r.Quality)
	}
	if r.ButtonPressed {
		t.Error("ButtonPressed = true, want false")
	}
}

func TestDecodeButtonBit(t *testing.T) {
	data := buildPayload(ModelProPlus, 88, 62|0x80, 100, 2)

	r, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !r.ButtonPressed {
		t.Error("ButtonPressed = false, want true")
	}
	// Button bit must not leak into the temperature.
	if r.TemperatureC != 22 {
		t.Errorf("TemperatureC = %v, want 22", r.TemperatureC)
	}
}

func TestDecodeQualityBands(t *testing.T) {
	tests := []struct {
		raw  byte
		want int
	}{
		{0, 0},
		{1, 33},
		{2, 66},
		{3, 100},
	}

	for _, tt := range tests {
		data := buildPayload(ModelProCheck, 88, 62, 100, tt.raw)
		r, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if r.Quality != tt.want {
			t.Errorf("quality band %d -> %d, want %d", tt.raw, r.Quality, tt.want)
		}
	}
}

func TestDecodeBatteryClamped(t *testing.T) {
	// Raw 255 -> ~7.97 V, far above the 100% point.
	data := buildPayload(ModelProCheck, 255, 62, 100, 3)
	r, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if r.BatteryPercent != 100 {
		t.Errorf("BatteryPercent = %v, want clamped to 100", r.BatteryPercent)
	}

	// Raw 32 -> 1.0 V, below the 0% point.
	data = buildPayload(ModelProCheck, 32, 62, 100, 3)
	r, err = Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if r.BatteryPercent != 0 {
		t.Errorf("BatteryPercent = %v, want clamped to 0", r.BatteryPercent)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"short", make([]byte, 9)},
		{"unknown model", buildPayload(Model(0x01), 88, 62, 100, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, bridge.ErrDecode) {
				t.Errorf("Decode() error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestDistanceCompensation(t *testing.T) {
	r := Reading{RawDistance: 1000, RawTemperature: 62}

	// Propane at 22 C: 0.573045 - 0.002822*62 - 0.00000535*62^2.
	want := 1000 * (0.573045 - 0.002822*62 - 0.00000535*62*62)
	if got := r.DistanceMM(MediumPropane); math.Abs(got-want) > 0.001 {
		t.Errorf("DistanceMM(propane) = %v, want %v", got, want)
	}

	// Water travels sound differently; same reading, different distance.
	if water := r.DistanceMM(MediumWater); math.Abs(water-r.DistanceMM(MediumPropane)) < 1 {
		t.Error("water and propane compensation should differ")
	}
}

func TestModelNames(t *testing.T) {
	tests := []struct {
		model Model
		want  string
	}{
		{ModelProCheck, "Pro Check"},
		{ModelProH2O, "Pro Check H2O"},
		{ModelTD40, "TD40"},
		{Model(0x7F), "Unknown (0x7F)"},
	}

	for _, tt := range tests {
		if got := tt.model.String(); got != tt.want {
			t.Errorf("Model(0x%02X).String() = %q, want %q", byte(tt.model), got, tt.want)
		}
	}
}
