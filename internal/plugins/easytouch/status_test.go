package easytouch

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

const coolingStatus = `{"Type":"Status","Zone":0,"Z_sts":[68,74,72,68,70,50,2,128,1,128,2,1,75,82,0,2]}`

func TestDecodeStatus(t *testing.T) {
	s, err := DecodeStatus([]byte(coolingStatus))
	if err != nil {
		t.Fatalf("DecodeStatus() error = %v", err)
	}

	if s.Mode != ModeCool || s.CoolSetpoint != 72 || s.HeatSetpoint != 68 {
		t.Errorf("mode/setpoints = %d/%d/%d", s.Mode, s.CoolSetpoint, s.HeatSetpoint)
	}
	if s.Ambient != 75 {
		t.Errorf("Ambient = %d, want 75", s.Ambient)
	}
	if !s.OutsideValid || s.Outside != 82 {
		t.Errorf("outside = %d (valid %v), want 82", s.Outside, s.OutsideValid)
	}
	if s.Fault != 0 {
		t.Errorf("Fault = %d, want 0", s.Fault)
	}
	if !s.Cooling || s.Heating || s.CycleActive {
		t.Errorf("flags = cooling %v heating %v cycle %v", s.Cooling, s.Heating, s.CycleActive)
	}
}

func TestDecodeStatusInvalidOutside(t *testing.T) {
	s, err := DecodeStatus([]byte(`{"Type":"Status","Zone":0,"Z_sts":[68,74,72,68,70,50,2,128,1,128,0,1,75,255,0,0]}`))
	if err != nil {
		t.Fatalf("DecodeStatus() error = %v", err)
	}
	if s.OutsideValid {
		t.Error("outside 255 reported as valid")
	}
}

func TestDecodeStatusErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "hello"},
		{"short array", `{"Type":"Status","Zone":0,"Z_sts":[1,2,3]}`},
		{"missing array", `{"Type":"Status","Zone":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeStatus([]byte(tt.data)); !errors.Is(err, bridge.ErrDecode) {
				t.Errorf("DecodeStatus() error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestHAMode(t *testing.T) {
	tests := []struct {
		mode int
		want string
	}{
		{ModeOff, "off"},
		{ModeFanOnly, "fan_only"},
		{ModeCool, "cool"},
		{ModeHeat, "heat"},
		{ModeFurnace, "heat"},
		{ModeHeatPump, "heat"},
		{ModeDry, "dry"},
		{ModeHeatStrip, "heat"},
		{ModeAuto, "auto"},
		{ModeAutoStrip, "auto"},
		{ModeAutoPump, "auto"},
		{ModeAutoFurnace, "auto"},
		{ModeElectricHeat, "heat"},
		{ModeGasHeat, "heat"},
		{99, "off"},
	}

	for _, tt := range tests {
		s := Status{Mode: tt.mode}
		if got := s.HAMode(); got != tt.want {
			t.Errorf("HAMode(%d) = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestDeviceModeDefaultsHeatToHeatPump(t *testing.T) {
	mode, ok := deviceMode("heat")
	if !ok || mode != ModeHeatPump {
		t.Errorf("deviceMode(heat) = %d/%v, want heat pump", mode, ok)
	}
	if _, ok := deviceMode("toast"); ok {
		t.Error("deviceMode accepted an unknown mode")
	}
}

func TestFanFieldForMode(t *testing.T) {
	tests := []struct {
		mode int
		want string
	}{
		{ModeHeatPump, "eleFan"},
		{ModeHeatStrip, "eleFan"},
		{ModeElectricHeat, "eleFan"},
		{ModeHeat, "gasFan"},
		{ModeFurnace, "gasFan"},
		{ModeGasHeat, "gasFan"},
		{ModeCool, "coolFan"},
		{ModeAuto, "coolFan"},
		{ModeOff, "coolFan"},
	}

	for _, tt := range tests {
		if got := fanFieldForMode(tt.mode); got != tt.want {
			t.Errorf("fanFieldForMode(%d) = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestHAAction(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   string
	}{
		{"off", Status{Mode: ModeOff}, "off"},
		{"cooling", Status{Mode: ModeCool, Cooling: true}, "cooling"},
		{"heating", Status{Mode: ModeHeatPump, Heating: true}, "heating"},
		{"fan only", Status{Mode: ModeFanOnly}, "fan"},
		{"idle", Status{Mode: ModeCool}, "idle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.HAAction(); got != tt.want {
				t.Errorf("HAAction() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHAFanMode(t *testing.T) {
	s := Status{Mode: ModeCool, CoolFanSpeed: FanSpeedAuto, ElectricFanSpeed: FanSpeedHigh}
	if got := s.HAFanMode(); got != "auto" {
		t.Errorf("cool fan mode = %q, want auto", got)
	}

	s.Mode = ModeHeatPump
	if got := s.HAFanMode(); got != "high" {
		t.Errorf("heat pump fan mode = %q, want high", got)
	}

	s = Status{Mode: ModeGasHeat, GasFanSpeed: FanSpeedCycledLow}
	if got := s.HAFanMode(); got != "low" {
		t.Errorf("cycled low fan mode = %q, want low", got)
	}
}

func TestTargetSetpoint(t *testing.T) {
	s := Status{
		CoolSetpoint:     72,
		HeatSetpoint:     68,
		DrySetpoint:      70,
		AutoCoolSetpoint: 74,
	}

	tests := []struct {
		mode int
		want int
	}{
		{ModeCool, 72},
		{ModeHeatPump, 68},
		{ModeGasHeat, 68},
		{ModeDry, 70},
		{ModeAuto, 74},
		{ModeOff, 72},
	}

	for _, tt := range tests {
		s.Mode = tt.mode
		if got := s.TargetSetpoint(); got != tt.want {
			t.Errorf("TargetSetpoint(mode %d) = %d, want %d", tt.mode, got, tt.want)
		}
	}
}

func TestClampSetpoint(t *testing.T) {
	tests := []struct{ in, want int }{
		{59, 60}, {60, 60}, {72, 72}, {90, 90}, {95, 90},
	}
	for _, tt := range tests {
		if got := ClampSetpoint(tt.in); got != tt.want {
			t.Errorf("ClampSetpoint(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodeGetStatus(t *testing.T) {
	var msg map[string]any
	if err := json.Unmarshal(EncodeGetStatus(0), &msg); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if msg["Type"] != "Get Status" || msg["Zone"] != float64(0) {
		t.Errorf("message = %v", msg)
	}
	if _, ok := msg["Changes"]; ok {
		t.Error("status request carries a Changes block")
	}
}

func TestEncodeChange(t *testing.T) {
	var msg struct {
		Type    string
		Zone    int
		Changes map[string]int
	}
	if err := json.Unmarshal(EncodeChange(1, map[string]int{"mode": ModeCool}), &msg); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if msg.Type != "Change" || msg.Zone != 1 {
		t.Errorf("header = %s/%d", msg.Type, msg.Zone)
	}
	if msg.Changes["mode"] != ModeCool {
		t.Errorf("Changes = %v", msg.Changes)
	}
}
