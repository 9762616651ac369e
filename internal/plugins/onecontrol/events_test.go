package onecontrol

import (
	"errors"
	"testing"

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

func TestParseRelayStatus(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []RelayStatus
	}{
		{
			"two devices",
			[]byte{0x01, 0x02, 0x01, 0x01, 0x02, 0x00},
			[]RelayStatus{
				{TableID: 2, DeviceID: 1, On: true},
				{TableID: 2, DeviceID: 2, On: false},
			},
		},
		{
			"single device",
			[]byte{0x05, 0x08, 0x04, 0x01},
			[]RelayStatus{{TableID: 8, DeviceID: 4, On: true}},
		},
		{
			"header only",
			[]byte{0x05, 0x08},
			nil,
		},
		{
			"truncated trailing pair",
			[]byte{0x05, 0x08, 0x04, 0x01, 0x05},
			[]RelayStatus{{TableID: 8, DeviceID: 4, On: true}},
		},
		{"empty", nil, nil},
		{"one byte", []byte{0x05}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRelayStatus(tt.data)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("record %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseRelayStatusStateBit(t *testing.T) {
	// Only bit 0 of the state byte is on/off; upper bits are flags.
	got := ParseRelayStatus([]byte{0x05, 0x08, 0x01, 0xFE})
	if len(got) != 1 || got[0].On {
		t.Errorf("state 0xFE parsed as %+v, want off", got)
	}
	got = ParseRelayStatus([]byte{0x05, 0x08, 0x01, 0x03})
	if len(got) != 1 || !got[0].On {
		t.Errorf("state 0x03 parsed as %+v, want on", got)
	}
}

func TestParseDimmableStatus(t *testing.T) {
	// Two devices, 9 bytes each: id + [mode max dur brightness ...].
	data := []byte{
		0x08, 0x08,
		0x03, 0x01, 0xFF, 0x00, 0xC8, 0x00, 0x00, 0x00, 0x00,
		0x04, 0x00, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	got := ParseDimmableStatus(data)
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0] != (DimmableStatus{TableID: 8, DeviceID: 3, On: true, Brightness: 0xC8}) {
		t.Errorf("record 0 = %+v", got[0])
	}
	if got[1] != (DimmableStatus{TableID: 8, DeviceID: 4, On: false, Brightness: 0}) {
		t.Errorf("record 1 = %+v", got[1])
	}
}

func TestParseDimmableStatusTruncated(t *testing.T) {
	// Second device block is one byte short and must be dropped.
	data := []byte{
		0x08, 0x08,
		0x03, 0x01, 0xFF, 0x00, 0x64, 0x00, 0x00, 0x00, 0x00,
		0x04, 0x01, 0xFF, 0x00, 0x64, 0x00, 0x00, 0x00,
	}
	if got := ParseDimmableStatus(data); len(got) != 1 {
		t.Errorf("got %d records from truncated payload, want 1", len(got))
	}

	if got := ParseDimmableStatus([]byte{0x08}); got != nil {
		t.Errorf("short payload returned %v, want nil", got)
	}
}

func TestParseRGBStatus(t *testing.T) {
	data := []byte{
		0x09, 0x08,
		0x05, 0x02, 0xFF, 0x80, 0x10, 0x00, 0x01, 0xF4, 0x00,
	}

	got := ParseRGBStatus(data)
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	s := got[0]
	if s.DeviceID != 5 || s.Mode != RGBModeBlink {
		t.Errorf("device/mode = %d/0x%02X", s.DeviceID, s.Mode)
	}
	if s.Red != 0xFF || s.Green != 0x80 || s.Blue != 0x10 {
		t.Errorf("color = %d,%d,%d", s.Red, s.Green, s.Blue)
	}
	if s.IntervalMs != 500 {
		t.Errorf("IntervalMs = %d, want 500", s.IntervalMs)
	}
	if !s.On() {
		t.Error("On() = false for blink mode")
	}
	if s.EffectName() != "Blink" {
		t.Errorf("EffectName() = %q, want Blink", s.EffectName())
	}
}

func TestRGBEffectNames(t *testing.T) {
	tests := []struct {
		mode byte
		want string
	}{
		{RGBModeOff, "Off"},
		{RGBModeSolid, "Solid"},
		{RGBModeJump3, "Jump 3"},
		{RGBModeFade7, "Fade 7"},
		{RGBModeRainbow, "Rainbow"},
		{0x42, "Unknown"},
	}
	for _, tt := range tests {
		s := RGBStatus{Mode: tt.mode}
		if got := s.EffectName(); got != tt.want {
			t.Errorf("EffectName(0x%02X) = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestParseGatewayInfo(t *testing.T) {
	info, err := ParseGatewayInfo([]byte{0x01, 0x0A, 0xFF})
	if err != nil {
		t.Fatalf("ParseGatewayInfo() error = %v", err)
	}
	if info.TableID != 0x0A {
		t.Errorf("TableID = %d, want 10", info.TableID)
	}

	if _, err := ParseGatewayInfo([]byte{0x01}); !errors.Is(err, bridge.ErrDecode) {
		t.Errorf("short payload error = %v, want ErrDecode", err)
	}
}

func TestParseDeviceOnline(t *testing.T) {
	status, err := ParseDeviceOnline([]byte{0x03, 0x08, 0x05, 0x01})
	if err != nil {
		t.Fatalf("ParseDeviceOnline() error = %v", err)
	}
	if status.DeviceID != 5 || !status.Online {
		t.Errorf("status = %+v", status)
	}

	if _, err := ParseDeviceOnline([]byte{0x03, 0x08, 0x05}); !errors.Is(err, bridge.ErrDecode) {
		t.Errorf("short payload error = %v, want ErrDecode", err)
	}
}

func TestParseTankStatus(t *testing.T) {
	status, err := ParseTankStatus([]byte{0x0C, 0x08, 0x02, 0x4B})
	if err != nil {
		t.Fatalf("ParseTankStatus() error = %v", err)
	}
	if status.DeviceID != 2 || status.Level != 75 {
		t.Errorf("status = %+v", status)
	}

	if _, err := ParseTankStatus([]byte{0x0C, 0x08}); !errors.Is(err, bridge.ErrDecode) {
		t.Errorf("short payload error = %v, want ErrDecode", err)
	}
}

func TestIsCommandResponse(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"get devices response", []byte{0x01, 0x00, 0x01, 0x08}, true},
		{"metadata response", []byte{0xFE, 0xFF, 0x02}, true},
		{"command id zero", []byte{0x00, 0x00, 0x01}, false},
		{"command id ffff", []byte{0xFF, 0xFF, 0x01}, false},
		{"event type byte", []byte{0x05, 0x00, 0x05}, false},
		{"too short", []byte{0x01, 0x00}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCommandResponse(tt.data); got != tt.want {
				t.Errorf("IsCommandResponse(% X) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}
