package onecontrol

import (
	"fmt"

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

// Event types, from the first byte of each decoded frame.
const (
	EventGatewayInfo    = 0x01
	EventDeviceOnline   = 0x03
	EventRelayStatus1   = 0x05
	EventRelayStatus2   = 0x06
	EventDimmableStatus = 0x08
	EventRGBStatus      = 0x09
	EventHvacStatus     = 0x0B
	EventTankStatus     = 0x0C
	EventTankStatusV2   = 0x1B
)

// GatewayInfo carries the device table the gateway serves.
type GatewayInfo struct {
	TableID byte
}

// ParseGatewayInfo decodes a gateway information event.
func ParseGatewayInfo(data []byte) (GatewayInfo, error) {
	if len(data) < 2 {
		return GatewayInfo{}, fmt.Errorf("%w: gateway info %d bytes", bridge.ErrDecode, len(data))
	}
	return GatewayInfo{TableID: data[1]}, nil
}

// OnlineStatus reports one device joining or leaving the bus.
type OnlineStatus struct {
	TableID  byte
	DeviceID byte
	Online   bool
}

// ParseDeviceOnline decodes a device online status event.
func ParseDeviceOnline(data []byte) (OnlineStatus, error) {
	if len(data) < 4 {
		return OnlineStatus{}, fmt.Errorf("%w: online status %d bytes", bridge.ErrDecode, len(data))
	}
	return OnlineStatus{TableID: data[1], DeviceID: data[2], Online: data[3] != 0}, nil
}

// RelayStatus is one latching relay's state.
type RelayStatus struct {
	TableID  byte
	DeviceID byte
	On       bool
}

// ParseRelayStatus decodes a relay basic latching event:
// [event][tableId]([deviceId][state])*, state bit 0 is on/off.
//
// A payload shorter than the header yields no devices; a truncated
// trailing pair is dropped.
func ParseRelayStatus(data []byte) []RelayStatus {
	if len(data) < 2 {
		return nil
	}
	tableID := data[1]

	var statuses []RelayStatus
	for offset := 2; offset+1 < len(data); offset += 2 {
		statuses = append(statuses, RelayStatus{
			TableID:  tableID,
			DeviceID: data[offset],
			On:       data[offset+1]&0x01 != 0,
		})
	}
	return statuses
}

// DimmableStatus is one dimmable light's state. The 8-byte status block
// carries the mode at index 0 (nonzero means on) and the live
// brightness at index 3.
type DimmableStatus struct {
	TableID    byte
	DeviceID   byte
	On         bool
	Brightness byte
}

// ParseDimmableStatus decodes a dimmable light event:
// [event][tableId]([deviceId][status x8])*.
func ParseDimmableStatus(data []byte) []DimmableStatus {
	if len(data) < 2 {
		return nil
	}
	tableID := data[1]

	var statuses []DimmableStatus
	for offset := 2; offset+8 < len(data); offset += 9 {
		status := data[offset+1 : offset+9]
		statuses = append(statuses, DimmableStatus{
			TableID:    tableID,
			DeviceID:   data[offset],
			On:         status[0] > 0,
			Brightness: status[3],
		})
	}
	return statuses
}

// RGB light modes, shared between status events and action commands.
const (
	RGBModeOff     = 0x00
	RGBModeSolid   = 0x01
	RGBModeBlink   = 0x02
	RGBModeJump3   = 0x04
	RGBModeJump7   = 0x05
	RGBModeFade3   = 0x06
	RGBModeFade7   = 0x07
	RGBModeRainbow = 0x08
	RGBModeRestore = 0x7F
)

// RGBStatus is one RGB light's state.
type RGBStatus struct {
	TableID    byte
	DeviceID   byte
	Mode       byte
	Red        byte
	Green      byte
	Blue       byte
	AutoOffMin byte
	IntervalMs uint16
}

// On reports whether the light is emitting (any nonzero mode).
func (s RGBStatus) On() bool {
	return s.Mode > 0
}

// EffectName maps the mode byte to its marketing effect name.
func (s RGBStatus) EffectName() string {
	switch s.Mode {
	case RGBModeOff:
		return "Off"
	case RGBModeSolid:
		return "Solid"
	case RGBModeBlink:
		return "Blink"
	case RGBModeJump3:
		return "Jump 3"
	case RGBModeJump7:
		return "Jump 7"
	case RGBModeFade3:
		return "Fade 3"
	case RGBModeFade7:
		return "Fade 7"
	case RGBModeRainbow:
		return "Rainbow"
	default:
		return "Unknown"
	}
}

// ParseRGBStatus decodes an RGB light event:
// [event][tableId]([deviceId][mode][r][g][b][autoOff][intHi][intLo][rsvd])*.
func ParseRGBStatus(data []byte) []RGBStatus {
	if len(data) < 2 {
		return nil
	}
	tableID := data[1]

	var statuses []RGBStatus
	for offset := 2; offset+8 < len(data); offset += 9 {
		status := data[offset+1 : offset+9]
		statuses = append(statuses, RGBStatus{
			TableID:    tableID,
			DeviceID:   data[offset],
			Mode:       status[0],
			Red:        status[1],
			Green:      status[2],
			Blue:       status[3],
			AutoOffMin: status[4],
			IntervalMs: uint16(status[5])<<8 | uint16(status[6]),
		})
	}
	return statuses
}

// TankStatus is one tank sensor's fill level.
type TankStatus struct {
	TableID  byte
	DeviceID byte
	Level    byte
}

// ParseTankStatus decodes a tank sensor event (V1 or V2; the level
// sits at the same offset in both): [event][tableId][deviceId][level%].
func ParseTankStatus(data []byte) (TankStatus, error) {
	if len(data) < 4 {
		return TankStatus{}, fmt.Errorf("%w: tank status %d bytes", bridge.ErrDecode, len(data))
	}
	return TankStatus{TableID: data[1], DeviceID: data[2], Level: data[3]}, nil
}

// IsCommandResponse reports whether a frame answers an earlier
// GetDevices or GetDevicesMetadata command rather than carrying an
// unsolicited event: a client command id in 1..0xFFFE followed by one
// of the two query command types.
func IsCommandResponse(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	commandID := uint16(data[1])<<8 | uint16(data[0])
	if commandID < 1 || commandID > 0xFFFE {
		return false
	}
	return data[2] == CmdGetDevices || data[2] == CmdGetDevicesMetadata
}
