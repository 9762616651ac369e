package onecontrol

import "errors"

// DefaultDeviceTableID is used until the gateway announces its real
// table in a GatewayInfo event.
const DefaultDeviceTableID = 0x08

// Command types. Every command starts with a little-endian client
// command id, the type byte, and the device table id.
const (
	CmdGetDevices         = 0x01
	CmdGetDevicesMetadata = 0x02
	CmdActionSwitch       = 0x40
	CmdActionHBridge      = 0x41
	CmdActionDimmable     = 0x43
	CmdActionRGB          = 0x44
	CmdActionHvac         = 0x45
)

// Dimmable light command modes.
const (
	LightOff     = 0x00
	LightOn      = 0x01
	LightRestore = 0x7F
)

// ErrNoDevices is returned when a multi-device command names none.
var ErrNoDevices = errors.New("onecontrol: command needs at least one device id")

func commandHeader(commandID uint16, commandType, tableID byte) []byte {
	return []byte{byte(commandID), byte(commandID >> 8), commandType, tableID}
}

// EncodeGetDevices builds a full device table query. The gateway also
// treats it as a keepalive.
func EncodeGetDevices(commandID uint16, tableID byte) []byte {
	cmd := commandHeader(commandID, CmdGetDevices, tableID)
	return append(cmd, 0x00, 0xFF) // start id 0, all devices
}

// EncodeSwitch builds a relay on/off command addressing one or more
// devices.
func EncodeSwitch(commandID uint16, tableID byte, on bool, deviceIDs ...byte) ([]byte, error) {
	if len(deviceIDs) == 0 {
		return nil, ErrNoDevices
	}
	state := byte(0x00)
	if on {
		state = 0x01
	}
	cmd := append(commandHeader(commandID, CmdActionSwitch, tableID), state)
	return append(cmd, deviceIDs...), nil
}

// EncodeDimmable builds a dimmable light command. Off and Restore are
// bare mode bytes; every other mode carries the target brightness and a
// zero auto-off duration.
func EncodeDimmable(commandID uint16, tableID, deviceID, mode, brightness byte) []byte {
	cmd := append(commandHeader(commandID, CmdActionDimmable, tableID), deviceID)
	switch mode {
	case LightOff, LightRestore:
		return append(cmd, mode)
	default:
		return append(cmd, mode, brightness, 0x00)
	}
}

// EncodeRGB builds an RGB light command. The payload shape depends on
// the mode: Off and Restore are bare, Solid carries the color and an
// auto-off byte, Blink adds two single-byte intervals, and the
// transition effects carry a big-endian interval instead of a color.
func EncodeRGB(commandID uint16, tableID, deviceID, mode, red, green, blue byte) []byte {
	const (
		autoOffDisabled  = 0xFF
		blinkInterval    = 207 // slow preset
		transitionHighMs = 0x02
		transitionLowMs  = 0xEE // 750 ms, slow preset
	)

	cmd := append(commandHeader(commandID, CmdActionRGB, tableID), deviceID)
	switch mode {
	case RGBModeOff, RGBModeRestore:
		return append(cmd, mode)
	case RGBModeSolid:
		return append(cmd, mode, red, green, blue, autoOffDisabled)
	case RGBModeBlink:
		return append(cmd, mode, red, green, blue, autoOffDisabled, blinkInterval, blinkInterval)
	default:
		return append(cmd, mode, autoOffDisabled, transitionHighMs, transitionLowMs)
	}
}
