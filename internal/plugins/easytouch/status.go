package easytouch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

// Thermostat GATT layout.
const (
	ServiceUUID      = "000000ff-0000-1000-8000-00805f9b34fb"
	PasswordCharUUID = "0000dd01-0000-1000-8000-00805f9b34fb"
	CommandCharUUID  = "0000ee01-0000-1000-8000-00805f9b34fb"
	StatusCharUUID   = "0000ff01-0000-1000-8000-00805f9b34fb"
)

// NamePrefix is the advertised local name prefix.
const NamePrefix = "EasyTouch"

// MatchesName reports whether an advertised name belongs to an
// EasyTouch thermostat.
func MatchesName(name string) bool {
	return strings.HasPrefix(name, NamePrefix)
}

// Device operating modes. The heat variants differ only in which heat
// source drives the blower; Home Assistant sees them all as "heat".
const (
	ModeOff          = 0
	ModeFanOnly      = 1
	ModeCool         = 2
	ModeHeat         = 3
	ModeFurnace      = 4
	ModeHeatPump     = 5
	ModeDry          = 6
	ModeHeatStrip    = 7
	ModeAuto         = 8
	ModeAutoStrip    = 9
	ModeAutoPump     = 10
	ModeAutoFurnace  = 11
	ModeElectricHeat = 12
	ModeGasHeat      = 13
)

// Fan speed values. Cycled variants are firmware-chosen duty cycles;
// they read back as their manual counterparts.
const (
	FanSpeedOff        = 0
	FanSpeedLow        = 1
	FanSpeedHigh       = 2
	FanSpeedCycledLow  = 65
	FanSpeedCycledHigh = 66
	FanSpeedAuto       = 128
)

// Status array indices.
const (
	idxAutoHeatSetpoint = 0
	idxAutoCoolSetpoint = 1
	idxCoolSetpoint     = 2
	idxHeatSetpoint     = 3
	idxDrySetpoint      = 4
	idxHumiditySetpoint = 5
	idxFanOnlySpeed     = 6
	idxCoolFanSpeed     = 7
	idxElectricFanSpeed = 8
	idxAutoFanSpeed     = 9
	idxMode             = 10
	idxGasFanSpeed      = 11
	idxAmbientTemp      = 12
	idxOutsideTemp      = 13
	idxFault            = 14
	idxFlags            = 15

	statusLength = 16
)

// Status flag bits.
const (
	flagCycleActive = 1
	flagCooling     = 2
	flagHeating     = 4
)

// outsideInvalid marks a missing outside temperature probe.
const outsideInvalid = 255

// Setpoint limits in degrees Fahrenheit.
const (
	MinSetpointF = 60
	MaxSetpointF = 90
)

// Status is one decoded thermostat report.
type Status struct {
	Zone int

	AutoHeatSetpoint int
	AutoCoolSetpoint int
	CoolSetpoint     int
	HeatSetpoint     int
	DrySetpoint      int
	HumiditySetpoint int

	FanOnlySpeed     int
	CoolFanSpeed     int
	ElectricFanSpeed int
	AutoFanSpeed     int
	GasFanSpeed      int

	Mode         int
	Ambient      int
	Outside      int
	OutsideValid bool
	Fault        int

	CycleActive bool
	Cooling     bool
	Heating     bool
}

type statusMessage struct {
	Type string `json:"Type"`
	Zone int    `json:"Zone"`
	ZSts []int  `json:"Z_sts"`
}

// DecodeStatus parses a status JSON reply into a Status.
func DecodeStatus(data []byte) (Status, error) {
	var msg statusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Status{}, fmt.Errorf("%w: status json: %v", bridge.ErrDecode, err)
	}
	if len(msg.ZSts) < statusLength {
		return Status{}, fmt.Errorf("%w: status array has %d values, want %d",
			bridge.ErrDecode, len(msg.ZSts), statusLength)
	}

	z := msg.ZSts
	flags := z[idxFlags]
	return Status{
		Zone:             msg.Zone,
		AutoHeatSetpoint: z[idxAutoHeatSetpoint],
		AutoCoolSetpoint: z[idxAutoCoolSetpoint],
		CoolSetpoint:     z[idxCoolSetpoint],
		HeatSetpoint:     z[idxHeatSetpoint],
		DrySetpoint:      z[idxDrySetpoint],
		HumiditySetpoint: z[idxHumiditySetpoint],
		FanOnlySpeed:     z[idxFanOnlySpeed],
		CoolFanSpeed:     z[idxCoolFanSpeed],
		ElectricFanSpeed: z[idxElectricFanSpeed],
		AutoFanSpeed:     z[idxAutoFanSpeed],
		GasFanSpeed:      z[idxGasFanSpeed],
		Mode:             z[idxMode],
		Ambient:          z[idxAmbientTemp],
		Outside:          z[idxOutsideTemp],
		OutsideValid:     z[idxOutsideTemp] != outsideInvalid,
		Fault:            z[idxFault],
		CycleActive:      flags&flagCycleActive != 0,
		Cooling:          flags&flagCooling != 0,
		Heating:          flags&flagHeating != 0,
	}, nil
}

// HAMode returns the Home Assistant climate mode for the device mode.
func (s Status) HAMode() string {
	switch s.Mode {
	case ModeOff:
		return "off"
	case ModeFanOnly:
		return "fan_only"
	case ModeCool:
		return "cool"
	case ModeDry:
		return "dry"
	case ModeAuto, ModeAutoStrip, ModeAutoPump, ModeAutoFurnace:
		return "auto"
	case ModeHeat, ModeFurnace, ModeHeatPump, ModeHeatStrip, ModeElectricHeat, ModeGasHeat:
		return "heat"
	default:
		return "off"
	}
}

// HAAction returns what the unit is doing right now.
func (s Status) HAAction() string {
	switch {
	case s.Mode == ModeOff:
		return "off"
	case s.Cooling:
		return "cooling"
	case s.Heating:
		return "heating"
	case s.Mode == ModeFanOnly:
		return "fan"
	default:
		return "idle"
	}
}

// ActiveFanSpeed returns the fan speed for the current mode.
func (s Status) ActiveFanSpeed() int {
	if s.Mode == ModeFanOnly {
		return s.FanOnlySpeed
	}
	switch fanFieldForMode(s.Mode) {
	case "eleFan":
		return s.ElectricFanSpeed
	case "gasFan":
		return s.GasFanSpeed
	default:
		return s.CoolFanSpeed
	}
}

// HAFanMode returns the Home Assistant fan mode for the current mode's
// fan speed.
func (s Status) HAFanMode() string {
	return fanLabel(s.ActiveFanSpeed())
}

// TargetSetpoint returns the setpoint governing the current mode.
func (s Status) TargetSetpoint() int {
	switch setpointFieldForMode(s.Mode) {
	case "heatSP":
		return s.HeatSetpoint
	case "drySP":
		return s.DrySetpoint
	case "autoCoolSP":
		return s.AutoCoolSetpoint
	default:
		return s.CoolSetpoint
	}
}

// deviceMode maps a Home Assistant mode to a device mode. "heat"
// selects the heat pump, the most common heat source; other sources
// are reachable by writing the specific mode number directly.
func deviceMode(haMode string) (int, bool) {
	switch haMode {
	case "off":
		return ModeOff, true
	case "fan_only":
		return ModeFanOnly, true
	case "cool":
		return ModeCool, true
	case "heat":
		return ModeHeatPump, true
	case "dry":
		return ModeDry, true
	case "auto":
		return ModeAuto, true
	}
	return 0, false
}

// fanFieldForMode returns the JSON field name carrying fan speed. The
// thermostat keeps a separate speed per blower, so the field depends on
// which heat source the current mode drives.
func fanFieldForMode(mode int) string {
	switch mode {
	case ModeHeatPump, ModeHeatStrip, ModeElectricHeat:
		return "eleFan"
	case ModeHeat, ModeFurnace, ModeGasHeat:
		return "gasFan"
	default:
		return "coolFan"
	}
}

// setpointFieldForMode returns the JSON field name for the setpoint
// governing a mode.
func setpointFieldForMode(mode int) string {
	switch mode {
	case ModeHeat, ModeFurnace, ModeHeatPump, ModeHeatStrip, ModeElectricHeat, ModeGasHeat:
		return "heatSP"
	case ModeDry:
		return "drySP"
	case ModeAuto, ModeAutoStrip, ModeAutoPump, ModeAutoFurnace:
		return "autoCoolSP"
	default:
		return "coolSP"
	}
}

// fanLabel maps a fan speed value to a Home Assistant fan mode.
func fanLabel(value int) string {
	switch value {
	case FanSpeedOff:
		return "off"
	case FanSpeedLow, FanSpeedCycledLow:
		return "low"
	case FanSpeedHigh, FanSpeedCycledHigh:
		return "high"
	default:
		return "auto"
	}
}

// fanValue maps a Home Assistant fan mode to the value to write.
func fanValue(label string) (int, bool) {
	switch label {
	case "off":
		return FanSpeedOff, true
	case "low":
		return FanSpeedLow, true
	case "high":
		return FanSpeedHigh, true
	case "auto":
		return FanSpeedAuto, true
	}
	return 0, false
}

// ClampSetpoint bounds a requested setpoint to the thermostat's range.
func ClampSetpoint(v int) int {
	if v < MinSetpointF {
		return MinSetpointF
	}
	if v > MaxSetpointF {
		return MaxSetpointF
	}
	return v
}

type commandMessage struct {
	Type    string         `json:"Type"`
	Zone    int            `json:"Zone"`
	Changes map[string]int `json:"Changes,omitempty"`
}

// EncodeGetStatus builds the status request command.
func EncodeGetStatus(zone int) []byte {
	payload, _ := json.Marshal(commandMessage{Type: "Get Status", Zone: zone})
	return payload
}

// EncodeChange builds a settings change command. Map keys are the
// thermostat's JSON field names (mode, coolSP, heatSP, eleFan, ...).
func EncodeChange(zone int, changes map[string]int) []byte {
	payload, _ := json.Marshal(commandMessage{Type: "Change", Zone: zone, Changes: changes})
	return payload
}
