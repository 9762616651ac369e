package mopeka

import (
	"fmt"

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

// PluginType is the plugin type name used in configuration and topics.
const PluginType = "mopeka"

// ManufacturerID is the Bluetooth SIG company identifier Mopeka (Sil
// Wireless) advertises under.
const ManufacturerID = 0x0059

// ServiceUUID is advertised by all Mopeka check sensors.
const ServiceUUID = "0000fee5-0000-1000-8000-00805f9b34fb"

// minPayloadLen is the smallest manufacturer data payload that carries
// a full reading.
const minPayloadLen = 10

// Model identifies the sensor hardware from the sync byte.
type Model byte

// Known sensor models.
const (
	ModelProPlus           Model = 0x03
	ModelProCheck          Model = 0x04
	ModelPro200            Model = 0x05
	ModelProH2O            Model = 0x08
	ModelProH2OPlus        Model = 0x09
	ModelLippertBottleChek Model = 0x0A
	ModelTD40              Model = 0x0B
	ModelTD200             Model = 0x0C
)

// String returns the marketing name for the model.
func (m Model) String() string {
	switch m {
	case ModelProPlus:
		return "Pro Plus"
	case ModelProCheck:
		return "Pro Check"
	case ModelPro200:
		return "Pro-200"
	case ModelProH2O:
		return "Pro Check H2O"
	case ModelProH2OPlus:
		return "Pro Plus H2O"
	case ModelLippertBottleChek:
		return "Lippert BottleChek"
	case ModelTD40:
		return "TD40"
	case ModelTD200:
		return "TD200"
	default:
		return fmt.Sprintf("Unknown (0x%02X)", byte(m))
	}
}

// known reports whether the sync byte names a supported model.
func (m Model) known() bool {
	switch m {
	case ModelProPlus, ModelProCheck, ModelPro200, ModelProH2O,
		ModelProH2OPlus, ModelLippertBottleChek, ModelTD40, ModelTD200:
		return true
	}
	return false
}

// Medium is the fluid being measured. The speed of sound differs per
// medium, so compensation coefficients do too.
type Medium string

// Supported tank media.
const (
	MediumPropane   Medium = "propane"
	MediumAir       Medium = "air"
	MediumWater     Medium = "water"
	MediumGasoline  Medium = "gasoline"
	MediumDiesel    Medium = "diesel"
	MediumLNG       Medium = "lng"
	MediumOil       Medium = "oil"
	MediumHydraulic Medium = "hydraulic"
)

// coefficients returns the temperature compensation polynomial for the
// medium. Water-family and fuel-family media share curves.
func (m Medium) coefficients() (c0, c1, c2 float64) {
	switch m {
	case MediumAir:
		return 0.153096, 0.000327, -0.000000294
	case MediumWater:
		return 0.600592, 0.003124, -0.00001368
	case MediumGasoline, MediumDiesel, MediumLNG, MediumOil, MediumHydraulic:
		return 0.7373417462, -0.001978229885, 0.00000202162
	default:
		return 0.573045, -0.002822, -0.00000535
	}
}

// Reading is one decoded advertisement.
type Reading struct {
	Model          Model
	BatteryVolts   float64
	BatteryPercent float64

	// TemperatureC is the sensor temperature. RawTemperature is the
	// unshifted register value the compensation polynomial expects.
	TemperatureC   float64
	RawTemperature byte

	// RawDistance is the uncompensated echo time value.
	RawDistance uint16

	// Quality is the echo confidence scaled to 0-100.
	Quality int

	ButtonPressed bool
	AccelX        byte
	AccelY        byte
}

// DistanceMM returns the temperature-compensated liquid level distance
// in millimetres for the given medium.
func (r Reading) DistanceMM(medium Medium) float64 {
	c0, c1, c2 := medium.coefficients()
	t := float64(r.RawTemperature)
	return float64(r.RawDistance) * (c0 + c1*t + c2*t*t)
}

// Decode parses the manufacturer data payload of one advertisement.
//
// Short or unrecognised payloads return ErrDecode; the caller drops
// the advertisement and waits for the next one.
func Decode(data []byte) (Reading, error) {
	if len(data) < minPayloadLen {
		return Reading{}, fmt.Errorf("%w: payload length %d, want >= %d", bridge.ErrDecode, len(data), minPayloadLen)
	}

	model := Model(data[0])
	if !model.known() {
		return Reading{}, fmt.Errorf("%w: unknown sensor model 0x%02X", bridge.ErrDecode, data[0])
	}

	batteryVolts := float64(data[1]) / 32.0
	batteryPercent := clampPercent((batteryVolts - 2.2) / 0.65 * 100)

	rawTemp := data[2] & 0x7F
	qualityRaw := data[4] >> 6

	return Reading{
		Model:          model,
		BatteryVolts:   batteryVolts,
		BatteryPercent: batteryPercent,
		TemperatureC:   float64(rawTemp) - 40,
		RawTemperature: rawTemp,
		RawDistance:    uint16(data[4]&0x3F)<<8 | uint16(data[3]),
		Quality:        int(qualityRaw) * 100 / 3,
		ButtonPressed:  data[2]&0x80 != 0,
		AccelX:         data[8],
		AccelY:         data[9],
	}, nil
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
