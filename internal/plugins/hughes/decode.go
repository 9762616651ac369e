package hughes

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

// PluginType is the plugin type name used in configuration and topics.
const PluginType = "hughes"

// GATT identifiers for the Power Watchdog's status stream.
const (
	ServiceUUID    = "0000ffe0-0000-1000-8000-00805f9b34fb"
	NotifyCharUUID = "0000ffe2-0000-1000-8000-00805f9b34fb"
	WriteCharUUID  = "0000fff5-0000-1000-8000-00805f9b34fb"
)

// Frame layout. Each status frame is 40 bytes delivered as two 20-byte
// notifications; a second chunk that misses this window is discarded.
const (
	FrameSize    = 40
	ChunkTimeout = time.Second
)

// FrameHeader starts every status frame.
var FrameHeader = []byte{0x01, 0x03, 0x20}

// Advertised name prefixes. PMD is the 30/50A Power Watchdog, PWS the
// older Power Watchdog surge line.
var NamePrefixes = []string{"PMD", "PWS"}

// errorLabels maps the frame error code to the fault name shown on the
// vendor app.
var errorLabels = []string{
	"OK",
	"Overvoltage L1",
	"Overvoltage L2",
	"Undervoltage L1",
	"Undervoltage L2",
	"Overcurrent L1",
	"Overcurrent L2",
	"Hot/Neutral Reversed",
	"Lost Ground",
	"No RV Neutral",
}

// Reading is one decoded status frame.
type Reading struct {
	Volts     float64
	Amps      float64
	Watts     float64
	EnergyKWh float64
	Frequency float64
	ErrorCode byte
	Line      int
}

// ErrorLabel returns the fault name for the reading's error code, or
// a numeric fallback for codes newer than this table.
func (r Reading) ErrorLabel() string {
	if int(r.ErrorCode) < len(errorLabels) {
		return errorLabels[r.ErrorCode]
	}
	return fmt.Sprintf("Error %d", r.ErrorCode)
}

// DecodeFrame parses one 40-byte status frame.
//
// Electrical values are big-endian int32 scaled by 10000 (frequency by
// 100). Bytes 37-39 mark the line: all zeros is L1, all ones is L2.
func DecodeFrame(frame []byte) (Reading, error) {
	if len(frame) != FrameSize {
		return Reading{}, fmt.Errorf("%w: frame length %d, want %d", bridge.ErrDecode, len(frame), FrameSize)
	}
	if frame[0] != FrameHeader[0] || frame[1] != FrameHeader[1] || frame[2] != FrameHeader[2] {
		return Reading{}, fmt.Errorf("%w: bad frame header % x", bridge.ErrDecode, frame[:3])
	}

	r := Reading{
		Volts:     scaled(frame, 3, 10000),
		Amps:      scaled(frame, 7, 10000),
		Watts:     scaled(frame, 11, 10000),
		EnergyKWh: scaled(frame, 15, 10000),
		ErrorCode: frame[19],
		Frequency: scaled(frame, 31, 100),
	}

	switch {
	case frame[37] == 0 && frame[38] == 0 && frame[39] == 0:
		r.Line = 1
	case frame[37] == 1 && frame[38] == 1 && frame[39] == 1:
		r.Line = 2
	default:
		return Reading{}, fmt.Errorf("%w: unrecognised line marker % x", bridge.ErrDecode, frame[37:40])
	}

	return r, nil
}

func scaled(frame []byte, offset int, divisor float64) float64 {
	return float64(int32(binary.BigEndian.Uint32(frame[offset:offset+4]))) / divisor
}

// MatchesName reports whether an advertised local name belongs to a
// Power Watchdog. An empty name is accepted; some firmware omits the
// name from connectable advertisements.
func MatchesName(name string) bool {
	if name == "" {
		return true
	}
	for _, prefix := range NamePrefixes {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
