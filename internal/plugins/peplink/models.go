package peplink

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/phurth/ble-plugin-bridge/internal/bridge"
)

// WAN connection types.
const (
	TypeEthernet = "ethernet"
	TypeCellular = "cellular"
	TypeWiFi     = "wifi"
	TypeVWAN     = "vwan"
	TypeUnknown  = "unknown"
)

// WAN connection statuses.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusDisabled     = "disabled"
	StatusUnknown      = "unknown"
)

// apiEnvelope is the wrapper every router endpoint returns.
type apiEnvelope struct {
	Stat     string          `json:"stat"`
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

// CellularInfo is the cellular sub-object of a WAN connection.
type CellularInfo struct {
	ModuleName     string `json:"moduleName"`
	SignalStrength int    `json:"signalStrength"`
	SignalQuality  int    `json:"signalQuality"`
	Carrier        string `json:"carrier"`
	NetworkType    string `json:"networkType"`
	Band           string `json:"band"`
}

// WiFiInfo is the wifi sub-object of a WAN connection.
type WiFiInfo struct {
	SSID           string `json:"ssid"`
	Frequency      string `json:"frequency"`
	SignalStrength int    `json:"signalStrength"`
	Channel        int    `json:"channel"`
}

// WANConnection is one decoded WAN from /api/status.wan.connection.
type WANConnection struct {
	ConnID   int
	Name     string
	Type     string
	Enabled  bool
	Status   string
	Message  string
	Priority int
	Uptime   int
	IP       string

	Cellular *CellularInfo
	WiFi     *WiFiInfo
}

type wanConnectionJSON struct {
	Name     string          `json:"name"`
	Enable   bool            `json:"enable"`
	Message  *string         `json:"message"`
	Priority *int            `json:"priority"`
	Uptime   *int            `json:"uptime"`
	IP       string          `json:"ip"`
	Cellular json.RawMessage `json:"cellular"`
	WiFi     json.RawMessage `json:"wifi"`
}

// DecodeWANStatus parses the response object of
// /api/status.wan.connection: connection objects keyed by stringified
// connection id. Non-integer keys are metadata and skipped.
func DecodeWANStatus(response []byte) (map[int]WANConnection, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(response, &entries); err != nil {
		return nil, fmt.Errorf("%w: wan status: %v", bridge.ErrDecode, err)
	}

	connections := make(map[int]WANConnection)
	for key, raw := range entries {
		connID, err := strconv.Atoi(key)
		if err != nil {
			continue
		}

		var src wanConnectionJSON
		if err := json.Unmarshal(raw, &src); err != nil {
			return nil, fmt.Errorf("%w: wan %d: %v", bridge.ErrDecode, connID, err)
		}

		conn := WANConnection{
			ConnID:  connID,
			Name:    src.Name,
			Enabled: src.Enable,
			IP:      src.IP,
		}
		if conn.Name == "" {
			conn.Name = fmt.Sprintf("WAN %d", connID)
		}
		if src.Message != nil {
			conn.Message = *src.Message
		}
		if src.Priority != nil {
			conn.Priority = *src.Priority
		}
		if src.Uptime != nil {
			conn.Uptime = *src.Uptime
		}

		if len(src.Cellular) > 0 {
			var info CellularInfo
			if err := json.Unmarshal(src.Cellular, &info); err != nil {
				return nil, fmt.Errorf("%w: wan %d cellular: %v", bridge.ErrDecode, connID, err)
			}
			conn.Cellular = &info
		}
		if len(src.WiFi) > 0 {
			var info WiFiInfo
			if err := json.Unmarshal(src.WiFi, &info); err != nil {
				return nil, fmt.Errorf("%w: wan %d wifi: %v", bridge.ErrDecode, connID, err)
			}
			conn.WiFi = &info
		}

		conn.Type = wanType(conn)
		conn.Status = wanStatus(conn)
		connections[connID] = conn
	}
	return connections, nil
}

func wanType(conn WANConnection) string {
	switch {
	case conn.Cellular != nil:
		return TypeCellular
	case conn.WiFi != nil:
		return TypeWiFi
	case strings.Contains(strings.ToLower(conn.Name), "vwan"):
		return TypeVWAN
	case strings.Contains(strings.ToLower(conn.Name), "ethernet"):
		return TypeEthernet
	default:
		return TypeUnknown
	}
}

func wanStatus(conn WANConnection) string {
	msg := strings.ToLower(conn.Message)
	switch {
	case !conn.Enabled:
		return StatusDisabled
	case strings.Contains(msg, "disconnected"):
		return StatusDisconnected
	case strings.Contains(msg, "connected"):
		return StatusConnected
	default:
		return StatusUnknown
	}
}

// SIMSlot is one slot of a multi-SIM cellular allowance entry.
type SIMSlot struct {
	SlotID  int
	Enabled bool
	Tracked bool
	Usage   int64
	Limit   int64
	Percent int
	Start   string
}

// Usage is one decoded entry of /api/status.wan.connection.allowance.
//
// The router returns one of two shapes per connection: a flat
// usage/limit/percent object, or an object keyed by stringified SIM
// slot numbers. Exactly one of the flat fields (Tracked) and Slots is
// populated; the shapes are never merged.
type Usage struct {
	ConnID  int
	Enabled bool
	Tracked bool
	Usage   int64
	Limit   int64
	Percent int
	Unit    string
	Start   string

	Slots map[int]SIMSlot
}

type usageJSON struct {
	Enable  bool   `json:"enable"`
	Usage   *int64 `json:"usage"`
	Limit   *int64 `json:"limit"`
	Percent *int   `json:"percent"`
	Unit    string `json:"unit"`
	Start   string `json:"start"`
}

// DecodeUsage parses the response object of the allowance endpoint:
// usage entries keyed by stringified connection id.
func DecodeUsage(response []byte) (map[int]Usage, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(response, &entries); err != nil {
		return nil, fmt.Errorf("%w: wan usage: %v", bridge.ErrDecode, err)
	}

	usage := make(map[int]Usage)
	for key, raw := range entries {
		connID, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		entry, err := decodeUsageEntry(connID, raw)
		if err != nil {
			return nil, err
		}
		usage[connID] = entry
	}
	return usage, nil
}

func decodeUsageEntry(connID int, raw json.RawMessage) (Usage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Usage{}, fmt.Errorf("%w: usage %d: %v", bridge.ErrDecode, connID, err)
	}

	// Integer keys mean a multi-SIM entry nested one level deeper.
	nested := false
	for key := range fields {
		if _, err := strconv.Atoi(key); err == nil {
			nested = true
			break
		}
	}

	if nested {
		entry := Usage{ConnID: connID, Slots: make(map[int]SIMSlot)}
		for key, slotRaw := range fields {
			slotID, err := strconv.Atoi(key)
			if err != nil {
				continue
			}
			var src usageJSON
			if err := json.Unmarshal(slotRaw, &src); err != nil {
				return Usage{}, fmt.Errorf("%w: usage %d slot %d: %v", bridge.ErrDecode, connID, slotID, err)
			}
			slot := SIMSlot{
				SlotID:  slotID,
				Enabled: src.Enable,
				Tracked: src.Usage != nil,
				Start:   src.Start,
			}
			if src.Usage != nil {
				slot.Usage = *src.Usage
			}
			if src.Limit != nil {
				slot.Limit = *src.Limit
			}
			if src.Percent != nil {
				slot.Percent = *src.Percent
			}
			entry.Slots[slotID] = slot
		}
		return entry, nil
	}

	var src usageJSON
	if err := json.Unmarshal(raw, &src); err != nil {
		return Usage{}, fmt.Errorf("%w: usage %d: %v", bridge.ErrDecode, connID, err)
	}
	entry := Usage{
		ConnID:  connID,
		Enabled: src.Enable,
		Tracked: src.Usage != nil,
		Unit:    src.Unit,
		Start:   src.Start,
	}
	if src.Usage != nil {
		entry.Usage = *src.Usage
	}
	if src.Limit != nil {
		entry.Limit = *src.Limit
	}
	if src.Percent != nil {
		entry.Percent = *src.Percent
	}
	return entry, nil
}
