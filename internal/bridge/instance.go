package bridge

import (
	"fmt"
	"strings"

	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/config"
)

// Instance is one configured device binding: a plugin type plus the
// address (BLE MAC or network host) it drives.
//
// ID is stable across restarts; it seeds MQTT topics and Home Assistant
// unique IDs, so changing the derivation would orphan existing entities.
type Instance struct {
	// ID uniquely identifies this instance, derived from the plugin
	// type and address. Example: hughes_ddeeff.
	ID string

	// PluginType names the plugin that drives this instance.
	PluginType string

	// MAC is the BLE address for GATT and advertisement plugins.
	MAC string

	// Host is the network address for REST plugins.
	Host string

	// DisplayName is the human-facing name used in discovery payloads.
	// Defaults to ID when not configured.
	DisplayName string

	// Config carries plugin-specific settings (tank geometry, API
	// credentials) the engine does not interpret.
	Config map[string]string
}

// NewInstance builds an Instance from configuration, deriving the ID.
func NewInstance(cfg config.InstanceConfig) (Instance, error) {
	if cfg.PluginType == "" {
		return Instance{}, fmt.Errorf("%w: plugin type is empty", ErrInvalidInstance)
	}
	if cfg.MAC == "" && cfg.Host == "" {
		return Instance{}, fmt.Errorf("%w: %s instance has neither mac nor host", ErrInvalidInstance, cfg.PluginType)
	}

	inst := Instance{
		ID:          DeriveInstanceID(cfg.PluginType, cfg.MAC, cfg.Host),
		PluginType:  cfg.PluginType,
		MAC:         cfg.MAC,
		Host:        cfg.Host,
		DisplayName: cfg.DisplayName,
		Config:      cfg.Config,
	}
	if inst.DisplayName == "" {
		inst.DisplayName = inst.ID
	}
	return inst, nil
}

// DeriveInstanceID returns the stable instance identifier.
//
// BLE instances use the last six hex digits of the MAC, lowercased:
// hughes with AA:BB:CC:DD:EE:FF becomes hughes_ddeeff. Network
// instances use the sanitized host: peplink with 192.168.1.1 becomes
// peplink_192_168_1_1.
func DeriveInstanceID(pluginType, mac, host string) string {
	if mac != "" {
		hex := strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(mac))
		if len(hex) > 6 {
			hex = hex[len(hex)-6:]
		}
		return pluginType + "_" + hex
	}
	return pluginType + "_" + sanitizeIDPart(host)
}

// sanitizeIDPart lowercases s and replaces every run of characters
// outside [a-z0-9] with a single underscore.
func sanitizeIDPart(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// OwnsDevice reports whether a command deviceID belongs to this
// instance. Single-device plugins publish under the instance ID itself;
// multi-device gateways suffix it with a sub-device identifier.
func (i Instance) OwnsDevice(deviceID string) bool {
	return deviceID == i.ID || strings.HasPrefix(deviceID, i.ID+"_")
}
