// Package config handles loading and validating BLE bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (BLEBRIDGE_* pattern)
//   - Validation before the rest of the application starts
//
// Configuration precedence (highest wins):
//  1. Environment variables
//  2. YAML file values
//  3. Hardcoded defaults
//
// # Instances
//
// The instances section is the unit of device management: each entry maps
// a plugin type to one physical device, identified by MAC address (BLE
// plugins) or host address (REST plugins), and carries plugin-specific
// settings as a free-form string map:
//
//	instances:
//	  - plugin: mopeka
//	    mac: "AA:BB:CC:DD:EE:FF"
//	    name: "Propane Tank"
//	    enabled: true
//	    config:
//	      medium: propane
//	      tank_height_mm: "254"
package config
