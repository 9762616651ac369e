// Package peplink bridges Peplink routers to MQTT over the router's
// local REST API.
//
// The driver polls WAN connection status and data allowance, publishes
// one set of entities per WAN, and translates priority and modem-reset
// commands back into API calls. Discovered WAN topology is cached in
// the hardware store so entity discovery survives restarts.
package peplink
