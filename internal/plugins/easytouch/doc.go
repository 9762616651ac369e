// Package easytouch bridges Micro-Air EasyTouch RV thermostats to MQTT.
//
// The thermostat speaks JSON over three GATT characteristics: a password
// write unlocks the session, commands go to a write characteristic, and
// status arrives on a notify characteristic as a flat numeric array
// addressed by fixed indices. The driver polls for status on a fixed
// cadence and exposes one Home Assistant climate entity per instance.
package easytouch
