package bridge

import "errors"

// Sentinel errors for the plugin engine.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownPluginType is returned when an instance names a plugin
	// type no factory has been registered for.
	ErrUnknownPluginType = errors.New("bridge: unknown plugin type")

	// ErrNoMatchingInstance is returned when a command topic does not
	// resolve to any running instance.
	ErrNoMatchingInstance = errors.New("bridge: no matching instance")

	// ErrInvalidInstance is returned when an instance configuration is
	// missing required fields for its plugin type.
	ErrInvalidInstance = errors.New("bridge: invalid instance")

	// ErrDecode is returned when device data cannot be parsed. Decode
	// failures drop the frame; they never tear down the connection.
	ErrDecode = errors.New("bridge: decode failed")

	// ErrUnsupportedCommand is returned when a command arrives for a
	// field the device does not accept writes on.
	ErrUnsupportedCommand = errors.New("bridge: unsupported command")

	// ErrAlreadyStarted is returned when Start is called on a running
	// driver or runner.
	ErrAlreadyStarted = errors.New("bridge: already started")
)
