package homekit

import "errors"

var (
	// ErrAccessoryExists is returned when registering a UUID the host
	// already serves.
	ErrAccessoryExists = errors.New("homekit: accessory already registered")

	// ErrAccessoryNotFound is returned when unregistering an unknown UUID.
	ErrAccessoryNotFound = errors.New("homekit: accessory not registered")

	// ErrIDCollision is returned when two accessory UUIDs map to the same
	// HAP accessory id.
	ErrIDCollision = errors.New("homekit: accessory id collision")

	// ErrInvalidConfig is returned by NewHost for unusable settings.
	ErrInvalidConfig = errors.New("homekit: invalid config")
)
