package platform

import "errors"

var (
	// ErrAccessoryNotFound is returned for a UUID the controller does not know.
	ErrAccessoryNotFound = errors.New("platform: accessory not found")

	// ErrAccessoryNotWired is returned when a cached accessory has no hub
	// device yet and cannot be switched.
	ErrAccessoryNotWired = errors.New("platform: accessory not wired to a hub device")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("platform: controller stopped")
)
