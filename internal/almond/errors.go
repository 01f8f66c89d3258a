package almond

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	// ErrConnectionFailed is returned when the hub cannot be dialled.
	ErrConnectionFailed = errors.New("almond: connection failed")

	// ErrNotConnected is returned for requests while no session is open.
	ErrNotConnected = errors.New("almond: not connected")

	// ErrTimeout is returned when the hub does not answer a request in time.
	ErrTimeout = errors.New("almond: request timed out")

	// ErrCommandRejected is returned when the hub answers Success=false.
	ErrCommandRejected = errors.New("almond: command rejected")

	// ErrDeviceNotFound is returned for device ids missing from the cache.
	ErrDeviceNotFound = errors.New("almond: device not found")

	// ErrValueNotFound is returned for value indexes the device lacks.
	ErrValueNotFound = errors.New("almond: value not found")

	// ErrReconnectExhausted is returned by Run when MaxReconnectAttempts is reached.
	ErrReconnectExhausted = errors.New("almond: reconnect attempts exhausted")
)
