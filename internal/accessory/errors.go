package accessory

import "errors"

// Domain errors for the accessory package, checked with errors.Is.
var (
	// ErrAccessoryNotFound is returned when no record exists for a UUID.
	ErrAccessoryNotFound = errors.New("accessory: not found")

	// ErrAccessoryExists is returned when creating a record whose UUID or
	// device value pair is already stored.
	ErrAccessoryExists = errors.New("accessory: already exists")

	// ErrInvalidRecord is returned when record validation fails.
	ErrInvalidRecord = errors.New("accessory: invalid record")
)
