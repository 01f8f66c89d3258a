package accessory

import (
	"fmt"
	"slices"
	"time"
)

// Service names stored on a record. They tell the HomeKit host which
// services to rebuild when the record is restored.
const (
	ServiceSwitch      = "switch"
	ServiceConsumption = "consumption"
)

const maxDisplayNameLength = 64

// Record is a persisted accessory.
type Record struct {
	UUID         string    `json:"uuid"`
	DisplayName  string    `json:"display_name"`
	DeviceID     string    `json:"device_id"`
	ValueID      string    `json:"value_id"`
	Services     []string  `json:"services"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Model        string    `json:"model,omitempty"`
	Reachable    bool      `json:"reachable"`
	LastState    *bool     `json:"last_state,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasService reports whether the record carries the named service.
func (r *Record) HasService(name string) bool {
	return slices.Contains(r.Services, name)
}

// AddService appends the named service when missing and reports whether
// the record changed.
func (r *Record) AddService(name string) bool {
	if r.HasService(name) {
		return false
	}
	r.Services = append(r.Services, name)
	return true
}

// DeepCopy returns a copy sharing no slices or pointers with r.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Services = slices.Clone(r.Services)
	if r.LastState != nil {
		v := *r.LastState
		c.LastState = &v
	}
	return &c
}

// Validate checks the fields required to persist a record.
func (r *Record) Validate() error {
	switch {
	case r.UUID == "":
		return fmt.Errorf("%w: uuid is required", ErrInvalidRecord)
	case r.DeviceID == "":
		return fmt.Errorf("%w: device_id is required", ErrInvalidRecord)
	case r.ValueID == "":
		return fmt.Errorf("%w: value_id is required", ErrInvalidRecord)
	case r.DisplayName == "":
		return fmt.Errorf("%w: display_name is required", ErrInvalidRecord)
	case len(r.DisplayName) > maxDisplayNameLength:
		return fmt.Errorf("%w: display_name exceeds %d characters", ErrInvalidRecord, maxDisplayNameLength)
	}
	return nil
}
