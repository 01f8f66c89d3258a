package almond

import (
	"maps"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Device is a hub device as cached by the client.
type Device struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	FriendlyType string           `json:"friendly_type,omitempty"`
	Location     string           `json:"location,omitempty"`
	Manufacturer string           `json:"manufacturer,omitempty"`
	Model        string           `json:"model,omitempty"`
	Version      string           `json:"version,omitempty"`
	Values       map[string]Value `json:"values"`
}

// Value is one indexed property of a device. The hub reports every value
// as a string; binary switches use "true" and "false".
type Value struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Clone returns a copy that shares no map with d.
func (d Device) Clone() Device {
	d.Values = maps.Clone(d.Values)
	if d.Values == nil {
		d.Values = map[string]Value{}
	}
	return d
}

// SwitchValues returns the device's binary switch values ordered by index.
func (d Device) SwitchValues() []Value {
	var out []Value
	for _, v := range d.Values {
		if IsSwitchValue(v.Name) {
			out = append(out, v)
		}
	}
	sortValues(out)
	return out
}

// Supported reports whether the bridge can expose the device.
func (d Device) Supported() bool {
	for _, v := range d.Values {
		if IsSwitchValue(v.Name) {
			return true
		}
	}
	return false
}

// PowerValue returns the value carrying instantaneous power in watts.
func (d Device) PowerValue() (Value, bool) {
	for _, v := range d.Values {
		if normalizeName(v.Name) == "POWER" {
			return v, true
		}
	}
	return Value{}, false
}

// IsSwitchValue reports whether a value name denotes a binary switch.
// The hub spells these "SWITCH BINARY", "SWITCH_BINARY1", "SwitchBinary2"
// depending on firmware and endpoint.
func IsSwitchValue(name string) bool {
	n := normalizeName(name)
	suffix, ok := strings.CutPrefix(n, "SWITCHBINARY")
	if !ok {
		return false
	}
	if suffix == "" {
		return true
	}
	_, err := strconv.Atoi(suffix)
	return err == nil
}

// IsOn interprets a hub switch value. Only the exact string "true" is on.
func IsOn(value string) bool {
	return value == "true"
}

// FormatBool renders a switch state in the hub's wire format.
func FormatBool(on bool) string {
	return strconv.FormatBool(on)
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.NewReplacer(" ", "", "_", "").Replace(name))
}

func sortValues(values []Value) {
	sort.Slice(values, func(i, j int) bool {
		return lessIndex(values[i].ID, values[j].ID)
	})
}

// lessIndex orders hub ids numerically when both parse, else lexically.
func lessIndex(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}

// EventType identifies an Event.
type EventType string

// Event types emitted by the client.
const (
	EventReady         EventType = "ready"
	EventValueUpdated  EventType = "value_updated"
	EventDeviceAdded   EventType = "device_added"
	EventDeviceUpdated EventType = "device_updated"
	EventDeviceRemoved EventType = "device_removed"
	EventConnection    EventType = "connection"
)

// Event is delivered to the callback set with SetOnEvent.
type Event struct {
	Type EventType

	// DeviceID is set for value and device events.
	DeviceID string

	// ValueID and Value are set for EventValueUpdated.
	ValueID string
	Value   string

	// Device is a snapshot for device added/updated events.
	Device *Device

	// Devices is the full device list for EventReady.
	Devices []Device

	// Connected is set for EventConnection.
	Connected bool
}

// Stats holds operational statistics.
type Stats struct {
	MessagesTx    uint64    `json:"messages_tx"`
	MessagesRx    uint64    `json:"messages_rx"`
	EventsDropped uint64    `json:"events_dropped"`
	ErrorsTotal   uint64    `json:"errors_total"`
	Reconnects    uint64    `json:"reconnects"`
	Devices       int       `json:"devices"`
	LastActivity  time.Time `json:"last_activity"`
	Connected     bool      `json:"connected"`
	Reconnecting  bool      `json:"reconnecting"`
}
