package almond

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Command types understood by the hub.
const (
	cmdDeviceList        = "DeviceList"
	cmdUpdateDeviceIndex = "UpdateDeviceIndex"

	cmdDynamicIndexUpdated      = "DynamicIndexUpdated"
	cmdDynamicDeviceAdded       = "DynamicDeviceAdded"
	cmdDynamicDeviceUpdated     = "DynamicDeviceUpdated"
	cmdDynamicDeviceRemoved     = "DynamicDeviceRemoved"
	cmdDynamicAllDevicesRemoved = "DynamicAllDevicesRemoved"
)

// envelope is the part every hub message shares.
type envelope struct {
	MobileInternalIndex string `json:"MobileInternalIndex,omitempty"`
	CommandType         string `json:"CommandType"`
}

// deviceListRequest asks for every device and its values.
type deviceListRequest struct {
	envelope
}

// updateIndexRequest writes one device value.
type updateIndexRequest struct {
	envelope
	ID    string `json:"ID"`
	Index string `json:"Index"`
	Value string `json:"Value"`
}

// devicesMessage carries a device map keyed by device id. Used by the
// DeviceList response and by every Dynamic* notification.
type devicesMessage struct {
	envelope
	Devices map[string]wireDevice `json:"Devices"`
}

type wireDevice struct {
	Data         *wireDeviceData      `json:"Data,omitempty"`
	DeviceValues map[string]wireValue `json:"DeviceValues,omitempty"`
}

type wireDeviceData struct {
	ID                 string `json:"ID"`
	Name               string `json:"Name"`
	FriendlyDeviceType string `json:"FriendlyDeviceType"`
	Type               string `json:"Type"`
	Location           string `json:"Location"`
	Manufacturer       string `json:"Manufacturer"`
	Model              string `json:"Model"`
	Version            string `json:"Version"`
}

type wireValue struct {
	Name  string     `json:"Name"`
	Value flexString `json:"Value"`
}

// commandResponse is the hub's answer to a write. A missing Success is
// taken as accepted.
type commandResponse struct {
	envelope
	Success *flexBool `json:"Success"`
	Reason  string   `json:"Reason,omitempty"`
}

// flexBool accepts true, "true", false and "false".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.Trim(data, `"`)) {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// flexString accepts JSON strings and bare numbers or booleans, which some
// firmware sends for numeric sensor values.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if string(data) == "null" {
		*s = ""
		return nil
	}
	*s = flexString(data)
	return nil
}

// toDevice converts a wire device with id into the cached form.
func (w wireDevice) toDevice(id string) Device {
	d := Device{ID: id, Values: make(map[string]Value, len(w.DeviceValues))}
	if w.Data != nil {
		if w.Data.ID != "" {
			d.ID = w.Data.ID
		}
		d.Name = w.Data.Name
		d.Type = w.Data.Type
		d.FriendlyType = w.Data.FriendlyDeviceType
		d.Location = w.Data.Location
		d.Manufacturer = w.Data.Manufacturer
		d.Model = w.Data.Model
		d.Version = w.Data.Version
	}
	for idx, v := range w.DeviceValues {
		d.Values[idx] = Value{ID: idx, Name: v.Name, Value: string(v.Value)}
	}
	return d
}

// decodeDevices parses a devices message into cached devices sorted by id.
func decodeDevices(msg devicesMessage) []Device {
	devices := make([]Device, 0, len(msg.Devices))
	for id, w := range msg.Devices {
		devices = append(devices, w.toDevice(id))
	}
	sortDevices(devices)
	return devices
}

func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		return lessIndex(devices[i].ID, devices[j].ID)
	})
}
