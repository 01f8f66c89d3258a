package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSwitchState = "switch_state"
	MeasurementConsumption = "consumption"
)

// WriteSwitchState records the on state of an accessory.
//
// The point is written to the switch_state measurement, tagged with the
// accessory UUID, hub device id and value index, with a boolean "on"
// field. The write is buffered and returns immediately.
//
// Parameters:
//   - uuid: accessory UUID
//   - deviceID: hub device id
//   - valueID: hub value index of the switch
//   - on: the state the hub reported
func (c *Client) WriteSwitchState(uuid, deviceID, valueID string, on bool) {
	c.writePoint(switchStatePoint(uuid, deviceID, valueID, on, time.Now()))
}

// WriteConsumption records a power reading in watts.
//
// The point is written to the consumption measurement, tagged with the
// accessory UUID and hub device id, with a float "watts" field.
//
// Parameters:
//   - uuid: accessory UUID
//   - deviceID: hub device id
//   - watts: the reading as reported by the hub
func (c *Client) WriteConsumption(uuid, deviceID string, watts float64) {
	c.writePoint(consumptionPoint(uuid, deviceID, watts, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func switchStatePoint(uuid, deviceID, valueID string, on bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSwitchState,
		map[string]string{
			"uuid":      uuid,
			"device_id": deviceID,
			"value_id":  valueID,
		},
		map[string]interface{}{
			"on": on,
		},
		ts,
	)
}

func consumptionPoint(uuid, deviceID string, watts float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementConsumption,
		map[string]string{
			"uuid":      uuid,
			"device_id": deviceID,
		},
		map[string]interface{}{
			"watts": watts,
		},
		ts,
	)
}
