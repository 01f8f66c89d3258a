package homekit

import (
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
)

// TypeConsumption is Eve's current power consumption characteristic.
const TypeConsumption = "E863F10D-079E-48FF-8F27-9C2605A29F52"

// typeBridgingState is the HAP BridgingState service.
const typeBridgingState = "62"

// HAP status codes returned from characteristic write handlers.
const (
	statusSuccess              = 0
	statusCommunicationFailure = -70402
	statusInvalidValue         = -70410
)

// consumption reports the current power draw in watts.
type consumption struct {
	*characteristic.Int
}

func newConsumption() *consumption {
	c := characteristic.NewInt(TypeConsumption)
	c.Format = characteristic.FormatUInt16
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	c.Unit = "W"
	c.Description = "Consumption"
	c.SetMinValue(0)
	c.SetMaxValue(65535)
	c.SetStepValue(1)
	c.SetValue(0)

	return &consumption{c}
}

// bridgingState carries the reachable flag of a bridged accessory.
type bridgingState struct {
	*service.S

	Reachable *characteristic.Reachable
}

func newBridgingState() *bridgingState {
	bs := &bridgingState{}
	bs.S = service.New(typeBridgingState)

	bs.Reachable = characteristic.NewReachable()
	bs.Reachable.Description = "Reachable"
	bs.S.AddC(bs.Reachable.C)

	return bs
}

// clampWatts bounds a reading to the uint16 range of the characteristic.
func clampWatts(watts int) int {
	switch {
	case watts < 0:
		return 0
	case watts > 65535:
		return 65535
	}
	return watts
}

// toBool accepts the encodings HomeKit controllers use for booleans.
func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	case uint8:
		return b != 0, true
	}
	return false, false
}
