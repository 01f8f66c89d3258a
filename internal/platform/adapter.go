package platform

import (
	"context"
	"math"
	"time"

	"github.com/nerrad567/almond-bridge/internal/accessory"
	"github.com/nerrad567/almond-bridge/internal/almond"
	"github.com/nerrad567/almond-bridge/internal/audit"
)

// identifyTimeout bounds the hub write triggered by an identify request.
const identifyTimeout = 5 * time.Second

// stateSink receives what an adapter observes. The controller implements
// it to persist and fan out state.
type stateSink interface {
	stateChanged(a *Adapter, on bool)
	consumptionChanged(a *Adapter, watts float64)
	setCompleted(a *Adapter, on bool, source string, err error)
	stateRead(a *Adapter)
}

// Adapter relays state between one hub switch value and its accessory.
type Adapter struct {
	uuid     string
	deviceID string
	valueID  string
	powerID  string // hub index of the power reading, "" if none

	sw   Switch
	hub  Hub
	sink stateSink
}

// NewAdapter binds sw to the hub value named by rec. The switch is marked
// reachable, its information is taken from device, and its displayed
// state is seeded from the hub's current value.
func NewAdapter(sw Switch, rec *accessory.Record, device almond.Device, hub Hub, sink stateSink) *Adapter {
	a := &Adapter{
		uuid:     rec.UUID,
		deviceID: rec.DeviceID,
		valueID:  rec.ValueID,
		sw:       sw,
		hub:      hub,
		sink:     sink,
	}
	if p, ok := device.PowerValue(); ok {
		a.powerID = p.ID
	}

	sw.SetReachable(true)
	sw.SetInformation(device.Manufacturer, device.Model)
	sw.OnGet(a.Get)
	sw.OnSet(a.Set)
	sw.OnIdentify(a.Identify)

	if value, ok := hub.Value(a.deviceID, a.valueID); ok {
		sw.UpdateOn(almond.IsOn(value))
	}
	return a
}

// UUID returns the accessory UUID.
func (a *Adapter) UUID() string { return a.uuid }

// DeviceID returns the hub device id.
func (a *Adapter) DeviceID() string { return a.deviceID }

// ValueID returns the hub value index.
func (a *Adapter) ValueID() string { return a.valueID }

// Get returns whether the hub's cached value is "true".
func (a *Adapter) Get() bool {
	if a.sink != nil {
		a.sink.stateRead(a)
	}
	value, _ := a.hub.Value(a.deviceID, a.valueID)
	return almond.IsOn(value)
}

// Set sends the new state to the hub. HomeKit shows the requested state
// once Set returns nil; a later hub report overrides it.
func (a *Adapter) Set(ctx context.Context, on bool) error {
	return a.set(ctx, on, audit.SourceHomeKit)
}

func (a *Adapter) set(ctx context.Context, on bool, source string) error {
	err := a.hub.SetValue(ctx, a.deviceID, a.valueID, almond.FormatBool(on))
	if a.sink != nil {
		a.sink.setCompleted(a, on, source, err)
	}
	return err
}

// Update applies a hub value change. Changes to other value indexes of
// the device are ignored. It reports whether the change applied.
func (a *Adapter) Update(valueID, value string) bool {
	if valueID != a.valueID {
		return false
	}

	on := almond.IsOn(value)
	a.sw.UpdateOn(on)
	if a.sink != nil {
		a.sink.stateChanged(a, on)
	}
	return true
}

// Identify toggles the switch.
func (a *Adapter) Identify() {
	ctx, cancel := context.WithTimeout(context.Background(), identifyTimeout)
	defer cancel()

	//nolint:errcheck // failures reach the sink
	a.set(ctx, !a.Get(), audit.SourceHomeKit)
}

// HasPower reports whether the device exposes a power reading.
func (a *Adapter) HasPower() bool { return a.powerID != "" }

// IsPowerValue reports whether valueID is the device's power reading.
func (a *Adapter) IsPowerValue(valueID string) bool {
	return a.powerID != "" && valueID == a.powerID
}

// UpdateConsumption mirrors a power reading to the consumption
// characteristic.
func (a *Adapter) UpdateConsumption(watts float64) {
	if math.IsNaN(watts) || math.IsInf(watts, 0) {
		return
	}
	a.sw.UpdateConsumption(int(math.Round(watts)))
	if a.sink != nil {
		a.sink.consumptionChanged(a, watts)
	}
}

// SetReachable marks the accessory reachable or not.
func (a *Adapter) SetReachable(reachable bool) {
	a.sw.SetReachable(reachable)
}
