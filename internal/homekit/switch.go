package homekit

import (
	"context"
	"net/http"
	"sync"

	hapaccessory "github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"

	"github.com/nerrad567/almond-bridge/internal/accessory"
)

// Switch is the HomeKit side of one bridged accessory.
type Switch struct {
	uuid     string
	a        *hapaccessory.A
	bridging *bridgingState
	changed  func()

	mu          sync.RWMutex
	sw          *service.Switch
	consumption *consumption
	onGet       func() bool
	onSet       func(context.Context, bool) error
	onIdentify  func()
}

func newSwitch(rec *accessory.Record, firmware string, changed func()) *Switch {
	info := hapaccessory.Info{
		Name:         rec.DisplayName,
		SerialNumber: rec.UUID,
		Manufacturer: rec.Manufacturer,
		Model:        rec.Model,
		Firmware:     firmware,
	}

	s := &Switch{
		uuid:     rec.UUID,
		a:        hapaccessory.New(info, hapaccessory.TypeSwitch),
		bridging: newBridgingState(),
		changed:  changed,
	}
	s.a.Id = accessory.HAPID(rec.UUID)
	s.a.IdentifyFunc = func(*http.Request) { s.identify() }
	s.a.AddS(s.bridging.S)
	s.bridging.Reachable.SetValue(rec.Reachable)

	if rec.HasService(accessory.ServiceSwitch) {
		s.addSwitch(rec.DisplayName)
	}
	if rec.HasService(accessory.ServiceConsumption) {
		s.addConsumption()
	}
	if rec.LastState != nil && s.sw != nil {
		s.sw.On.SetValue(*rec.LastState)
	}
	return s
}

// UUID returns the accessory UUID.
func (s *Switch) UUID() string { return s.uuid }

// ID returns the HAP accessory id.
func (s *Switch) ID() uint64 { return s.a.Id }

// Accessory returns the underlying hap accessory.
func (s *Switch) Accessory() *hapaccessory.A { return s.a }

// HasSwitchService reports whether the switch service exists.
func (s *Switch) HasSwitchService() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sw != nil
}

// AddSwitchService adds a switch service labelled name. It is a no-op when
// the service already exists.
func (s *Switch) AddSwitchService(name string) {
	s.mu.Lock()
	added := s.sw == nil
	if added {
		s.addSwitch(name)
	}
	s.mu.Unlock()

	if added {
		s.notifyChanged()
	}
}

// addSwitch must be called with mu held or before s is shared.
func (s *Switch) addSwitch(name string) {
	s.sw = service.NewSwitch()

	n := characteristic.NewName()
	n.SetValue(name)
	s.sw.AddC(n.C)

	s.sw.On.ValueRequestFunc = func(*http.Request) (interface{}, int) {
		return s.get(), statusSuccess
	}
	s.sw.On.SetValueRequestFunc = func(v interface{}, r *http.Request) (interface{}, int) {
		on, ok := toBool(v)
		if !ok {
			return nil, statusInvalidValue
		}
		ctx := context.Background()
		if r != nil {
			ctx = r.Context()
		}
		if err := s.set(ctx, on); err != nil {
			return nil, statusCommunicationFailure
		}
		return nil, statusSuccess
	}

	s.a.AddS(s.sw.S)
	if s.consumption != nil {
		s.sw.AddC(s.consumption.C)
	}
}

// HasConsumption reports whether the consumption characteristic exists.
func (s *Switch) HasConsumption() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consumption != nil
}

// EnableConsumption adds the Eve consumption characteristic to the switch
// service. It is a no-op when present.
func (s *Switch) EnableConsumption() {
	s.mu.Lock()
	added := s.consumption == nil
	if added {
		s.addConsumption()
	}
	s.mu.Unlock()

	if added {
		s.notifyChanged()
	}
}

func (s *Switch) addConsumption() {
	s.consumption = newConsumption()
	if s.sw != nil {
		s.sw.AddC(s.consumption.C)
	}
}

// SetInformation updates the manufacturer and model shown in the Home app.
// Empty values leave the current ones in place.
func (s *Switch) SetInformation(manufacturer, model string) {
	if manufacturer != "" {
		s.a.Info.Manufacturer.SetValue(manufacturer)
	}
	if model != "" {
		s.a.Info.Model.SetValue(model)
	}
}

// Manufacturer returns the manufacturer shown in the Home app.
func (s *Switch) Manufacturer() string { return s.a.Info.Manufacturer.Value() }

// Model returns the model shown in the Home app.
func (s *Switch) Model() string { return s.a.Info.Model.Value() }

// SetReachable updates the bridging state.
func (s *Switch) SetReachable(reachable bool) {
	s.bridging.Reachable.SetValue(reachable)
}

// Reachable returns the bridging state.
func (s *Switch) Reachable() bool {
	return s.bridging.Reachable.Value()
}

// OnGet installs the handler answering HomeKit reads of the on state.
func (s *Switch) OnGet(fn func() bool) {
	s.mu.Lock()
	s.onGet = fn
	s.mu.Unlock()
}

// OnSet installs the handler for HomeKit writes of the on state. A
// returned error is reported to the controller as a communication failure
// and the displayed state is left alone. On success hap keeps the written
// value.
func (s *Switch) OnSet(fn func(ctx context.Context, on bool) error) {
	s.mu.Lock()
	s.onSet = fn
	s.mu.Unlock()
}

// OnIdentify installs the identify handler.
func (s *Switch) OnIdentify(fn func()) {
	s.mu.Lock()
	s.onIdentify = fn
	s.mu.Unlock()
}

// UpdateOn sets the displayed on state and notifies subscribed controllers.
func (s *Switch) UpdateOn(on bool) {
	s.mu.RLock()
	sw := s.sw
	s.mu.RUnlock()
	if sw != nil {
		sw.On.SetValue(on)
	}
}

// On returns the displayed on state.
func (s *Switch) On() bool {
	s.mu.RLock()
	sw := s.sw
	s.mu.RUnlock()
	return sw != nil && sw.On.Value()
}

// UpdateConsumption sets the consumption reading in watts. It is ignored
// until EnableConsumption has been called.
func (s *Switch) UpdateConsumption(watts int) {
	s.mu.RLock()
	c := s.consumption
	s.mu.RUnlock()
	if c != nil {
		c.SetValue(clampWatts(watts))
	}
}

// Consumption returns the last consumption reading.
func (s *Switch) Consumption() int {
	s.mu.RLock()
	c := s.consumption
	s.mu.RUnlock()
	if c == nil {
		return 0
	}
	return c.Value()
}

func (s *Switch) get() bool {
	s.mu.RLock()
	fn, sw := s.onGet, s.sw
	s.mu.RUnlock()
	if fn == nil {
		return sw != nil && sw.On.Value()
	}
	return fn()
}

func (s *Switch) set(ctx context.Context, on bool) error {
	s.mu.RLock()
	fn := s.onSet
	s.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, on)
}

func (s *Switch) identify() {
	s.mu.RLock()
	fn := s.onIdentify
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (s *Switch) notifyChanged() {
	if s.changed != nil {
		s.changed()
	}
}
