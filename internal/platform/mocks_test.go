package platform

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/almond-bridge/internal/accessory"
	"github.com/nerrad567/almond-bridge/internal/almond"
	"github.com/nerrad567/almond-bridge/internal/audit"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/mqtt"
)

// mockSwitch records what the controller does to an accessory.
type mockSwitch struct {
	mu          sync.Mutex
	uuid        string
	hasSwitch   bool
	switchName  string
	consumption bool
	watts       int
	on          bool
	reachable   bool
	manufacture string
	model       string
	onGet       func() bool
	onSet       func(ctx context.Context, on bool) error
	onIdentify  func()
}

func (s *mockSwitch) UUID() string { return s.uuid }

func (s *mockSwitch) HasSwitchService() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasSwitch
}

func (s *mockSwitch) AddSwitchService(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasSwitch = true
	s.switchName = name
}

func (s *mockSwitch) HasConsumption() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumption
}

func (s *mockSwitch) EnableConsumption() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumption = true
}

func (s *mockSwitch) SetInformation(manufacturer, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manufacture, s.model = manufacturer, model
}

func (s *mockSwitch) SetReachable(reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reachable = reachable
}

func (s *mockSwitch) OnGet(fn func() bool) { s.onGet = fn }

func (s *mockSwitch) OnSet(fn func(ctx context.Context, on bool) error) { s.onSet = fn }

func (s *mockSwitch) OnIdentify(fn func()) { s.onIdentify = fn }

func (s *mockSwitch) UpdateOn(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = on
}

func (s *mockSwitch) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

func (s *mockSwitch) UpdateConsumption(watts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watts = watts
}

func (s *mockSwitch) isReachable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable
}

func (s *mockSwitch) consumptionWatts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watts
}

// mockHost is an in-memory HomeKit host.
type mockHost struct {
	mu          sync.Mutex
	switches    map[string]*mockSwitch
	registered  []string
	restored    []string
	unregisters []string
	registerErr error
}

func newMockHost() *mockHost {
	return &mockHost{switches: make(map[string]*mockSwitch)}
}

func (h *mockHost) add(rec *accessory.Record) (*mockSwitch, error) {
	if _, ok := h.switches[rec.UUID]; ok {
		return nil, errors.New("accessory exists")
	}
	sw := &mockSwitch{
		uuid:        rec.UUID,
		hasSwitch:   rec.HasService(accessory.ServiceSwitch),
		consumption: rec.HasService(accessory.ServiceConsumption),
	}
	if rec.LastState != nil {
		sw.on = *rec.LastState
	}
	h.switches[rec.UUID] = sw
	return sw, nil
}

func (h *mockHost) Restore(rec *accessory.Record) (Switch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sw, err := h.add(rec)
	if err != nil {
		return nil, err
	}
	h.restored = append(h.restored, rec.UUID)
	return sw, nil
}

func (h *mockHost) Register(rec *accessory.Record) (Switch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registerErr != nil {
		return nil, h.registerErr
	}
	sw, err := h.add(rec)
	if err != nil {
		return nil, err
	}
	h.registered = append(h.registered, rec.UUID)
	return sw, nil
}

func (h *mockHost) Unregister(uuid string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.switches[uuid]; !ok {
		return errors.New("accessory not found")
	}
	delete(h.switches, uuid)
	h.unregisters = append(h.unregisters, uuid)
	return nil
}

func (h *mockHost) get(uuid string) *mockSwitch {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.switches[uuid]
}

func (h *mockHost) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.switches)
}

// mockHub is an in-memory Almond hub. SetValue applies the value and
// emits a value update, like the real hub does.
type mockHub struct {
	mu        sync.Mutex
	devices   map[string]almond.Device
	connected bool
	setErr    error
	sets      []string
	onEvent   func(almond.Event)
	echo      bool
}

func newMockHub(devices ...almond.Device) *mockHub {
	h := &mockHub{devices: make(map[string]almond.Device), connected: true, echo: true}
	for _, d := range devices {
		h.devices[d.ID] = d.Clone()
	}
	return h
}

func (h *mockHub) Devices() []almond.Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]almond.Device, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *mockHub) Device(id string) (almond.Device, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[id]
	return d.Clone(), ok
}

func (h *mockHub) Value(deviceID, valueID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[deviceID]
	if !ok {
		return "", false
	}
	v, ok := d.Values[valueID]
	return v.Value, ok
}

func (h *mockHub) SetValue(_ context.Context, deviceID, valueID, value string) error {
	h.mu.Lock()
	h.sets = append(h.sets, deviceID+"/"+valueID+"="+value)
	if h.setErr != nil {
		err := h.setErr
		h.mu.Unlock()
		return err
	}
	d, ok := h.devices[deviceID]
	if !ok {
		h.mu.Unlock()
		return almond.ErrDeviceNotFound
	}
	v := d.Values[valueID]
	v.Value = value
	d.Values[valueID] = v
	echo, fn := h.echo, h.onEvent
	h.mu.Unlock()

	if echo && fn != nil {
		fn(almond.Event{Type: almond.EventValueUpdated, DeviceID: deviceID, ValueID: valueID, Value: value})
	}
	return nil
}

func (h *mockHub) SetOnEvent(fn func(almond.Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvent = fn
}

func (h *mockHub) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *mockHub) Stats() almond.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return almond.Stats{Connected: h.connected, Devices: len(h.devices)}
}

// emit delivers an event the way the client's dispatch worker does.
func (h *mockHub) emit(ev almond.Event) {
	h.mu.Lock()
	fn := h.onEvent
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *mockHub) setValueCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.sets...)
}

// memStore is an in-memory accessory store.
type memStore struct {
	mu      sync.Mutex
	records map[string]*accessory.Record
}

func newMemStore(recs ...*accessory.Record) *memStore {
	s := &memStore{records: make(map[string]*accessory.Record)}
	for _, r := range recs {
		s.records[r.UUID] = r.DeepCopy()
	}
	return s
}

func (s *memStore) List() []accessory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accessory.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

func (s *memStore) Get(uuid string) (*accessory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[uuid]
	if !ok {
		return nil, accessory.ErrAccessoryNotFound
	}
	return r.DeepCopy(), nil
}

func (s *memStore) Create(_ context.Context, rec *accessory.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.UUID]; ok {
		return accessory.ErrAccessoryExists
	}
	s.records[rec.UUID] = rec.DeepCopy()
	return nil
}

func (s *memStore) Update(_ context.Context, rec *accessory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.UUID]; !ok {
		return accessory.ErrAccessoryNotFound
	}
	s.records[rec.UUID] = rec.DeepCopy()
	return nil
}

func (s *memStore) Delete(_ context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[uuid]; !ok {
		return accessory.ErrAccessoryNotFound
	}
	delete(s.records, uuid)
	return nil
}

func (s *memStore) SetLastState(_ context.Context, uuid string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[uuid]
	if !ok {
		return accessory.ErrAccessoryNotFound
	}
	r.LastState = &on
	return nil
}

func (s *memStore) SetReachable(_ context.Context, uuid string, reachable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[uuid]
	if !ok {
		return accessory.ErrAccessoryNotFound
	}
	r.Reachable = reachable
	return nil
}

func (s *memStore) has(uuid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[uuid]
	return ok
}

// publishedMessage is one MQTT publish.
type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockMQTT records publishes and lets tests deliver messages.
type mockMQTT struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]mqtt.MessageHandler
	connected bool
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{handlers: make(map[string]mqtt.MessageHandler), connected: true}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// simulateCommand delivers a command as the broker would.
func (m *mockMQTT) simulateCommand(uuid string, payload []byte) error {
	m.mu.Lock()
	handler := m.handlers[mqtt.Topics{}.AllCommands()]
	m.mu.Unlock()
	if handler == nil {
		return errors.New("no command subscription")
	}
	return handler(mqtt.Topics{}.Command(uuid), payload)
}

// messages returns the payloads published to topic.
func (m *mockMQTT) messages(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type metricPoint struct {
	uuid  string
	on    bool
	watts float64
}

// mockMetrics records InfluxDB writes.
type mockMetrics struct {
	mu          sync.Mutex
	states      []metricPoint
	consumption []metricPoint
}

func (m *mockMetrics) WriteSwitchState(uuid, _, _ string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, metricPoint{uuid: uuid, on: on})
}

func (m *mockMetrics) WriteConsumption(uuid, _ string, watts float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumption = append(m.consumption, metricPoint{uuid: uuid, watts: watts})
}

// mockAuditor records audit entries.
type mockAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *mockAuditor) Create(_ context.Context, entry *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *entry)
	return nil
}

func (a *mockAuditor) actions(uuid string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		if e.EntityID == uuid {
			out = append(out, e.Action)
		}
	}
	return out
}

// mockBroadcaster records WebSocket broadcasts.
type mockBroadcaster struct {
	mu       sync.Mutex
	channels []string
}

func (b *mockBroadcaster) Broadcast(channel string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
}

func (b *mockBroadcaster) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.channels {
		if c == channel {
			n++
		}
	}
	return n
}

// plugDevice is a switchable outlet with a power reading.
func plugDevice(id, state string) almond.Device {
	return almond.Device{
		ID:           id,
		Name:         "Plug " + id,
		Type:         "48",
		Manufacturer: "Securifi",
		Model:        "Smart Plug",
		Values: map[string]almond.Value{
			"1": {ID: "1", Name: "SWITCH BINARY", Value: state},
			"2": {ID: "2", Name: "POWER", Value: "12.4"},
		},
	}
}

// dualSwitch is a device with two switch endpoints and a sensor value.
func dualSwitch(id string) almond.Device {
	return almond.Device{
		ID:   id,
		Name: "Dual " + id,
		Type: "43",
		Values: map[string]almond.Value{
			"1": {ID: "1", Name: "SWITCH_BINARY1", Value: "false"},
			"2": {ID: "2", Name: "SWITCH_BINARY2", Value: "true"},
			"3": {ID: "3", Name: "TEMPERATURE", Value: "21"},
		},
	}
}

// sensorDevice has no switch value.
func sensorDevice(id string) almond.Device {
	return almond.Device{
		ID:   id,
		Name: "Sensor " + id,
		Type: "7",
		Values: map[string]almond.Value{
			"1": {ID: "1", Name: "STATE", Value: "false"},
		},
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
