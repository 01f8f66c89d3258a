package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/almond-bridge/internal/accessory"
	"github.com/nerrad567/almond-bridge/internal/almond"
	"github.com/nerrad567/almond-bridge/internal/audit"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/mqtt"
)

const (
	// commandTimeout bounds a hub write triggered by MQTT.
	commandTimeout = 5 * time.Second

	// maxDisplayName matches the accessory record limit, in bytes.
	maxDisplayName = 64
)

// WebSocket channels.
const (
	ChannelState     = "accessory.state"
	ChannelLifecycle = "accessory.lifecycle"
)

// entry is one known accessory. adapter is nil until a hub device claims
// the accessory; entries still without one after the device list has been
// processed are pruned. record is replaced, never mutated, and only with
// mu held for writing.
type entry struct {
	record  *accessory.Record
	sw      Switch
	adapter *Adapter
}

// ControllerOptions holds the controller dependencies.
type ControllerOptions struct {
	Host     Host
	Hub      Hub
	Store    Store
	Logger   Logger
	Version  string

	// Optional.
	MQTT           MQTTClient
	Metrics        MetricsWriter
	Auditor        Auditor
	Broadcaster    Broadcaster
	HealthInterval time.Duration
}

// Controller reconciles hub devices with accessories.
// All methods are safe for concurrent use.
type Controller struct {
	host        Host
	hub         Hub
	store       Store
	mqtt        MQTTClient
	metrics     MetricsWriter
	auditor     Auditor
	broadcaster Broadcaster
	health      *HealthReporter
	logger      Logger

	// reconcileMu serialises changes to the accessory set.
	reconcileMu sync.Mutex
	mu          sync.RWMutex
	accessories map[string]*entry

	ready atomic.Bool

	sets       atomic.Uint64
	setErrors  atomic.Uint64
	gets       atomic.Uint64
	updates    atomic.Uint64
	registered atomic.Uint64
	pruned     atomic.Uint64
	failures   atomic.Uint64

	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once
}

// Metrics are controller counters.
type Metrics struct {
	Accessories  int    `json:"accessories"`
	Wired        int    `json:"wired"`
	Ready        bool   `json:"ready"`
	HubConnected bool   `json:"hub_connected"`
	Sets         uint64 `json:"sets"`
	SetErrors    uint64 `json:"set_errors"`
	Gets         uint64 `json:"gets"`
	Updates      uint64 `json:"updates"`
	Registered   uint64 `json:"registered"`
	Pruned       uint64 `json:"pruned"`
	Errors       uint64 `json:"errors"`
}

// AccessoryStatus is a snapshot of one accessory.
type AccessoryStatus struct {
	accessory.Record
	On    bool `json:"on"`
	Wired bool `json:"wired"`
}

// NewController creates a controller. Call Start to begin operation.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Host == nil {
		return nil, fmt.Errorf("host is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("accessory store is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		host:        opts.Host,
		hub:         opts.Hub,
		store:       opts.Store,
		mqtt:        opts.MQTT,
		metrics:     opts.Metrics,
		auditor:     opts.Auditor,
		broadcaster: opts.Broadcaster,
		logger:      opts.Logger,
		accessories: make(map[string]*entry),
		ctx:         ctx,
		ctxCancel:   cancel,
	}

	if opts.MQTT != nil {
		c.health = NewHealthReporter(HealthReporterConfig{
			Version:   opts.Version,
			Interval:  opts.HealthInterval,
			Publisher: opts.MQTT,
			Hub:       opts.Hub,
		})
		c.health.SetLogger(opts.Logger)
		c.health.SetAccessoryCount(c.count)
	}

	return c, nil
}

// Start restores persisted accessories, starts listening to the hub and,
// when MQTT is configured, subscribes to commands and starts health
// reporting.
func (c *Controller) Start(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrStopped
	}

	if c.health != nil {
		if err := c.health.PublishStarting(); err != nil {
			c.logger.Warn("failed to publish starting status", "error", err)
		}
	}

	restored := 0
	for _, rec := range c.store.List() {
		if err := c.ConfigureAccessory(ctx, &rec); err != nil {
			c.logger.Error("failed to restore accessory", "uuid", rec.UUID, "error", err)
			continue
		}
		restored++
	}
	c.logger.Info("restored cached accessories", "count", restored)

	c.hub.SetOnEvent(c.handleHubEvent)

	// The device list may have arrived before the callback was installed.
	if c.hub.IsConnected() {
		if devices := c.hub.Devices(); len(devices) > 0 {
			c.handleReady(devices)
		}
	}

	if c.mqtt != nil {
		topic := mqtt.Topics{}.AllCommands()
		if err := c.mqtt.Subscribe(topic, 1, c.handleCommand); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		c.logger.Info("subscribed to commands", "topic", topic)
		c.health.Start(c.ctx)
	}

	return nil
}

// Stop shuts the controller down. It is safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.ctxCancel()
		if c.health != nil {
			c.health.Stop()
		}
		c.logger.Info("controller stopped")
	})
}

// ConfigureAccessory restores one cached accessory. It stays unwired
// until a hub device claims it.
func (c *Controller) ConfigureAccessory(ctx context.Context, rec *accessory.Record) error {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	rec = rec.DeepCopy()
	rec.Reachable = true

	sw, err := c.host.Restore(rec)
	if err != nil {
		c.failures.Add(1)
		return fmt.Errorf("restoring accessory %s: %w", rec.UUID, err)
	}
	sw.SetReachable(true)

	if err := c.store.SetReachable(ctx, rec.UUID, true); err != nil {
		c.logger.Warn("failed to persist reachability", "uuid", rec.UUID, "error", err)
	}

	c.mu.Lock()
	c.accessories[rec.UUID] = &entry{record: rec, sw: sw}
	c.mu.Unlock()

	c.logger.Debug("configured cached accessory", "uuid", rec.UUID, "name", rec.DisplayName)
	c.audit(ctx, audit.ActionRestored, rec, audit.SourceSystem, nil)
	return nil
}

func (c *Controller) handleHubEvent(ev almond.Event) {
	switch ev.Type {
	case almond.EventReady:
		c.handleReady(ev.Devices)
	case almond.EventValueUpdated:
		c.handleValueUpdated(ev.DeviceID, ev.ValueID, ev.Value)
	case almond.EventDeviceAdded, almond.EventDeviceUpdated:
		if ev.Device != nil {
			if err := c.AddAccessory(c.ctx, *ev.Device); err != nil {
				c.logger.Error("failed to add accessory", "device_id", ev.DeviceID, "error", err)
			}
		}
	case almond.EventDeviceRemoved:
		c.RemoveDevice(c.ctx, ev.DeviceID)
	case almond.EventConnection:
		c.setReachable(ev.Connected)
	}
}

// handleReady adds every device, then prunes accessories no device claimed.
// The list is complete, so accessories wired by an earlier list but missing
// from this one lose their adapter first.
func (c *Controller) handleReady(devices []almond.Device) {
	c.logger.Info("hub device list received", "devices", len(devices))

	claimed := make(map[string]bool)
	for _, d := range devices {
		for _, v := range d.SwitchValues() {
			claimed[accessory.UUIDFor(d.ID, v.ID)] = true
		}
	}
	if n := c.unwireExcept(claimed); n > 0 {
		c.logger.Info("accessories no longer reported by hub", "count", n)
	}

	for _, d := range devices {
		if err := c.AddAccessory(c.ctx, d); err != nil {
			c.logger.Error("failed to add accessory", "device_id", d.ID, "error", err)
		}
	}

	n, err := c.PruneAccessories(c.ctx)
	if err != nil {
		c.logger.Error("failed to prune accessories", "error", err)
	}
	c.ready.Store(true)
	c.logger.Info("accessories reconciled", "accessories", c.count(), "pruned", n)

	if c.health != nil {
		if err := c.health.PublishNow(); err != nil {
			c.logger.Warn("failed to publish health", "error", err)
		}
	}
}

// AddAccessory creates or updates the accessories of one hub device, one
// per binary switch value, and wires each to a new Adapter. Devices
// without a switch value are logged and skipped.
//
// Accessories of the device whose value is no longer a switch value are
// unregistered.
func (c *Controller) AddAccessory(ctx context.Context, device almond.Device) error {
	values := device.SwitchValues()

	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	errs := c.removeStaleValues(ctx, device, values)
	if len(values) == 0 {
		c.logger.Info("device not supported",
			"device_id", device.ID,
			"name", device.Name,
			"type", device.Type,
			"friendly_type", device.FriendlyType)
		return errors.Join(errs...)
	}

	for _, v := range values {
		if err := c.addSwitchValue(ctx, device, v); err != nil {
			c.failures.Add(1)
			errs = append(errs, fmt.Errorf("value %s: %w", v.ID, err))
		}
	}
	return errors.Join(errs...)
}

// unwireExcept drops the adapter of every entry whose UUID is not in keep
// and returns how many were dropped.
func (c *Controller) unwireExcept(keep map[string]bool) int {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for uuid, e := range c.accessories {
		if e.adapter != nil && !keep[uuid] {
			e.adapter = nil
			n++
		}
	}
	return n
}

// removeStaleValues unregisters the accessories of device whose value is no
// longer a switch value. Callers hold reconcileMu.
func (c *Controller) removeStaleValues(ctx context.Context, device almond.Device, values []almond.Value) []error {
	keep := make(map[string]bool, len(values))
	for _, v := range values {
		keep[v.ID] = true
	}

	c.mu.RLock()
	var stale []*entry
	for _, e := range c.accessories {
		if e.record.DeviceID == device.ID && !keep[e.record.ValueID] {
			stale = append(stale, e)
		}
	}
	c.mu.RUnlock()

	var errs []error
	for _, e := range stale {
		if err := c.remove(ctx, e); err != nil {
			errs = append(errs, err)
			continue
		}
		c.pruned.Add(1)
	}
	return errs
}

func (c *Controller) addSwitchValue(ctx context.Context, device almond.Device, value almond.Value) error {
	uuid := accessory.UUIDFor(device.ID, value.ID)

	c.mu.RLock()
	e := c.accessories[uuid]
	c.mu.RUnlock()

	if e == nil {
		var err error
		if e, err = c.register(ctx, device, value, uuid); err != nil {
			return err
		}
	}

	// Readers hold only mu, so changes go to a copy swapped in below.
	c.mu.RLock()
	rec := e.record.DeepCopy()
	c.mu.RUnlock()

	changed := false
	if !e.sw.HasSwitchService() {
		e.sw.AddSwitchService(device.Name)
	}
	if rec.AddService(accessory.ServiceSwitch) {
		changed = true
	}
	if _, ok := device.PowerValue(); ok {
		if !e.sw.HasConsumption() {
			e.sw.EnableConsumption()
		}
		if rec.AddService(accessory.ServiceConsumption) {
			changed = true
		}
	}
	if device.Manufacturer != "" && device.Manufacturer != rec.Manufacturer {
		rec.Manufacturer = device.Manufacturer
		changed = true
	}
	if device.Model != "" && device.Model != rec.Model {
		rec.Model = device.Model
		changed = true
	}
	if changed {
		if err := c.store.Update(ctx, rec); err != nil {
			c.logger.Warn("failed to update accessory record", "uuid", uuid, "error", err)
		}
	}

	adapter := NewAdapter(e.sw, rec, device, c.hub, c)
	c.mu.Lock()
	e.record = rec
	e.adapter = adapter
	c.mu.Unlock()

	if p, ok := device.PowerValue(); ok {
		if watts, err := strconv.ParseFloat(p.Value, 64); err == nil {
			adapter.UpdateConsumption(watts)
		}
	}
	return nil
}

func (c *Controller) register(ctx context.Context, device almond.Device, value almond.Value, uuid string) (*entry, error) {
	rec := &accessory.Record{
		UUID:         uuid,
		DisplayName:  displayName(device, value),
		DeviceID:     device.ID,
		ValueID:      value.ID,
		Manufacturer: device.Manufacturer,
		Model:        device.Model,
		Reachable:    true,
	}

	if err := c.store.Create(ctx, rec); err != nil && !errors.Is(err, accessory.ErrAccessoryExists) {
		return nil, fmt.Errorf("persisting accessory: %w", err)
	}

	sw, err := c.host.Register(rec)
	if err != nil {
		if delErr := c.store.Delete(ctx, uuid); delErr != nil {
			c.logger.Warn("failed to roll back accessory record", "uuid", uuid, "error", delErr)
		}
		return nil, fmt.Errorf("registering accessory: %w", err)
	}

	e := &entry{record: rec, sw: sw}
	c.mu.Lock()
	c.accessories[uuid] = e
	c.mu.Unlock()

	c.registered.Add(1)
	c.logger.Info("accessory registered", "uuid", uuid, "name", rec.DisplayName, "device_id", device.ID)
	c.audit(ctx, audit.ActionRegistered, rec, audit.SourceHub, nil)
	c.publishLifecycle(rec, LifecycleRegistered)
	return e, nil
}

// PruneAccessories unregisters every accessory no hub device claimed and
// returns how many were removed.
func (c *Controller) PruneAccessories(ctx context.Context) (int, error) {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	c.mu.RLock()
	var stale []*entry
	for _, e := range c.accessories {
		if e.adapter == nil {
			stale = append(stale, e)
		}
	}
	c.mu.RUnlock()

	var errs []error
	removed := 0
	for _, e := range stale {
		if err := c.remove(ctx, e); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	c.pruned.Add(uint64(removed))
	return removed, errors.Join(errs...)
}

// RemoveDevice unregisters every accessory of a device the hub no longer
// reports. It returns how many were removed.
func (c *Controller) RemoveDevice(ctx context.Context, deviceID string) int {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	c.mu.RLock()
	var gone []*entry
	for _, e := range c.accessories {
		if e.record.DeviceID == deviceID {
			gone = append(gone, e)
		}
	}
	c.mu.RUnlock()

	removed := 0
	for _, e := range gone {
		if err := c.remove(ctx, e); err != nil {
			c.logger.Error("failed to remove accessory", "uuid", e.record.UUID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("device removed", "device_id", deviceID, "accessories", removed)
	}
	return removed
}

// remove must be called with reconcileMu held.
func (c *Controller) remove(ctx context.Context, e *entry) error {
	uuid := e.record.UUID
	if err := c.host.Unregister(uuid); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("unregistering %s: %w", uuid, err)
	}
	if err := c.store.Delete(ctx, uuid); err != nil && !errors.Is(err, accessory.ErrAccessoryNotFound) {
		c.logger.Warn("failed to delete accessory record", "uuid", uuid, "error", err)
	}

	c.mu.Lock()
	delete(c.accessories, uuid)
	c.mu.Unlock()

	c.logger.Info("accessory unregistered", "uuid", uuid, "name", e.record.DisplayName)
	c.audit(ctx, audit.ActionUnregistered, e.record, audit.SourceSystem, nil)
	c.publishLifecycle(e.record, LifecycleUnregistered)
	return nil
}

// SetSwitch switches an accessory on behalf of MQTT or the API, taking
// the same path as a HomeKit write.
func (c *Controller) SetSwitch(ctx context.Context, uuid string, on bool, source string) error {
	c.mu.RLock()
	e, ok := c.accessories[uuid]
	var adapter *Adapter
	if ok {
		adapter = e.adapter
	}
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrAccessoryNotFound, uuid)
	}
	if adapter == nil {
		return fmt.Errorf("%w: %s", ErrAccessoryNotWired, uuid)
	}
	return adapter.set(ctx, on, source)
}

// Accessory returns a snapshot of one accessory.
func (c *Controller) Accessory(uuid string) (AccessoryStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.accessories[uuid]
	if !ok {
		return AccessoryStatus{}, fmt.Errorf("%w: %s", ErrAccessoryNotFound, uuid)
	}
	return e.status(), nil
}

// Accessories returns a snapshot of every accessory ordered by name.
func (c *Controller) Accessories() []AccessoryStatus {
	c.mu.RLock()
	out := make([]AccessoryStatus, 0, len(c.accessories))
	for _, e := range c.accessories {
		out = append(out, e.status())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}

// status must be called with mu held.
func (e *entry) status() AccessoryStatus {
	return AccessoryStatus{
		Record: *e.record.DeepCopy(),
		On:     e.sw.On(),
		Wired:  e.adapter != nil,
	}
}

// GetMetrics returns controller counters.
func (c *Controller) GetMetrics() Metrics {
	c.mu.RLock()
	total := len(c.accessories)
	wired := 0
	for _, e := range c.accessories {
		if e.adapter != nil {
			wired++
		}
	}
	c.mu.RUnlock()

	return Metrics{
		Accessories:  total,
		Wired:        wired,
		Ready:        c.ready.Load(),
		HubConnected: c.hub.IsConnected(),
		Sets:         c.sets.Load(),
		SetErrors:    c.setErrors.Load(),
		Gets:         c.gets.Load(),
		Updates:      c.updates.Load(),
		Registered:   c.registered.Load(),
		Pruned:       c.pruned.Load(),
		Errors:       c.failures.Load(),
	}
}

func (c *Controller) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.accessories)
}

// adapters returns the wired adapters of deviceID, or all when deviceID
// is empty.
func (c *Controller) adapters(deviceID string) []*Adapter {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Adapter
	for _, e := range c.accessories {
		if e.adapter != nil && (deviceID == "" || e.record.DeviceID == deviceID) {
			out = append(out, e.adapter)
		}
	}
	return out
}

func (c *Controller) handleValueUpdated(deviceID, valueID, value string) {
	for _, a := range c.adapters(deviceID) {
		if a.Update(valueID, value) {
			continue
		}
		if a.IsPowerValue(valueID) {
			watts, err := strconv.ParseFloat(value, 64)
			if err != nil {
				c.logger.Debug("ignoring unparsable power reading", "device_id", deviceID, "value", value)
				continue
			}
			a.UpdateConsumption(watts)
		}
	}
}

func (c *Controller) setReachable(reachable bool) {
	adapters := c.adapters("")
	for _, a := range adapters {
		a.SetReachable(reachable)
		if err := c.store.SetReachable(c.ctx, a.UUID(), reachable); err != nil {
			c.logger.Warn("failed to persist reachability", "uuid", a.UUID(), "error", err)
		}
	}
	c.logger.Info("hub connection changed", "connected", reachable, "accessories", len(adapters))

	if c.health != nil {
		if err := c.health.PublishNow(); err != nil {
			c.logger.Warn("failed to publish health", "error", err)
		}
	}
}

// stateChanged implements stateSink.
func (c *Controller) stateChanged(a *Adapter, on bool) {
	c.updates.Add(1)

	if err := c.store.SetLastState(c.ctx, a.UUID(), on); err != nil {
		c.logger.Warn("failed to persist state", "uuid", a.UUID(), "error", err)
	}

	msg := NewStateMessage(a.UUID(), a.DeviceID(), a.ValueID(), on)
	if c.mqtt != nil {
		c.publishJSON(mqtt.Topics{}.State(a.UUID()), msg, true)
	}
	if c.metrics != nil {
		c.metrics.WriteSwitchState(a.UUID(), a.DeviceID(), a.ValueID(), on)
	}
	if c.broadcaster != nil {
		c.broadcaster.Broadcast(ChannelState, msg)
	}
	c.logger.Debug("switch state updated", "uuid", a.UUID(), "on", on)
}

// consumptionChanged implements stateSink.
func (c *Controller) consumptionChanged(a *Adapter, watts float64) {
	if c.metrics != nil {
		c.metrics.WriteConsumption(a.UUID(), a.DeviceID(), watts)
	}
}

// setCompleted implements stateSink.
func (c *Controller) setCompleted(a *Adapter, on bool, source string, err error) {
	c.sets.Add(1)
	details := map[string]any{"on": on}
	if err != nil {
		c.setErrors.Add(1)
		details["error"] = err.Error()
		c.logger.Warn("hub rejected switch change", "uuid", a.UUID(), "on", on, "source", source, "error", err)
	} else {
		c.logger.Debug("switch change sent to hub", "uuid", a.UUID(), "on", on, "source", source)
	}

	c.mu.RLock()
	var rec *accessory.Record
	if e, ok := c.accessories[a.UUID()]; ok {
		rec = e.record.DeepCopy()
	}
	c.mu.RUnlock()
	if rec != nil {
		c.audit(c.ctx, audit.ActionSet, rec, source, details)
	}
}

// stateRead implements stateSink.
func (c *Controller) stateRead(*Adapter) {
	c.gets.Add(1)
}

func (c *Controller) handleCommand(topic string, payload []byte) error {
	uuid := mqtt.UUIDFromTopic(topic)
	if uuid == "" {
		return fmt.Errorf("invalid command topic %q", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil || cmd.On == nil {
		c.publishAck(NewAckError(uuid, cmd.ID, ErrCodeInvalidPayload, "payload must be {\"id\":string,\"on\":bool}"))
		return nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	err := c.SetSwitch(ctx, uuid, *cmd.On, audit.SourceMQTT)
	switch {
	case err == nil:
		c.publishAck(NewAckMessage(uuid, cmd.ID))
	case errors.Is(err, ErrAccessoryNotFound):
		c.publishAck(NewAckError(uuid, cmd.ID, ErrCodeAccessoryNotFound, err.Error()))
	default:
		c.publishAck(NewAckError(uuid, cmd.ID, ErrCodeDeviceUnreachable, err.Error()))
	}
	return nil
}

func (c *Controller) publishAck(ack AckMessage) {
	c.publishJSON(mqtt.Topics{}.Ack(ack.UUID), ack, false)
}

func (c *Controller) publishLifecycle(rec *accessory.Record, event LifecycleEvent) {
	msg := LifecycleMessage{
		UUID:        rec.UUID,
		Event:       event,
		DisplayName: rec.DisplayName,
		DeviceID:    rec.DeviceID,
		ValueID:     rec.ValueID,
		Timestamp:   time.Now().UTC(),
	}
	if c.mqtt != nil {
		c.publishJSON(mqtt.Topics{}.Lifecycle(rec.UUID), msg, false)
	}
	if c.broadcaster != nil {
		c.broadcaster.Broadcast(ChannelLifecycle, msg)
	}
}

func (c *Controller) publishJSON(topic string, v any, retained bool) {
	if c.mqtt == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal MQTT payload", "topic", topic, "error", err)
		return
	}
	if err := c.mqtt.Publish(topic, payload, 1, retained); err != nil {
		c.logger.Warn("failed to publish", "topic", topic, "error", err)
	}
}

func (c *Controller) audit(ctx context.Context, action string, rec *accessory.Record, source string, details map[string]any) {
	if c.auditor == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["name"] = rec.DisplayName
	details["device_id"] = rec.DeviceID
	details["value_id"] = rec.ValueID

	entry := &audit.Entry{
		Action:     action,
		EntityType: audit.EntityAccessory,
		EntityID:   rec.UUID,
		Source:     source,
		Details:    details,
	}
	if err := c.auditor.Create(ctx, entry); err != nil {
		c.logger.Warn("failed to write audit entry", "action", action, "uuid", rec.UUID, "error", err)
	}
}

// displayName is "<device> (<value>)", cut to the record limit.
func displayName(device almond.Device, value almond.Value) string {
	name := device.Name + " (" + value.Name + ")"
	for len(name) > maxDisplayName {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}
