package platform

import (
	"context"

	"github.com/nerrad567/almond-bridge/internal/accessory"
	"github.com/nerrad567/almond-bridge/internal/almond"
	"github.com/nerrad567/almond-bridge/internal/audit"
	"github.com/nerrad567/almond-bridge/internal/homekit"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/mqtt"
)

// Logger is the logging interface used by the controller.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Switch is the HomeKit handle of one accessory.
// It is satisfied by *homekit.Switch.
type Switch interface {
	UUID() string
	HasSwitchService() bool
	AddSwitchService(name string)
	HasConsumption() bool
	EnableConsumption()
	SetInformation(manufacturer, model string)
	SetReachable(reachable bool)
	OnGet(fn func() bool)
	OnSet(fn func(ctx context.Context, on bool) error)
	OnIdentify(fn func())
	UpdateOn(on bool)
	On() bool
	UpdateConsumption(watts int)
}

// Host publishes accessories to HomeKit.
type Host interface {
	// Restore rebuilds a cached accessory.
	Restore(rec *accessory.Record) (Switch, error)

	// Register publishes a new accessory.
	Register(rec *accessory.Record) (Switch, error)

	// Unregister removes an accessory.
	Unregister(uuid string) error
}

// Hub is the Almond hub. It is satisfied by *almond.Client.
type Hub interface {
	Devices() []almond.Device
	Device(id string) (almond.Device, bool)
	Value(deviceID, valueID string) (string, bool)
	SetValue(ctx context.Context, deviceID, valueID, value string) error
	SetOnEvent(fn func(almond.Event))
	IsConnected() bool
	Stats() almond.Stats
}

// Store persists accessory records. It is satisfied by *accessory.Registry.
type Store interface {
	List() []accessory.Record
	Get(uuid string) (*accessory.Record, error)
	Create(ctx context.Context, rec *accessory.Record) error
	Update(ctx context.Context, rec *accessory.Record) error
	Delete(ctx context.Context, uuid string) error
	SetLastState(ctx context.Context, uuid string, on bool) error
	SetReachable(ctx context.Context, uuid string, reachable bool) error
}

// MQTTClient is the broker connection. It is satisfied by *mqtt.Client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// MetricsWriter records history. It is satisfied by *influxdb.Client.
type MetricsWriter interface {
	WriteSwitchState(uuid, deviceID, valueID string, on bool)
	WriteConsumption(uuid, deviceID string, watts float64)
}

// Auditor records lifecycle events. It is satisfied by audit.Repository.
type Auditor interface {
	Create(ctx context.Context, entry *audit.Entry) error
}

// Broadcaster pushes events to WebSocket clients. It is satisfied by
// *api.Hub.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HomeKitHost adapts *homekit.Host to Host.
type HomeKitHost struct {
	*homekit.Host
}

// Restore implements Host.
func (h HomeKitHost) Restore(rec *accessory.Record) (Switch, error) {
	s, err := h.Host.Restore(rec)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Register implements Host.
func (h HomeKitHost) Register(rec *accessory.Record) (Switch, error) {
	s, err := h.Host.Register(rec)
	if err != nil {
		return nil, err
	}
	return s, nil
}
