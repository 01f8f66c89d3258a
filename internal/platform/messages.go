package platform

import (
	"time"

	"github.com/nerrad567/almond-bridge/internal/almond"
)

// bridgeID names this bridge in health messages.
const bridgeID = "almond"

// StateMessage is the retained accessory state.
// Topic: almondbridge/state/almond/{uuid}
type StateMessage struct {
	UUID      string    `json:"uuid"`
	DeviceID  string    `json:"device_id"`
	ValueID   string    `json:"value_id"`
	On        bool      `json:"on"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage asks the bridge to switch an accessory.
// Topic: almondbridge/command/almond/{uuid}
type CommandMessage struct {
	// ID correlates the command with its ack. Optional.
	ID string `json:"id"`

	// On is the requested state. Required.
	On *bool `json:"on"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the hub accepted the new value.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was not executed.
	AckFailed AckStatus = "failed"
)

// Error codes carried in failed acks.
const (
	ErrCodeAccessoryNotFound = "ACCESSORY_NOT_FOUND"
	ErrCodeInvalidPayload    = "INVALID_PAYLOAD"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
)

// AckMessage answers a CommandMessage.
// Topic: almondbridge/ack/almond/{uuid}
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	UUID      string    `json:"uuid"`
	Status    AckStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LifecycleEvent names an accessory registration change.
type LifecycleEvent string

const (
	LifecycleRegistered   LifecycleEvent = "registered"
	LifecycleUnregistered LifecycleEvent = "unregistered"
)

// LifecycleMessage announces an accessory registration change.
// Topic: almondbridge/lifecycle/almond/{uuid}
type LifecycleMessage struct {
	UUID        string         `json:"uuid"`
	Event       LifecycleEvent `json:"event"`
	DisplayName string         `json:"display_name"`
	DeviceID    string         `json:"device_id"`
	ValueID     string         `json:"value_id"`
	Timestamp   time.Time      `json:"timestamp"`
}

// HealthStatus is the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge health.
// Topic: almondbridge/system/health, retained, every 30 seconds.
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Hub           HubStatus    `json:"hub"`
	Statistics    HubCounters  `json:"statistics"`
	Accessories   int          `json:"accessories"`
	Reason        string       `json:"reason,omitempty"`
}

// HubStatus describes the hub connection.
type HubStatus struct {
	Status       string     `json:"status"` // connected, reconnecting, disconnected
	Devices      int        `json:"devices"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// HubCounters are hub traffic counters.
type HubCounters struct {
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	EventsDropped    uint64 `json:"events_dropped"`
	Errors           uint64 `json:"errors"`
	Reconnects       uint64 `json:"reconnects"`
}

// NewStateMessage builds a state message stamped now.
func NewStateMessage(uuid, deviceID, valueID string, on bool) StateMessage {
	return StateMessage{
		UUID:      uuid,
		DeviceID:  deviceID,
		ValueID:   valueID,
		On:        on,
		Timestamp: time.Now().UTC(),
	}
}

// NewAckMessage builds an accepted ack.
func NewAckMessage(uuid, commandID string) AckMessage {
	return AckMessage{
		CommandID: commandID,
		UUID:      uuid,
		Status:    AckAccepted,
		Timestamp: time.Now().UTC(),
	}
}

// NewAckError builds a failed ack.
func NewAckError(uuid, commandID, code, message string) AckMessage {
	ack := NewAckMessage(uuid, commandID)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewHealthMessage builds a health message from hub stats.
func NewHealthMessage(version string, status HealthStatus, stats almond.Stats, accessories int, started time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(started).Seconds()),
		Hub: HubStatus{
			Status:  hubStatus(stats),
			Devices: stats.Devices,
		},
		Statistics: HubCounters{
			MessagesReceived: stats.MessagesRx,
			MessagesSent:     stats.MessagesTx,
			EventsDropped:    stats.EventsDropped,
			Errors:           stats.ErrorsTotal,
			Reconnects:       stats.Reconnects,
		},
		Accessories: accessories,
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		msg.Hub.LastActivity = &last
	}
	return msg
}

func hubStatus(stats almond.Stats) string {
	switch {
	case stats.Connected:
		return "connected"
	case stats.Reconnecting:
		return "reconnecting"
	}
	return "disconnected"
}
