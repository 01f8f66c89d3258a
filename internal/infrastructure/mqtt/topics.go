package mqtt

import (
	"fmt"
	"strings"
)

const (
	// TopicPrefix is the root of every bridge topic.
	TopicPrefix = "almondbridge"

	// Protocol names the hub in accessory topics.
	Protocol = "almond"
)

// Topics builds bridge topic names.
//
//	topics := mqtt.Topics{}
//	topics.State(uuid) // almondbridge/state/almond/{uuid}
type Topics struct{}

// State returns the retained state topic of an accessory.
func (Topics) State(uuid string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, uuid)
}

// Command returns the command topic of an accessory.
func (Topics) Command(uuid string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, uuid)
}

// Ack returns the acknowledgement topic of an accessory.
func (Topics) Ack(uuid string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, uuid)
}

// Lifecycle returns the topic announcing accessory registration changes.
func (Topics) Lifecycle(uuid string) string {
	return fmt.Sprintf("%s/lifecycle/%s/%s", TopicPrefix, Protocol, uuid)
}

// Health returns the retained bridge health topic.
func (Topics) Health() string {
	return TopicPrefix + "/system/health"
}

// SystemStatus returns the online/offline topic used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllCommands matches the command topic of every accessory.
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AllStates matches the state topic of every accessory.
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, Protocol)
}

// All matches every bridge topic.
func (Topics) All() string {
	return TopicPrefix + "/#"
}

// UUIDFromTopic returns the last level of an accessory topic, or "" when
// topic is not of the form prefix/category/protocol/uuid.
func UUIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix {
		return ""
	}
	return parts[3]
}
