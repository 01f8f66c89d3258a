// Package platform reconciles Almond hub devices with HomeKit accessories.
//
// The Controller is the lifecycle side. On Start it restores every
// persisted accessory, then waits for the hub's device list. Each device
// with a binary switch gets one accessory per switch value, identified by
// a UUID derived from the device and value ids, so the same accessory is
// found again after a restart. Accessories whose device is gone are
// pruned once the list has been processed.
//
// An Adapter is the state side. It binds one accessory to one hub value:
// HomeKit reads return the hub's cached value, HomeKit writes are sent to
// the hub, and hub updates are pushed to the switch characteristic. State
// changes also fan out to MQTT, InfluxDB, the audit log and WebSocket
// clients when those are configured.
//
// MQTT commands on almondbridge/command/almond/{uuid} take the same path
// as a HomeKit write and are acknowledged on almondbridge/ack/almond/{uuid}.
package platform
