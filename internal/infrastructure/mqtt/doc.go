// Package mqtt connects the bridge to an MQTT broker using
// github.com/eclipse/paho.mqtt.golang.
//
// The broker is optional. When enabled, the bridge publishes retained
// accessory state, answers switch commands and reports its health, so
// other home automation systems can follow and drive the same switches
// HomeKit sees.
//
// Topics follow a flat scheme, almondbridge/{category}/almond/{uuid}:
//
//	almondbridge/state/almond/{uuid}    retained accessory state
//	almondbridge/command/almond/{uuid}  {"id":"...","on":true}
//	almondbridge/ack/almond/{uuid}      command acknowledgement
//	almondbridge/system/health          retained bridge health
//	almondbridge/system/status          online/offline, set as LWT
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error { ... })
//
// Subscriptions are tracked and restored after a reconnect.
package mqtt
