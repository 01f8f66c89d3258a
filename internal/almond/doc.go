// Package almond is a client for the Securifi Almond hub's local websocket API.
//
// The hub listens on ws://<host>:7681/<user>/<password> and speaks JSON.
// Requests carry a MobileInternalIndex that the hub echoes in its response;
// unsolicited "Dynamic*" messages report device and value changes.
//
// The client keeps a cache of the hub's devices, reconnects with
// exponential backoff, and delivers events to a single callback in the
// order the hub sent them:
//
//	hub := almond.New(almond.Config{URL: cfg.HubURL()})
//	hub.SetOnEvent(func(ev almond.Event) { ... })
//	go hub.Run(ctx) // blocks until ctx is cancelled
//
// After every (re)connection the full device list is fetched and an
// EventReady is emitted, so consumers can reconcile against it.
package almond
