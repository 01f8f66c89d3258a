// Package homekit serves bridged switch accessories over the HomeKit
// Accessory Protocol using github.com/brutella/hap.
//
// A Host owns the bridge accessory (id 1), the pairing store and the set
// of bridged accessories. Each accessory is represented by a *Switch
// handle built from a persisted accessory record:
//
//	host, err := homekit.NewHost(homekit.Config{Name: "Almond", Pin: "00102003", StoragePath: dir})
//	sw, err := host.Register(rec)
//	sw.OnSet(func(ctx context.Context, on bool) error { ... })
//	go host.Run(ctx)
//
// A hap server cannot change its accessory list once built, so Run
// restarts the server whenever accessories are added or removed. Bursts
// of changes, such as the initial device enumeration, are coalesced into
// a single restart after Config.ReloadDelay.
package homekit
