// Package influxdb records accessory history in InfluxDB using the
// official influxdb-client-go v2 library.
//
// Two measurements are written, both tagged with the accessory UUID and
// the hub device and value ids:
//
//	switch_state  on=true|false
//	consumption   watts=<float>
//
// Writes are non-blocking and batched; failures are delivered to the
// callback set with SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteSwitchState(uuid, "12", "1", true)
package influxdb
