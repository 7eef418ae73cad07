// Package influxdb records radio transmissions as InfluxDB time series.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurement
//
//	radio_transmission,device=LivingRoom:CornerLamp,state=on,source=command \
//	    elapsed_ms=42.1,repeats=6i,ok=true
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTransmission(influxdb.Transmission{Device: "Lamp", On: true, ...})
//
// Writes are batched according to config.yaml settings (batch_size,
// flush_interval). Write errors are delivered asynchronously to the callback
// set with SetOnError; connection and health check errors are returned
// directly.
package influxdb
