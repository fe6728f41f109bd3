// Package influxdb writes relay telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks.
//
// # Measurements
//
//   - relay_transmission: one point per flooded frame (kind, size, airtime)
//   - relay_queue: periodic per-class queue depth and drop counts
//   - relay_duty_cycle: periodic per-gateway sub-band airtime
//   - relay_counters: periodic dispatcher, cache and bridge counters
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteQueueDepth("relay-a", "relay", 3, 64, 120, 0, time.Now())
//
// # Error Handling
//
// Writes are batched according to batch_size and flush_interval. Batch
// failures are delivered asynchronously to the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
